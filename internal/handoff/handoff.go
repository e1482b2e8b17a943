// Package handoff issues the signed token that carries an authenticated
// kiosk session to the dashboard service.
package handoff

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "irisvault/pkg/domain-errors"
)

const (
	DefaultTTL      = 5 * time.Minute
	DefaultIssuer   = "irisvault-kiosk"
	DefaultAudience = "irisvault-dashboard"
)

// Principal is who the kiosk authenticated and how.
type Principal struct {
	UserID        string
	Name          string
	AccountNumber string
	// Method is "iris" or "fallback_fingerprint".
	Method string
}

// Claims are the handoff token claims.
type Claims struct {
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	Method        string `json:"amr"`
	jwt.RegisteredClaims
}

// Token is a signed handoff token.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Issuer signs and validates handoff tokens with HS256.
type Issuer struct {
	signingKey []byte
	issuer     string
	audience   string
	ttl        time.Duration
	now        func() time.Time
}

type Option func(*Issuer)

func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

func NewIssuer(signingKey string, opts ...Option) (*Issuer, error) {
	if signingKey == "" {
		return nil, errors.New("handoff signing key is required")
	}
	i := &Issuer{
		signingKey: []byte(signingKey),
		issuer:     DefaultIssuer,
		audience:   DefaultAudience,
		ttl:        DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue signs a token for p. The subject is the backend user ID.
func (i *Issuer) Issue(p Principal) (Token, error) {
	if p.UserID == "" {
		return Token{}, errors.New("principal user id is required")
	}
	now := i.now()
	expiresAt := now.Add(i.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Name:          p.Name,
		AccountNumber: p.AccountNumber,
		Method:        p.Method,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    i.issuer,
			Audience:  []string{i.audience},
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(i.signingKey)
	if err != nil {
		return Token{}, fmt.Errorf("sign handoff token: %w", err)
	}
	return Token{Value: signed, ExpiresAt: expiresAt}, nil
}

// Validate parses a token and returns its principal.
func (i *Issuer) Validate(value string) (Principal, error) {
	parsed, err := jwt.ParseWithClaims(value, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return i.signingKey, nil
	},
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return Principal{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Principal{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return Principal{
		UserID:        claims.Subject,
		Name:          claims.Name,
		AccountNumber: claims.AccountNumber,
		Method:        claims.Method,
	}, nil
}
