package handoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "irisvault/pkg/domain-errors"
)

var principal = Principal{
	UserID:        "5f0c8a2e-user",
	Name:          "Ada Lovelace",
	AccountNumber: "ACC1",
	Method:        "iris",
}

func Test_NewIssuer_RequiresKey(t *testing.T) {
	_, err := NewIssuer("")
	require.Error(t, err)
}

func Test_IssueAndValidate(t *testing.T) {
	issuer, err := NewIssuer("test-signing-key")
	require.NoError(t, err)

	token, err := issuer.Issue(principal)
	require.NoError(t, err)
	require.NotEmpty(t, token.Value)
	assert.WithinDuration(t, time.Now().Add(DefaultTTL), token.ExpiresAt, time.Minute)

	got, err := issuer.Validate(token.Value)
	require.NoError(t, err)
	assert.Equal(t, principal, got)
}

func Test_Issue_RequiresUserID(t *testing.T) {
	issuer, err := NewIssuer("test-signing-key")
	require.NoError(t, err)

	_, err = issuer.Issue(Principal{Name: "nobody"})
	require.Error(t, err)
}

func Test_Validate_ExpiredToken(t *testing.T) {
	now := time.Now()
	issuer, err := NewIssuer("test-signing-key",
		WithTTL(time.Minute),
		WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)

	token, err := issuer.Issue(principal)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = issuer.Validate(token.Value)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))
	assert.Equal(t, "token has expired", dErrors.Message(err))
}

func Test_Validate_WrongKey(t *testing.T) {
	issuer, _ := NewIssuer("key-a")
	other, _ := NewIssuer("key-b")

	token, err := issuer.Issue(principal)
	require.NoError(t, err)

	_, err = other.Validate(token.Value)
	require.Error(t, err)
	assert.Equal(t, "invalid token", dErrors.Message(err))
}

func Test_Validate_Garbage(t *testing.T) {
	issuer, _ := NewIssuer("key-a")
	_, err := issuer.Validate("invalid-token-string")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))
}
