// Package fake is an in-memory stand-in for the biometric backend. It serves
// the same HTTP contract as the real service so the kiosk can run offline
// and tests can exercise the client end to end.
package fake

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/image/draw"
)

const (
	signatureSize   = 16
	defaultBalance  = 1000.00
	matchThreshold  = 0.90
	minEnrollFrames = 3
	minVerifyFrames = 2
)

// Matcher decides whether a verification batch matches the enrolled template.
type Matcher func(enrolled, probe []float64) (match bool, confidence float64)

type account struct {
	userID   string
	name     string
	email    string
	balance  float64
	template []float64
}

// Server holds enrolled accounts in memory.
type Server struct {
	mu       sync.Mutex
	accounts map[string]*account
	matcher  Matcher
}

type Option func(*Server)

// WithMatcher replaces the default luminance-signature matcher.
func WithMatcher(m Matcher) Option {
	return func(s *Server) {
		s.matcher = m
	}
}

func New(opts ...Option) *Server {
	s := &Server{
		accounts: make(map[string]*account),
		matcher:  SignatureMatcher,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the backend routes mounted under /api.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/account/{accountNumber}/balance", s.handleBalance)
		r.Post("/enroll", s.handleEnroll)
		r.Post("/verify", s.handleVerify)
		r.Get("/fallback/pin/{accountNumber}", s.handleDemoPIN)
		r.Post("/fallback/verify", s.handleFallbackVerify)
	})
	return r
}

// DemoCredential derives the six-digit fallback credential for an account.
func DemoCredential(accountNumber string) string {
	sum := sha256.Sum256([]byte(accountNumber))
	return fmt.Sprintf("%06d", binary.BigEndian.Uint32(sum[:4])%1_000_000)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	accountNumber := chi.URLParam(r, "accountNumber")
	s.mu.Lock()
	acc, ok := s.accounts[accountNumber]
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "Account not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_number": accountNumber,
		"balance":        acc.balance,
		"name":           acc.name,
	})
}

type enrollBody struct {
	Name          string   `json:"name"`
	AccountNumber string   `json:"account_number"`
	Email         string   `json:"email"`
	Consent       bool     `json:"consent"`
	Frames        []string `json:"frames"`
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var body enrollBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if !body.Consent {
		writeDetail(w, http.StatusBadRequest, "Biometric consent required")
		return
	}
	if len(body.Frames) < minEnrollFrames {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Minimum %d frames required", minEnrollFrames))
		return
	}
	template, err := batchSignature(body.Frames)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Failed to create biometric template")
		return
	}

	s.mu.Lock()
	if _, exists := s.accounts[body.AccountNumber]; exists {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "Account already enrolled")
		return
	}
	s.accounts[body.AccountNumber] = &account{
		userID:   uuid.NewString(),
		name:     body.Name,
		email:    body.Email,
		balance:  defaultBalance,
		template: template,
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"enrollment_id":  uuid.NewString(),
		"account_number": body.AccountNumber,
		"quality_score":  qualityScore(len(body.Frames)),
		"message":        "Enrollment successful",
	})
}

type verifyBody struct {
	AccountNumber string   `json:"account_number"`
	Frames        []string `json:"frames"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var body verifyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	s.mu.Lock()
	acc, ok := s.accounts[body.AccountNumber]
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "Account not found")
		return
	}
	if len(body.Frames) < minVerifyFrames {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Minimum %d frames required", minVerifyFrames))
		return
	}
	probe, err := batchSignature(body.Frames)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    false,
			"match":      false,
			"confidence": 0.0,
			"reason":     "Failed to process frames",
		})
		return
	}

	match, confidence := s.matcher(acc.template, probe)
	if !match {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    false,
			"match":      false,
			"confidence": confidence,
			"reason":     "Biometric match failed",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"match":          true,
		"confidence":     confidence,
		"user_id":        acc.userID,
		"name":           acc.name,
		"account_number": body.AccountNumber,
	})
}

func (s *Server) handleDemoPIN(w http.ResponseWriter, r *http.Request) {
	accountNumber := chi.URLParam(r, "accountNumber")
	writeJSON(w, http.StatusOK, map[string]any{
		"account_number": accountNumber,
		"demo_pin":       DemoCredential(accountNumber),
	})
}

type fallbackBody struct {
	AccountNumber  string `json:"account_number"`
	FingerprintPIN string `json:"fingerprint_pin"`
}

func (s *Server) handleFallbackVerify(w http.ResponseWriter, r *http.Request) {
	var body fallbackBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	s.mu.Lock()
	acc, ok := s.accounts[body.AccountNumber]
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "Account not found")
		return
	}
	if body.FingerprintPIN != DemoCredential(body.AccountNumber) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"match":   false,
			"reason":  "Invalid fingerprint PIN",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"match":   true,
		"user_id": acc.userID,
		"name":    acc.name,
		"method":  "fallback_fingerprint",
	})
}

// SignatureMatcher compares mean luminance grids. Confidence is one minus the
// mean absolute difference.
func SignatureMatcher(enrolled, probe []float64) (bool, float64) {
	if len(enrolled) != len(probe) || len(enrolled) == 0 {
		return false, 0
	}
	var diff float64
	for i := range enrolled {
		diff += math.Abs(enrolled[i] - probe[i])
	}
	confidence := 1 - diff/float64(len(enrolled))
	return confidence >= matchThreshold, math.Round(confidence*1000) / 1000
}

// batchSignature averages the per-frame signatures of a batch.
func batchSignature(frames []string) ([]float64, error) {
	sum := make([]float64, signatureSize*signatureSize)
	for _, f := range frames {
		sig, err := frameSignature(f)
		if err != nil {
			return nil, err
		}
		for i, v := range sig {
			sum[i] += v
		}
	}
	for i := range sum {
		sum[i] /= float64(len(frames))
	}
	return sum, nil
}

// frameSignature downsamples a JPEG to a 16x16 grid of luminance in [0,1].
func frameSignature(payload string) ([]float64, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg: %w", err)
	}
	small := image.NewGray(image.Rect(0, 0, signatureSize, signatureSize))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)
	sig := make([]float64, len(small.Pix))
	for i, p := range small.Pix {
		sig[i] = float64(p) / 255
	}
	return sig, nil
}

func qualityScore(frames int) float64 {
	score := 0.6 + 0.08*float64(frames)
	return math.Min(score, 0.98)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
