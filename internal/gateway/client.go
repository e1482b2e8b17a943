// Package gateway is the kiosk's HTTP client for the biometric backend: account
// lookup, enrollment, verification, and the fallback credential endpoints.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"irisvault/internal/capture/device"
	"irisvault/internal/gateway/cache"
	"irisvault/internal/gateway/models"
	"irisvault/internal/platform/metrics"
	dErrors "irisvault/pkg/domain-errors"
	"irisvault/pkg/platform/circuit"
)

const tracerName = "irisvault/internal/gateway"

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("biometric service circuit open")

// Client talks to the biometric backend. Transport failures and open-circuit
// rejections surface as dErrors.CodeNetwork.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	breaker *circuit.Breaker
	cache   cache.AccountCache
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithTimeout bounds each collaborator call. Zero leaves calls unbounded.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.timeout = d
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(cl *Client) {
		cl.breaker = b
	}
}

func WithAccountCache(c cache.AccountCache) Option {
	return func(cl *Client) {
		cl.cache = c
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) {
		cl.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cl *Client) {
		cl.tracer = tp.Tracer(tracerName)
	}
}

// NewClient builds a client rooted at baseURL, which includes any /api prefix.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("gateway base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse gateway base URL: %w", err)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		breaker: circuit.New("biometric-gateway"),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		c.http.Timeout = c.timeout
	}
	return c, nil
}

type balanceResponse struct {
	AccountNumber string  `json:"account_number"`
	Balance       float64 `json:"balance"`
	Name          string  `json:"name"`
}

// Balance resolves an account. Any non-2xx response means the account is not
// enrolled.
func (c *Client) Balance(ctx context.Context, accountNumber string) (models.Account, error) {
	if c.cache != nil {
		account, ok, err := c.cache.Get(ctx, accountNumber)
		if err != nil {
			c.logger.WarnContext(ctx, "account cache read failed", "error", err)
		} else if ok {
			return account, nil
		}
	}

	var resp balanceResponse
	status, _, err := c.do(ctx, "balance", http.MethodGet, "/account/"+url.PathEscape(accountNumber)+"/balance", nil, &resp)
	if err != nil {
		return models.Account{}, err
	}
	if !isSuccess(status) {
		return models.Account{}, dErrors.New(dErrors.CodeAccountNotFound, "account not enrolled")
	}

	account := models.Account{
		AccountNumber: resp.AccountNumber,
		Name:          resp.Name,
		Balance:       resp.Balance,
	}
	if account.AccountNumber == "" {
		account.AccountNumber = accountNumber
	}
	if c.cache != nil {
		if err := c.cache.Set(ctx, account); err != nil {
			c.logger.WarnContext(ctx, "account cache write failed", "error", err)
		}
	}
	return account, nil
}

type enrollRequest struct {
	Name          string   `json:"name"`
	AccountNumber string   `json:"account_number"`
	Email         string   `json:"email"`
	Consent       bool     `json:"consent"`
	Frames        []string `json:"frames"`
}

type enrollResponse struct {
	Success       bool    `json:"success"`
	EnrollmentID  string  `json:"enrollment_id"`
	AccountNumber string  `json:"account_number"`
	QualityScore  float64 `json:"quality_score"`
	Message       string  `json:"message"`
}

// Enroll submits an identity with its frame batch. A non-2xx response is
// returned as dErrors.CodeEnrollmentRejected carrying the backend detail.
func (c *Client) Enroll(ctx context.Context, req models.EnrollmentRequest) (models.EnrollmentResult, error) {
	body := enrollRequest{
		Name:          req.Name,
		AccountNumber: req.AccountNumber,
		Email:         req.Email,
		Consent:       req.Consent,
		Frames:        encodeFrames(req.Frames),
	}
	var resp enrollResponse
	status, detail, err := c.do(ctx, "enroll", http.MethodPost, "/enroll", body, &resp)
	if err != nil {
		return models.EnrollmentResult{}, err
	}
	if !isSuccess(status) {
		return models.EnrollmentResult{}, dErrors.New(dErrors.CodeEnrollmentRejected, orDefault(detail, "enrollment failed"))
	}
	return models.EnrollmentResult{
		Success:       resp.Success,
		EnrollmentID:  resp.EnrollmentID,
		AccountNumber: resp.AccountNumber,
		QualityScore:  resp.QualityScore,
		Message:       resp.Message,
	}, nil
}

type verifyRequest struct {
	AccountNumber string   `json:"account_number"`
	Frames        []string `json:"frames"`
}

type verifyResponse struct {
	Success       bool    `json:"success"`
	Match         bool    `json:"match"`
	Confidence    float64 `json:"confidence"`
	UserID        string  `json:"user_id"`
	Name          string  `json:"name"`
	AccountNumber string  `json:"account_number"`
	Reason        string  `json:"reason"`
}

// Verify submits a frame batch for matching. A non-2xx response is returned
// as dErrors.CodeVerificationFailed.
func (c *Client) Verify(ctx context.Context, req models.VerificationRequest) (models.VerificationResult, error) {
	var resp verifyResponse
	status, detail, err := c.do(ctx, "verify", http.MethodPost, "/verify", verifyRequest{
		AccountNumber: req.AccountNumber,
		Frames:        encodeFrames(req.Frames),
	}, &resp)
	if err != nil {
		return models.VerificationResult{}, err
	}
	if !isSuccess(status) {
		return models.VerificationResult{}, dErrors.New(dErrors.CodeVerificationFailed, orDefault(detail, "verification failed"))
	}
	return models.VerificationResult{
		Success:       resp.Success,
		Match:         resp.Match,
		Confidence:    resp.Confidence,
		UserID:        resp.UserID,
		Name:          resp.Name,
		AccountNumber: resp.AccountNumber,
		Reason:        resp.Reason,
	}, nil
}

type demoCredentialResponse struct {
	AccountNumber string `json:"account_number"`
	DemoPIN       string `json:"demo_pin"`
}

// DemoCredential fetches the fallback credential the demo backend exposes.
func (c *Client) DemoCredential(ctx context.Context, accountNumber string) (string, error) {
	var resp demoCredentialResponse
	status, detail, err := c.do(ctx, "demo_credential", http.MethodGet, "/fallback/pin/"+url.PathEscape(accountNumber), nil, &resp)
	if err != nil {
		return "", err
	}
	if !isSuccess(status) || resp.DemoPIN == "" {
		return "", dErrors.New(dErrors.CodeNotFound, orDefault(detail, "demo credential unavailable"))
	}
	return resp.DemoPIN, nil
}

type fallbackRequest struct {
	AccountNumber  string `json:"account_number"`
	FingerprintPIN string `json:"fingerprint_pin"`
}

type fallbackResponse struct {
	Success bool   `json:"success"`
	Match   bool   `json:"match"`
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	Method  string `json:"method"`
	Reason  string `json:"reason"`
}

// VerifyFallback checks the fallback credential. A non-2xx response is
// returned as dErrors.CodeFallbackMismatch.
func (c *Client) VerifyFallback(ctx context.Context, req models.FallbackRequest) (models.FallbackResult, error) {
	var resp fallbackResponse
	status, detail, err := c.do(ctx, "fallback_verify", http.MethodPost, "/fallback/verify", fallbackRequest{
		AccountNumber:  req.AccountNumber,
		FingerprintPIN: req.Credential,
	}, &resp)
	if err != nil {
		return models.FallbackResult{}, err
	}
	if !isSuccess(status) {
		return models.FallbackResult{}, dErrors.New(dErrors.CodeFallbackMismatch, orDefault(detail, "fallback verification failed"))
	}
	return models.FallbackResult{
		Success: resp.Success,
		Match:   resp.Match,
		UserID:  resp.UserID,
		Name:    resp.Name,
		Method:  resp.Method,
		Reason:  resp.Reason,
	}, nil
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// do performs one call. On a 2xx response the body is decoded into out. On
// other responses the backend's detail message is returned. err is only set
// for transport failures, open circuits, and undecodable 2xx bodies.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) (int, string, error) {
	ctx, span := c.tracer.Start(ctx, "gateway."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	defer span.End()

	start := time.Now()
	if !c.breaker.Allow() {
		c.metrics.ObserveGatewayCall(op, "circuit_open", time.Since(start))
		span.SetStatus(codes.Error, "circuit open")
		return 0, "", dErrors.Wrap(ErrCircuitOpen, dErrors.CodeNetwork, "biometric service unavailable")
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, "", fmt.Errorf("marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, "", fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// A caller abandoning its call says nothing about collaborator health.
		if errors.Is(ctx.Err(), context.Canceled) {
			c.metrics.ObserveGatewayCall(op, "cancelled", time.Since(start))
			span.SetStatus(codes.Error, "cancelled")
			return 0, "", dErrors.Wrap(err, dErrors.CodeNetwork, "biometric service call cancelled")
		}
		c.recordFailure(ctx, op)
		c.metrics.ObserveGatewayCall(op, "network", time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return 0, "", dErrors.Wrap(err, dErrors.CodeNetwork, "unable to reach biometric service")
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusInternalServerError {
		c.recordFailure(ctx, op)
	} else {
		c.recordSuccess(ctx)
	}

	if !isSuccess(resp.StatusCode) {
		c.metrics.ObserveGatewayCall(op, "rejected", time.Since(start))
		span.SetStatus(codes.Error, resp.Status)
		detail := readDetail(resp.Body)
		c.logger.InfoContext(ctx, "biometric service rejected call",
			"operation", op,
			"status", resp.StatusCode,
			"detail", detail,
		)
		return resp.StatusCode, detail, nil
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.metrics.ObserveGatewayCall(op, "bad_response", time.Since(start))
			span.RecordError(err)
			return resp.StatusCode, "", dErrors.Wrap(err, dErrors.CodeNetwork, "unexpected response from biometric service")
		}
	}
	c.metrics.ObserveGatewayCall(op, "ok", time.Since(start))
	return resp.StatusCode, "", nil
}

func (c *Client) recordFailure(ctx context.Context, op string) {
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.WarnContext(ctx, "biometric service circuit opened",
			"breaker", c.breaker.Name(),
			"operation", op,
		)
	}
}

func (c *Client) recordSuccess(ctx context.Context) {
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "biometric service circuit closed", "breaker", c.breaker.Name())
	}
}

// readDetail extracts the "detail" field of an error body, falling back to
// the raw text.
func readDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var er errorResponse
	if err := json.Unmarshal(raw, &er); err == nil && er.Detail != "" {
		return er.Detail
	}
	return strings.TrimSpace(string(raw))
}

func encodeFrames(batch []device.Frame) []string {
	frames := make([]string, len(batch))
	for i, f := range batch {
		frames[i] = f.Base64()
	}
	return frames
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
