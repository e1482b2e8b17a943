// Package httptransport exposes the enrollment and login flows to a kiosk
// front end. Flows are server-side state; the front end drives them with
// commands and polls their view.
package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"irisvault/internal/capture/device"
	"irisvault/internal/enrollment"
	"irisvault/internal/handoff"
	"irisvault/internal/platform/metrics"
	"irisvault/internal/ratelimit"
	"irisvault/internal/verification"
	dErrors "irisvault/pkg/domain-errors"
	audit "irisvault/pkg/platform/audit"
	"irisvault/pkg/platform/httputil"
	"irisvault/pkg/platform/middleware/admin"
	"irisvault/pkg/platform/middleware/auth"
	"irisvault/pkg/platform/middleware/metadata"
	"irisvault/pkg/platform/middleware/request"
	"irisvault/pkg/platform/middleware/requesttime"
	"irisvault/pkg/requestcontext"
)

// FlowFactory builds flows whose camera sessions check origin.
type FlowFactory interface {
	NewEnrollment(origin string, opts ...enrollment.Option) (*enrollment.Flow, error)
	NewLogin(origin string, opts ...verification.Option) (*verification.Flow, error)
}

// PrincipalValidator validates handoff tokens presented by the dashboard.
type PrincipalValidator interface {
	Validate(token string) (handoff.Principal, error)
}

// AuditTrail lists the recorded events of an account.
type AuditTrail interface {
	List(ctx context.Context, accountNumber string) ([]audit.Event, error)
}

// Handler serves the kiosk API.
type Handler struct {
	factory     FlowFactory
	enrollments *registry[*enrollment.Flow]
	logins      *registry[*verification.Flow]

	principals PrincipalValidator
	trail      AuditTrail
	adminToken string
	limiter    *ratelimit.Middleware
	logger     *slog.Logger
	metrics    *metrics.Metrics

	idleTTL   time.Duration
	stop      chan struct{}
	sweeping  sync.WaitGroup
	closeOnce sync.Once
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithPrincipalValidator enables GET /session.
func WithPrincipalValidator(v PrincipalValidator) Option {
	return func(h *Handler) {
		h.principals = v
	}
}

// WithAuditTrail enables GET /audit/{account_number} behind the admin token.
func WithAuditTrail(trail AuditTrail, adminToken string) Option {
	return func(h *Handler) {
		h.trail = trail
		h.adminToken = adminToken
	}
}

// WithRateLimiter throttles flow creation, account lookups, and fallback
// credentials per client.
func WithRateLimiter(m *ratelimit.Middleware) Option {
	return func(h *Handler) {
		h.limiter = m
	}
}

// WithFlowIdleTTL closes flows no request has touched for d, so an
// abandoned kiosk session does not keep the camera. Zero disables it.
func WithFlowIdleTTL(d time.Duration) Option {
	return func(h *Handler) {
		h.idleTTL = d
	}
}

func New(factory FlowFactory, opts ...Option) (*Handler, error) {
	if factory == nil {
		return nil, errors.New("flow factory is required")
	}
	h := &Handler{
		factory: factory,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.enrollments = newRegistry[*enrollment.Flow]("enrollment", h.idleTTL, h.metrics)
	h.logins = newRegistry[*verification.Flow]("login", h.idleTTL, h.metrics)
	h.stop = make(chan struct{})
	if h.idleTTL > 0 {
		h.sweeping.Add(1)
		go h.sweepLoop(sweepInterval(h.idleTTL))
	}
	return h, nil
}

func sweepInterval(ttl time.Duration) time.Duration {
	return max(ttl/4, time.Second)
}

func (h *Handler) sweepLoop(interval time.Duration) {
	defer h.sweeping.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.sweepIdle()
		}
	}
}

// sweepIdle closes idle flows of both kinds.
func (h *Handler) sweepIdle() {
	for _, id := range h.enrollments.sweep() {
		h.logger.Info("idle enrollment closed", "flow_id", id, "idle_ttl", h.idleTTL)
	}
	for _, id := range h.logins.sweep() {
		h.logger.Info("idle login closed", "flow_id", id, "idle_ttl", h.idleTTL)
	}
}

// NewRouter returns the API with the request middleware chain applied.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(request.Recovery(h.logger))
	r.Use(request.RequestID)
	r.Use(request.Logger(h.logger))
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	h.Register(r)
	return r
}

// Register mounts the kiosk endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.HandleHealth)

	limit := h.limiter.RateLimit

	r.Route("/enrollments", func(r chi.Router) {
		r.With(limit(ratelimit.ClassFlowCreate)).Post("/", h.HandleCreateEnrollment)
		r.Get("/{id}", h.HandleGetEnrollment)
		r.Post("/{id}/details", h.HandleSubmitDetails)
		r.Post("/{id}/capture", h.HandleEnrollmentCapture)
		r.Post("/{id}/frames", h.HandleEnrollmentFrame)
		r.Post("/{id}/resume", h.HandleEnrollmentResume)
		r.Post("/{id}/back", h.HandleEnrollmentBack)
		r.Delete("/{id}", h.HandleDeleteEnrollment)
	})

	r.Route("/logins", func(r chi.Router) {
		r.With(limit(ratelimit.ClassFlowCreate)).Post("/", h.HandleCreateLogin)
		r.Get("/{id}", h.HandleGetLogin)
		r.With(limit(ratelimit.ClassAccountLookup)).Post("/{id}/account", h.HandleEnterAccount)
		r.Post("/{id}/capture", h.HandleLoginCapture)
		r.Post("/{id}/frames", h.HandleLoginFrame)
		r.Post("/{id}/resume", h.HandleLoginResume)
		r.With(limit(ratelimit.ClassCredential)).Get("/{id}/demo-credential", h.HandleDemoCredential)
		r.With(limit(ratelimit.ClassCredential)).Post("/{id}/credential", h.HandleSubmitCredential)
		r.Post("/{id}/retry", h.HandleRetryBiometric)
		r.Post("/{id}/cancel", h.HandleCancelLogin)
		r.Delete("/{id}", h.HandleDeleteLogin)
	})

	if h.principals != nil {
		r.With(auth.RequireBearer(principalAdapter{h.principals}, h.logger)).
			Get("/session", h.HandleSession)
	}
	if h.trail != nil {
		r.With(admin.RequireAdminToken(h.adminToken, h.logger)).
			Get("/audit/{account_number}", h.HandleAuditTrail)
	}
}

// Close stops the idle sweeper and ends every live flow, releasing their
// cameras.
func (h *Handler) Close() {
	h.closeOnce.Do(func() {
		close(h.stop)
		h.sweeping.Wait()
	})
	h.enrollments.closeAll()
	h.logins.closeAll()
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"enrollments": h.enrollments.len(),
		"logins":      h.logins.len(),
	})
}

// HandleSession handles GET /session for the dashboard.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, PrincipalResponse{
		UserID:        claims.UserID,
		Name:          claims.Name,
		AccountNumber: claims.AccountNumber,
		Method:        claims.Method,
	})
}

// HandleAuditTrail handles GET /audit/{account_number}.
func (h *Handler) HandleAuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account := chi.URLParam(r, "account_number")
	events, err := h.trail.List(ctx, account)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list audit events",
			"request_id", requestcontext.RequestID(ctx),
			"account_number", account,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit events"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromAudit(account, events))
}

// writeOutcome writes the flow view unless err is a rejected command. Device
// failures are part of the view rather than a failed request.
func writeOutcome[V any](w http.ResponseWriter, err error, view V) {
	if err != nil && device.KindOf(err) == "" {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

type principalAdapter struct {
	v PrincipalValidator
}

func (a principalAdapter) ValidateToken(token string) (*auth.Claims, error) {
	p, err := a.v.Validate(token)
	if err != nil {
		return nil, err
	}
	return &auth.Claims{
		UserID:        p.UserID,
		Name:          p.Name,
		AccountNumber: p.AccountNumber,
		Method:        p.Method,
	}, nil
}
