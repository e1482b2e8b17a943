// Package verification implements the kiosk login: account entry, iris
// verification over a three-frame batch, and escalation to a numeric
// fallback credential after repeated biometric failures.
package verification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"irisvault/internal/capture"
	"irisvault/internal/capture/device"
	"irisvault/internal/capture/sequencer"
	"irisvault/internal/gateway/models"
	"irisvault/internal/handoff"
	"irisvault/internal/platform/metrics"
	dErrors "irisvault/pkg/domain-errors"
	audit "irisvault/pkg/platform/audit"
)

// Mode is the login position.
type Mode string

const (
	ModeAccountEntry       Mode = "account_entry"
	ModeBiometricCapture   Mode = "biometric_capture"
	ModeFallbackCredential Mode = "fallback_credential"
	ModeDashboard          Mode = "dashboard"
)

const (
	DefaultTarget              = 3
	DefaultFailureThreshold    = 2
	DefaultCredentialMaxLength = 6

	MethodIris     = "iris"
	MethodFallback = "fallback_fingerprint"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = dErrors.New(dErrors.CodeInvalidState, "login has ended")
	// ErrBusy is returned while a collaborator call for this flow is in flight.
	ErrBusy = dErrors.New(dErrors.CodeInvalidState, "a verification is in progress")
)

// Session is the authenticated result handed to the dashboard.
type Session struct {
	UserID         string
	Name           string
	AccountNumber  string
	Method         string
	Confidence     float64
	Token          string
	TokenExpiresAt time.Time
}

// View is a point-in-time snapshot for presentation.
type View struct {
	ID               string
	Mode             Mode
	AccountNumber    string
	AccountName      string
	Failures         int
	FailureThreshold int
	Capture          *capture.Status
	Verifying        bool
	CredentialLength int
	DemoCredential   string
	Session          *Session
	Error            string
	ErrorCode        dErrors.Code
	Closed           bool
}

// Flow is one login instance. All methods are safe for concurrent use.
type Flow struct {
	mu sync.Mutex

	id            string
	gateway       Gateway
	captureOpts   capture.Options
	audit         AuditPublisher
	tokens        TokenIssuer
	logger        *slog.Logger
	metrics       *metrics.Metrics
	onChange      func(View)
	threshold     int
	credentialMax int

	mode           Mode
	accountNumber  string
	accountName    string
	failures       int
	capture        *capture.Step
	generation     uint64
	busy           bool
	cancel         context.CancelFunc
	inflight       sync.WaitGroup
	credential     string
	demoCredential string
	session        *Session
	lastErr        error
	closed         bool
}

type Option func(*Flow)

func WithAuditPublisher(p AuditPublisher) Option {
	return func(f *Flow) {
		f.audit = p
	}
}

// WithTokenIssuer signs a handoff token on every successful login.
func WithTokenIssuer(t TokenIssuer) Option {
	return func(f *Flow) {
		f.tokens = t
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(f *Flow) {
		f.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Flow) {
		f.metrics = m
	}
}

// WithObserver registers a callback invoked after every state change.
func WithObserver(fn func(View)) Option {
	return func(f *Flow) {
		f.onChange = fn
	}
}

func WithID(id string) Option {
	return func(f *Flow) {
		f.id = id
	}
}

// WithFailureThreshold sets how many failed biometric attempts escalate to
// the fallback credential.
func WithFailureThreshold(n int) Option {
	return func(f *Flow) {
		if n > 0 {
			f.threshold = n
		}
	}
}

func WithCredentialMaxLength(n int) Option {
	return func(f *Flow) {
		if n > 0 {
			f.credentialMax = n
		}
	}
}

// New returns a flow in ModeAccountEntry. A zero capture target defaults to
// DefaultTarget.
func New(gateway Gateway, captureOpts capture.Options, opts ...Option) (*Flow, error) {
	if gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if captureOpts.Sequence.Target == 0 {
		captureOpts.Sequence.Target = DefaultTarget
	}
	if err := captureOpts.Validate(); err != nil {
		return nil, fmt.Errorf("capture options: %w", err)
	}
	f := &Flow{
		id:            uuid.NewString(),
		gateway:       gateway,
		captureOpts:   captureOpts,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		threshold:     DefaultFailureThreshold,
		credentialMax: DefaultCredentialMaxLength,
		mode:          ModeAccountEntry,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.captureOpts.Logger == nil {
		f.captureOpts.Logger = f.logger
	}
	if f.captureOpts.Metrics == nil {
		f.captureOpts.Metrics = f.metrics
	}
	return f, nil
}

func (f *Flow) ID() string {
	return f.id
}

func (f *Flow) checkLocked(mode Mode) error {
	if f.closed {
		return ErrClosed
	}
	if f.mode != mode {
		return dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf("login is in %s, not %s", f.mode, mode))
	}
	if f.busy {
		return ErrBusy
	}
	return nil
}

// begin marks a collaborator call in flight and returns its context. The
// call outlives a cancelled request but not Cancel or Close.
func (f *Flow) beginLocked(ctx context.Context) context.Context {
	f.busy = true
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f.cancel = cancel
	f.inflight.Add(1)
	return ctx
}

// endLocked clears the in-flight marker and reports whether the call's
// outcome still applies.
func (f *Flow) endLocked(gen uint64) bool {
	f.busy = false
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	return !f.closed && gen == f.generation
}

// EnterAccount resolves the account and moves to ModeBiometricCapture. An
// unknown account leaves the flow in ModeAccountEntry with a "not enrolled"
// error.
func (f *Flow) EnterAccount(ctx context.Context, accountNumber string) error {
	accountNumber = strings.TrimSpace(accountNumber)

	f.mu.Lock()
	if err := f.checkLocked(ModeAccountEntry); err != nil {
		f.mu.Unlock()
		return err
	}
	if accountNumber == "" {
		f.lastErr = dErrors.New(dErrors.CodeValidation, "account number is required")
		err := f.lastErr
		f.mu.Unlock()
		f.notify()
		return err
	}
	gen := f.generation
	callCtx := f.beginLocked(ctx)
	f.mu.Unlock()
	f.notify()

	account, err := f.gateway.Balance(callCtx, accountNumber)
	f.inflight.Done()

	f.mu.Lock()
	if !f.endLocked(gen) {
		f.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		if dErrors.Is(err, dErrors.CodeAccountNotFound) {
			err = dErrors.Wrap(err, dErrors.CodeAccountNotFound, "Account not enrolled")
		}
		f.lastErr = err
		f.mu.Unlock()

		f.logger.WarnContext(ctx, "account lookup failed", "flow_id", f.id, "account_number", accountNumber, "error", err)
		if dErrors.Is(err, dErrors.CodeAccountNotFound) {
			f.emit(ctx, audit.Event{
				Action:        audit.EventAccountNotFound,
				AccountNumber: accountNumber,
				Reason:        dErrors.Message(err),
			})
		}
		f.notify()
		return err
	}
	f.accountNumber = accountNumber
	f.accountName = account.Name
	f.failures = 0
	f.mode = ModeBiometricCapture
	f.lastErr = nil
	f.mu.Unlock()

	f.logger.InfoContext(ctx, "account resolved", "flow_id", f.id, "account_number", accountNumber)
	f.startCapture(ctx)
	f.notify()
	return nil
}

// StartCapture restarts the batch. It is how the user recaptures after a
// failed attempt or retries after a device error.
func (f *Flow) StartCapture(ctx context.Context) error {
	f.mu.Lock()
	if err := f.checkLocked(ModeBiometricCapture); err != nil {
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()

	f.startCapture(ctx)
	f.notify()
	return nil
}

func (f *Flow) startCapture(ctx context.Context) {
	f.mu.Lock()
	f.generation++
	gen := f.generation
	f.lastErr = nil
	existing := f.capture
	f.capture = nil
	f.mu.Unlock()

	subCtx := context.WithoutCancel(ctx)
	onComplete := func(b sequencer.Batch) { f.verify(subCtx, gen, b) }

	if existing != nil {
		existing.Close()
	}
	st, err := capture.Open(ctx, f.captureOpts, onComplete, func(int) { f.notify() })

	f.mu.Lock()
	if gen != f.generation || f.closed || f.mode != ModeBiometricCapture {
		f.mu.Unlock()
		if st != nil {
			st.Close()
		}
		return
	}
	f.capture = st
	account := f.accountNumber
	if err != nil {
		f.lastErr = deviceError(err)
	}
	f.mu.Unlock()

	if err != nil {
		f.logger.WarnContext(ctx, "verification capture could not start", "flow_id", f.id, "error", err)
	}
	if kind := device.KindOf(err); kind != "" && kind != device.KindPlaybackBlocked {
		f.emit(ctx, audit.Event{
			Action:        audit.EventDeviceError,
			AccountNumber: account,
			Reason:        string(kind),
		})
	}
}

// CaptureFrame takes one manual capture. It reports whether a frame was
// appended.
func (f *Flow) CaptureFrame() (bool, error) {
	f.mu.Lock()
	if err := f.checkLocked(ModeBiometricCapture); err != nil {
		f.mu.Unlock()
		return false, err
	}
	st := f.capture
	f.mu.Unlock()
	if st == nil {
		return false, dErrors.New(dErrors.CodeDeviceUnavailable, "camera is not ready")
	}
	ok, err := st.CaptureOnce()
	if errors.Is(err, sequencer.ErrWrongMode) || errors.Is(err, sequencer.ErrCompleted) {
		return false, dErrors.Wrap(err, dErrors.CodeInvalidState, err.Error())
	}
	return ok, err
}

// Resume retries camera playback after a user gesture.
func (f *Flow) Resume(ctx context.Context) error {
	f.mu.Lock()
	if err := f.checkLocked(ModeBiometricCapture); err != nil {
		f.mu.Unlock()
		return err
	}
	st := f.capture
	f.mu.Unlock()
	if st == nil {
		return nil
	}
	err := st.Resume(ctx)
	f.mu.Lock()
	if err != nil {
		f.lastErr = deviceError(err)
	} else {
		f.lastErr = nil
	}
	f.mu.Unlock()
	f.notify()
	return err
}

// verify submits one completed batch. A match ends the login; anything else
// counts as one failed attempt. Attempts whose flow was cancelled or closed
// while the call was in flight are discarded uncounted.
func (f *Flow) verify(ctx context.Context, gen uint64, batch sequencer.Batch) {
	f.mu.Lock()
	if f.closed || gen != f.generation || f.mode != ModeBiometricCapture || f.busy {
		f.mu.Unlock()
		return
	}
	req := models.VerificationRequest{
		AccountNumber: f.accountNumber,
		Frames:        batch.Frames,
	}
	callCtx := f.beginLocked(ctx)
	f.mu.Unlock()
	f.notify()

	defer f.inflight.Done()

	f.logger.InfoContext(ctx, "submitting verification",
		"flow_id", f.id,
		"account_number", req.AccountNumber,
		"frames", batch.Len(),
	)
	result, err := f.gateway.Verify(callCtx, req)
	if err == nil && !result.Match {
		err = dErrors.New(dErrors.CodeVerificationFailed, orDefault(result.Reason, "Iris did not match"))
	}

	f.mu.Lock()
	if !f.endLocked(gen) {
		f.mu.Unlock()
		f.logger.InfoContext(ctx, "verification outcome discarded", "flow_id", f.id)
		return
	}
	if err == nil {
		st := f.finishLocked(Session{
			UserID:        result.UserID,
			Name:          orDefault(result.Name, f.accountName),
			AccountNumber: req.AccountNumber,
			Method:        MethodIris,
			Confidence:    result.Confidence,
		})
		f.mu.Unlock()
		if st != nil {
			st.Close()
		}

		f.metrics.IncrementVerification("match")
		f.logger.InfoContext(ctx, "iris verification succeeded", "flow_id", f.id, "account_number", req.AccountNumber)
		f.emit(ctx, audit.Event{
			Action:        audit.EventVerificationSuccess,
			AccountNumber: req.AccountNumber,
			UserID:        result.UserID,
			Success:       true,
			Details:       map[string]any{"confidence": result.Confidence},
		})
		f.issueToken(ctx)
		f.notify()
		return
	}

	f.failures++
	failures := f.failures
	f.lastErr = err
	var st *capture.Step
	escalated := failures >= f.threshold
	if escalated {
		f.mode = ModeFallbackCredential
		f.generation++
		f.credential = ""
		st, f.capture = f.capture, nil
	}
	f.mu.Unlock()
	if st != nil {
		st.Close()
	}

	outcome := "no_match"
	if dErrors.Is(err, dErrors.CodeNetwork) {
		outcome = "error"
	}
	f.metrics.IncrementVerification(outcome)
	f.logger.WarnContext(ctx, "iris verification failed",
		"flow_id", f.id,
		"account_number", req.AccountNumber,
		"failures", failures,
		"error", err,
	)
	f.emit(ctx, audit.Event{
		Action:        audit.EventVerificationFailed,
		AccountNumber: req.AccountNumber,
		Reason:        dErrors.Message(err),
		Details:       map[string]any{"failures": failures},
	})
	if escalated {
		f.metrics.IncrementFallbackEscalation()
		f.logger.InfoContext(ctx, "escalated to fallback credential", "flow_id", f.id, "account_number", req.AccountNumber)
		f.emit(ctx, audit.Event{
			Action:        audit.EventFallbackEscalated,
			AccountNumber: req.AccountNumber,
			Details:       map[string]any{"failures": failures},
		})
	}
	f.notify()
}

// finishLocked moves to ModeDashboard and returns the capture step to close.
func (f *Flow) finishLocked(s Session) *capture.Step {
	f.mode = ModeDashboard
	f.generation++
	f.session = &s
	f.lastErr = nil
	f.credential = ""
	st := f.capture
	f.capture = nil
	return st
}

func (f *Flow) issueToken(ctx context.Context) {
	if f.tokens == nil {
		return
	}
	f.mu.Lock()
	if f.session == nil {
		f.mu.Unlock()
		return
	}
	s := *f.session
	f.mu.Unlock()

	token, err := f.tokens.Issue(handoff.Principal{
		UserID:        s.UserID,
		Name:          s.Name,
		AccountNumber: s.AccountNumber,
		Method:        s.Method,
	})
	if err != nil {
		f.logger.ErrorContext(ctx, "failed to issue handoff token", "flow_id", f.id, "error", err)
		return
	}
	f.mu.Lock()
	if f.session != nil {
		f.session.Token = token.Value
		f.session.TokenExpiresAt = token.ExpiresAt
	}
	f.mu.Unlock()
}

// RequestDemoCredential fetches the account's demonstration credential so
// the kiosk can display it.
func (f *Flow) RequestDemoCredential(ctx context.Context) (string, error) {
	f.mu.Lock()
	if err := f.checkLocked(ModeFallbackCredential); err != nil {
		f.mu.Unlock()
		return "", err
	}
	gen := f.generation
	account := f.accountNumber
	callCtx := f.beginLocked(ctx)
	f.mu.Unlock()

	credential, err := f.gateway.DemoCredential(callCtx, account)
	f.inflight.Done()

	f.mu.Lock()
	if !f.endLocked(gen) {
		f.mu.Unlock()
		return "", ErrClosed
	}
	if err != nil {
		f.lastErr = err
	} else {
		f.demoCredential = credential
	}
	f.mu.Unlock()
	f.notify()
	return credential, err
}

func (f *Flow) validateCredential(credential string) error {
	if credential == "" || len(credential) > f.credentialMax {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("credential must be 1 to %d digits", f.credentialMax))
	}
	for _, r := range credential {
		if r < '0' || r > '9' {
			return dErrors.New(dErrors.CodeValidation, "credential must be numeric")
		}
	}
	return nil
}

// SubmitCredential checks the fallback credential. A mismatch keeps the flow
// in ModeFallbackCredential; it never counts toward the biometric failures.
func (f *Flow) SubmitCredential(ctx context.Context, credential string) error {
	credential = strings.TrimSpace(credential)

	f.mu.Lock()
	if err := f.checkLocked(ModeFallbackCredential); err != nil {
		f.mu.Unlock()
		return err
	}
	if err := f.validateCredential(credential); err != nil {
		f.lastErr = err
		f.mu.Unlock()
		f.notify()
		return err
	}
	f.credential = credential
	gen := f.generation
	account := f.accountNumber
	callCtx := f.beginLocked(ctx)
	f.mu.Unlock()
	f.notify()

	result, err := f.gateway.VerifyFallback(callCtx, models.FallbackRequest{
		AccountNumber: account,
		Credential:    credential,
	})
	f.inflight.Done()
	if err == nil && !result.Match {
		err = dErrors.New(dErrors.CodeFallbackMismatch, orDefault(result.Reason, "Credential did not match"))
	}

	f.mu.Lock()
	if !f.endLocked(gen) {
		f.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		f.lastErr = err
		f.mu.Unlock()

		outcome := "no_match"
		if dErrors.Is(err, dErrors.CodeNetwork) {
			outcome = "error"
		}
		f.metrics.IncrementFallbackOutcome(outcome)
		f.logger.WarnContext(ctx, "fallback verification failed", "flow_id", f.id, "account_number", account, "error", err)
		f.emit(ctx, audit.Event{
			Action:        audit.EventFallbackFailed,
			AccountNumber: account,
			Reason:        dErrors.Message(err),
		})
		f.notify()
		return err
	}
	f.finishLocked(Session{
		UserID:        result.UserID,
		Name:          orDefault(result.Name, f.accountName),
		AccountNumber: account,
		Method:        orDefault(result.Method, MethodFallback),
	})
	f.mu.Unlock()

	f.metrics.IncrementFallbackOutcome("match")
	f.logger.InfoContext(ctx, "fallback verification succeeded", "flow_id", f.id, "account_number", account)
	f.emit(ctx, audit.Event{
		Action:        audit.EventFallbackSuccess,
		AccountNumber: account,
		UserID:        result.UserID,
		Success:       true,
	})
	f.issueToken(ctx)
	f.notify()
	return nil
}

// RetryBiometric leaves the fallback credential for a fresh biometric
// attempt with the failure count reset.
func (f *Flow) RetryBiometric(ctx context.Context) error {
	f.mu.Lock()
	if err := f.checkLocked(ModeFallbackCredential); err != nil {
		f.mu.Unlock()
		return err
	}
	f.failures = 0
	f.credential = ""
	f.demoCredential = ""
	f.mode = ModeBiometricCapture
	f.lastErr = nil
	f.mu.Unlock()

	f.logger.InfoContext(ctx, "retrying biometric verification", "flow_id", f.id)
	f.startCapture(ctx)
	f.notify()
	return nil
}

// Cancel returns to ModeAccountEntry from capture or fallback, releasing the
// camera and forgetting the account. A verification in flight is aborted
// and will not count.
func (f *Flow) Cancel() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.mode != ModeBiometricCapture && f.mode != ModeFallbackCredential {
		f.mu.Unlock()
		return dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf("cannot cancel from %s", f.mode))
	}
	f.generation++
	f.mode = ModeAccountEntry
	f.accountNumber = ""
	f.accountName = ""
	f.failures = 0
	f.credential = ""
	f.demoCredential = ""
	f.lastErr = nil
	st := f.capture
	f.capture = nil
	cancel := f.cancel
	f.mu.Unlock()

	if st != nil {
		st.Close()
	}
	if cancel != nil {
		cancel()
	}
	f.notify()
	return nil
}

// Close releases the camera, cancels any in-flight call, and waits for it
// to return. It is idempotent.
func (f *Flow) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.generation++
	st := f.capture
	f.capture = nil
	cancel := f.cancel
	f.mu.Unlock()

	if st != nil {
		st.Close()
	}
	if cancel != nil {
		cancel()
	}
	f.inflight.Wait()
	f.notify()
}

// Snapshot returns the current view. The entered credential is reported by
// length only.
func (f *Flow) Snapshot() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := View{
		ID:               f.id,
		Mode:             f.mode,
		AccountNumber:    f.accountNumber,
		AccountName:      f.accountName,
		Failures:         f.failures,
		FailureThreshold: f.threshold,
		Verifying:        f.busy,
		CredentialLength: len(f.credential),
		DemoCredential:   f.demoCredential,
		Closed:           f.closed,
	}
	if f.session != nil {
		s := *f.session
		v.Session = &s
	}
	if f.capture != nil {
		status := f.capture.Status()
		v.Capture = &status
	}
	if f.lastErr != nil {
		v.Error = dErrors.Message(f.lastErr)
		v.ErrorCode = dErrors.CodeOf(f.lastErr)
	}
	return v
}

func (f *Flow) emit(ctx context.Context, event audit.Event) {
	if f.audit == nil {
		return
	}
	if err := f.audit.Emit(ctx, event); err != nil {
		f.logger.ErrorContext(ctx, "failed to emit audit event",
			"action", event.Action,
			"error", err,
		)
	}
}

func (f *Flow) notify() {
	if f.onChange != nil {
		f.onChange(f.Snapshot())
	}
}

func deviceError(err error) error {
	var derr *device.Error
	if errors.As(err, &derr) {
		return dErrors.Wrap(err, dErrors.CodeDeviceUnavailable, derr.Message)
	}
	return dErrors.Wrap(err, dErrors.CodeDeviceUnavailable, "unable to access the camera")
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
