// Package enrollment implements the three-step enrollment wizard: identity
// details, a five-frame capture, and the result of the single submission that
// capture completion triggers.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"irisvault/internal/capture"
	"irisvault/internal/capture/device"
	"irisvault/internal/capture/sequencer"
	"irisvault/internal/gateway/models"
	"irisvault/internal/platform/metrics"
	dErrors "irisvault/pkg/domain-errors"
	audit "irisvault/pkg/platform/audit"
)

// Step is the wizard position.
type Step string

const (
	StepDetails Step = "details"
	StepCapture Step = "capture"
	StepResult  Step = "result"
)

// DefaultTarget is the enrollment batch size.
const DefaultTarget = 5

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = dErrors.New(dErrors.CodeInvalidState, "enrollment has ended")
	// ErrSubmitting is returned when an operation would disturb the in-flight
	// submission.
	ErrSubmitting = dErrors.New(dErrors.CodeInvalidState, "enrollment is being submitted")
)

// Details is the identity form.
type Details struct {
	Name          string
	AccountNumber string
	Email         string
	Consent       bool
}

// View is a point-in-time snapshot for presentation.
type View struct {
	ID         string
	Step       Step
	Details    Details
	Capture    *capture.Status
	Submitting bool
	Result     *models.EnrollmentResult
	Error      string
	ErrorCode  dErrors.Code
	Closed     bool
}

// Flow is one enrollment wizard instance. All methods are safe for
// concurrent use; completion of the capture batch arrives on the
// sequencer's goroutine.
type Flow struct {
	mu sync.Mutex

	id          string
	enroller    Enroller
	captureOpts capture.Options
	audit       AuditPublisher
	logger      *slog.Logger
	metrics     *metrics.Metrics
	onChange    func(View)

	step       Step
	details    Details
	capture    *capture.Step
	generation uint64
	submitting bool
	cancel     context.CancelFunc
	inflight   sync.WaitGroup
	result     *models.EnrollmentResult
	lastErr    error
	closed     bool
}

type Option func(*Flow)

func WithAuditPublisher(p AuditPublisher) Option {
	return func(f *Flow) {
		f.audit = p
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

// WithID overrides the generated flow identifier.
func WithID(id string) Option {
	return func(f *Flow) {
		f.id = id
	}
}

// New returns a flow in StepDetails. A zero capture target defaults to
// DefaultTarget.
func New(enroller Enroller, captureOpts capture.Options, opts ...Option) (*Flow, error) {
	if enroller == nil {
		return nil, errors.New("enroller is required")
	}
	if captureOpts.Sequence.Target == 0 {
		captureOpts.Sequence.Target = DefaultTarget
	}
	if err := captureOpts.Validate(); err != nil {
		return nil, fmt.Errorf("capture options: %w", err)
	}
	f := &Flow{
		id:          uuid.NewString(),
		enroller:    enroller,
		captureOpts: captureOpts,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		step:        StepDetails,
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

// validateDetails trims d and rejects missing fields or absent consent.
func validateDetails(d Details) (Details, error) {
	d.Name = strings.TrimSpace(d.Name)
	d.AccountNumber = strings.TrimSpace(d.AccountNumber)
	d.Email = strings.TrimSpace(d.Email)

	var missing []string
	if d.Name == "" {
		missing = append(missing, "name")
	}
	if d.AccountNumber == "" {
		missing = append(missing, "account number")
	}
	if d.Email == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		return d, dErrors.New(dErrors.CodeValidation, strings.Join(missing, ", ")+" required")
	}
	if !d.Consent {
		return d, dErrors.New(dErrors.CodeValidation, "biometric consent is required")
	}
	return d, nil
}

// SubmitDetails validates the identity form and moves to StepCapture,
// acquiring the camera. A rejected form leaves the flow in StepDetails. A
// device error does not undo the transition; it is reported in the view and
// StartCapture retries.
func (f *Flow) SubmitDetails(ctx context.Context, d Details) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.step != StepDetails {
		f.mu.Unlock()
		return dErrors.New(dErrors.CodeInvalidState, "details already submitted")
	}
	valid, err := validateDetails(d)
	if err != nil {
		f.lastErr = err
		f.mu.Unlock()
		f.notify()
		return err
	}
	f.details = valid
	f.step = StepCapture
	f.lastErr = nil
	f.mu.Unlock()

	f.logger.InfoContext(ctx, "enrollment details accepted",
		"flow_id", f.id,
		"account_number", valid.AccountNumber,
	)
	f.startCapture(ctx)
	f.notify()
	return nil
}

// StartCapture reacquires the camera and restarts the sequence. It is how the
// user retries after a device error or recaptures after a rejection.
func (f *Flow) StartCapture(ctx context.Context) error {
	f.mu.Lock()
	if err := f.captureStepLocked(); err != nil {
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()

	f.startCapture(ctx)
	f.notify()
	return nil
}

func (f *Flow) captureStepLocked() error {
	if f.closed {
		return ErrClosed
	}
	if f.step != StepCapture {
		return dErrors.New(dErrors.CodeInvalidState, "enrollment is not capturing")
	}
	if f.submitting {
		return ErrSubmitting
	}
	return nil
}

// startCapture replaces the current capture step with a fresh one. The
// generation ties batch completions to the step that produced them.
func (f *Flow) startCapture(ctx context.Context) {
	f.mu.Lock()
	f.generation++
	gen := f.generation
	f.lastErr = nil
	f.result = nil
	existing := f.capture
	f.mu.Unlock()

	// submissions outlive the request that started capture but keep its values
	// for audit metadata
	subCtx := context.WithoutCancel(ctx)
	onComplete := func(b sequencer.Batch) { f.submit(subCtx, gen, b) }

	if existing != nil {
		existing.Close()
	}
	st, err := capture.Open(ctx, f.captureOpts, onComplete, func(int) { f.notify() })

	f.mu.Lock()
	// a fast batch may already have finished the step
	if gen != f.generation || f.closed || f.step != StepCapture {
		f.mu.Unlock()
		if st != nil {
			st.Close()
		}
		return
	}
	f.capture = st
	account := f.details.AccountNumber
	if err != nil {
		f.lastErr = deviceError(err)
	}
	f.mu.Unlock()

	if err != nil {
		f.logger.WarnContext(ctx, "enrollment capture could not start", "flow_id", f.id, "error", err)
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
	if err := f.captureStepLocked(); err != nil {
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
	if err := f.captureStepLocked(); err != nil {
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

// submit runs once per completed batch. The backend decides the outcome;
// the flow never resubmits a batch.
func (f *Flow) submit(ctx context.Context, gen uint64, batch sequencer.Batch) {
	f.mu.Lock()
	if f.closed || gen != f.generation || f.step != StepCapture || f.submitting {
		f.mu.Unlock()
		return
	}
	f.submitting = true
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.inflight.Add(1)
	req := models.EnrollmentRequest{
		Identity: models.Identity{
			Name:          f.details.Name,
			AccountNumber: f.details.AccountNumber,
			Email:         f.details.Email,
		},
		Consent: f.details.Consent,
		Frames:  batch.Frames,
	}
	f.mu.Unlock()
	f.notify()

	defer f.inflight.Done()
	defer cancel()

	f.logger.InfoContext(ctx, "submitting enrollment",
		"flow_id", f.id,
		"account_number", req.AccountNumber,
		"frames", batch.Len(),
	)
	result, err := f.enroller.Enroll(ctx, req)
	if err == nil && !result.Success {
		err = dErrors.New(dErrors.CodeEnrollmentRejected, orDefault(result.Message, "enrollment was not accepted"))
	}

	f.mu.Lock()
	f.submitting = false
	f.cancel = nil
	if f.closed || gen != f.generation {
		f.mu.Unlock()
		return
	}
	var st *capture.Step
	if err != nil {
		f.lastErr = err
	} else {
		f.step = StepResult
		f.result = &result
		f.lastErr = nil
		st, f.capture = f.capture, nil
	}
	f.mu.Unlock()

	if st != nil {
		st.Close()
	}
	f.recordOutcome(ctx, req.AccountNumber, result, err)
	f.notify()
}

func (f *Flow) recordOutcome(ctx context.Context, accountNumber string, result models.EnrollmentResult, err error) {
	event := audit.Event{AccountNumber: accountNumber}
	if err != nil {
		outcome := "rejected"
		if dErrors.Is(err, dErrors.CodeNetwork) {
			outcome = "error"
		}
		f.metrics.IncrementEnrollment(outcome)
		f.logger.WarnContext(ctx, "enrollment failed",
			"flow_id", f.id,
			"account_number", accountNumber,
			"error", err,
		)
		event.Action = audit.EventEnrollmentFailed
		event.Reason = dErrors.Message(err)
	} else {
		f.metrics.IncrementEnrollment("success")
		f.logger.InfoContext(ctx, "enrollment succeeded",
			"flow_id", f.id,
			"account_number", accountNumber,
			"enrollment_id", result.EnrollmentID,
		)
		event.Action = audit.EventEnrollmentSuccess
		event.Success = true
		event.Details = map[string]any{
			"enrollment_id": result.EnrollmentID,
			"quality_score": result.QualityScore,
		}
	}
	f.emit(ctx, event)
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

// Back moves from StepCapture to StepDetails, releasing the camera. From
// StepDetails it ends the flow. StepResult has no backward edge.
func (f *Flow) Back() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	switch f.step {
	case StepDetails:
		f.mu.Unlock()
		f.Close()
		return nil
	case StepCapture:
		if f.submitting {
			f.mu.Unlock()
			return ErrSubmitting
		}
		f.generation++
		f.step = StepDetails
		f.lastErr = nil
		st := f.capture
		f.capture = nil
		f.mu.Unlock()
		if st != nil {
			st.Close()
		}
		f.notify()
		return nil
	default:
		f.mu.Unlock()
		return dErrors.New(dErrors.CodeInvalidState, "enrollment is complete")
	}
}

// Close releases the camera, cancels any in-flight submission, and waits
// for it to return. It is idempotent.
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

// Snapshot returns the current view.
func (f *Flow) Snapshot() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := View{
		ID:         f.id,
		Step:       f.step,
		Details:    f.details,
		Submitting: f.submitting,
		Closed:     f.closed,
	}
	if f.result != nil {
		r := *f.result
		v.Result = &r
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

func (f *Flow) notify() {
	if f.onChange != nil {
		f.onChange(f.Snapshot())
	}
}

// deviceError keeps the device message user-facing under a domain code.
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
