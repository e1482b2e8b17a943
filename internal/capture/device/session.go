package device

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"irisvault/internal/platform/metrics"
	"irisvault/pkg/platform/sentinel"
)

// State is the acquisition state of a Session.
type State int

const (
	StateIdle State = iota
	StateAcquiring
	StateActive
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateActive:
		return "active"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// errSuperseded is returned by an acquisition that lost to a later Start or
// Stop. The late handle has already been released.
var errSuperseded = fmt.Errorf("acquisition superseded: %w", sentinel.ErrInvalidState)

// Session owns at most one device handle at a time.
//
// Every acquisition carries a generation number. Stop and Start bump the
// generation, so a handle that arrives for an older generation is closed on
// arrival instead of being bound.
type Session struct {
	mu sync.Mutex

	camera        Camera
	origin        string
	allowInsecure bool
	constraints   Constraints
	quality       int
	logger        *slog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time

	state           State
	stream          Stream
	generation      uint64
	awaitingGesture bool
	lastErr         *Error
}

// Option configures a Session.
type Option func(*Session)

// WithOrigin sets the embedding origin checked before acquisition.
func WithOrigin(origin string) Option {
	return func(s *Session) {
		s.origin = origin
	}
}

// AllowInsecureOrigin disables the secure-origin check (lab kiosks on a
// closed network).
func AllowInsecureOrigin() Option {
	return func(s *Session) {
		s.allowInsecure = true
	}
}

func WithConstraints(c Constraints) Option {
	return func(s *Session) {
		s.constraints = c
	}
}

func WithQuality(q int) Option {
	return func(s *Session) {
		if q > 0 && q <= 100 {
			s.quality = q
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// NewSession creates an idle session over camera.
func NewSession(camera Camera, opts ...Option) (*Session, error) {
	if camera == nil {
		return nil, fmt.Errorf("camera is required")
	}
	s := &Session{
		camera:      camera,
		origin:      "http://localhost",
		constraints: DefaultConstraints(),
		quality:     DefaultQuality,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:         time.Now,
		state:       StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start acquires the camera, binds it, and waits until the surface reports
// usable dimensions. Any handle held from a previous Start is released first.
//
// When the platform blocks playback the session keeps the handle, reports
// AwaitingGesture, and returns a KindPlaybackBlocked error; Resume retries.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	s.releaseLocked()
	s.generation++
	gen := s.generation
	s.awaitingGesture = false
	s.lastErr = nil

	if !s.allowInsecure && !IsSecureOrigin(s.origin) {
		derr := newError(KindInsecureContext, nil)
		s.state = StateError
		s.lastErr = derr
		s.mu.Unlock()
		s.record(ctx, derr)
		return derr
	}
	s.state = StateAcquiring
	s.mu.Unlock()

	stream, err := s.camera.Open(ctx, s.constraints)
	if err != nil {
		return s.fail(ctx, gen, classify(err))
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		_ = stream.Close()
		return errSuperseded
	}
	s.stream = stream
	s.mu.Unlock()

	return s.play(ctx, gen, stream)
}

// Resume retries playback after a user gesture. It is a no-op unless the
// session is awaiting one.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	if !s.awaitingGesture || s.stream == nil {
		s.mu.Unlock()
		return nil
	}
	gen, stream := s.generation, s.stream
	s.mu.Unlock()
	return s.play(ctx, gen, stream)
}

func (s *Session) play(ctx context.Context, gen uint64, stream Stream) error {
	if err := stream.Play(ctx); err != nil {
		derr := classify(err)
		if derr.Kind != KindPlaybackBlocked {
			return s.fail(ctx, gen, derr)
		}
		s.mu.Lock()
		if gen == s.generation {
			s.awaitingGesture = true
			s.lastErr = derr
		}
		s.mu.Unlock()
		s.record(ctx, derr)
		return derr
	}

	if err := stream.WaitMetadata(ctx); err != nil {
		return s.fail(ctx, gen, classify(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return errSuperseded
	}
	s.state = StateActive
	s.awaitingGesture = false
	s.lastErr = nil
	w, h := stream.Dimensions()
	s.logger.InfoContext(ctx, "capture device active", "width", w, "height", h)
	return nil
}

// fail releases the handle of generation gen and moves to StateError.
func (s *Session) fail(ctx context.Context, gen uint64, derr *Error) error {
	s.mu.Lock()
	if gen == s.generation {
		s.releaseLocked()
		s.state = StateError
		s.awaitingGesture = false
		s.lastErr = derr
	}
	s.mu.Unlock()
	s.record(ctx, derr)
	return derr
}

func (s *Session) record(ctx context.Context, derr *Error) {
	s.metrics.IncrementDeviceError(string(derr.Kind))
	s.logger.WarnContext(ctx, "capture device error",
		"kind", derr.Kind,
		"error", derr.Error(),
	)
}

// Stop releases the handle if one is held and returns to StateIdle. It is
// idempotent and safe on a session that was never started. An acquisition
// still in flight is invalidated and its handle released when it arrives.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle && s.stream == nil {
		return
	}
	s.generation++
	s.releaseLocked()
	s.state = StateIdle
	s.awaitingGesture = false
	s.lastErr = nil
}

func (s *Session) releaseLocked() {
	if s.stream == nil {
		return
	}
	if err := s.stream.Close(); err != nil {
		s.logger.Warn("failed to release capture device", "error", err)
	}
	s.stream = nil
}

// CaptureFrame extracts one encoded frame. It returns false, not an error,
// while the session is not active or the surface has no dimensions yet.
func (s *Session) CaptureFrame() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive || s.stream == nil {
		return Frame{}, false
	}
	w, h := s.stream.Dimensions()
	if w <= 0 || h <= 0 {
		return Frame{}, false
	}
	img, err := s.stream.Snapshot()
	if err != nil {
		s.logger.Debug("frame snapshot failed", "error", err)
		return Frame{}, false
	}
	payload, err := EncodeFrame(img, w, h, s.quality)
	if err != nil {
		s.logger.Warn("frame encoding failed", "error", err)
		return Frame{}, false
	}
	return Frame{
		CapturedAt: s.now(),
		Width:      w,
		Height:     h,
		JPEG:       payload,
	}, true
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AwaitingGesture reports whether playback is blocked pending a user action.
func (s *Session) AwaitingGesture() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awaitingGesture
}

// LastError returns the most recent device error, or nil.
func (s *Session) LastError() *Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Holding reports whether the session currently owns a device handle.
func (s *Session) Holding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}
