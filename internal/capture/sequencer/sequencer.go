// Package sequencer drives a fixed number of frame extractions from a
// capture source, either on a timer or one shot at a time, and emits the
// completed batch exactly once.
package sequencer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"irisvault/internal/capture/device"
	"irisvault/internal/platform/metrics"
)

// Mode selects how captures are triggered.
type Mode int

const (
	ModeAutomatic Mode = iota
	ModeManual
)

// DefaultInterval is the cadence between automatic capture ticks.
const DefaultInterval = 800 * time.Millisecond

var (
	ErrWrongMode = errors.New("operation not available in this capture mode")
	ErrCompleted = errors.New("capture sequence already completed")
)

// Source yields at most one frame per call. The device session satisfies it.
type Source interface {
	CaptureFrame() (device.Frame, bool)
}

// Config fixes the shape of a sequence.
type Config struct {
	Target   int
	Interval time.Duration
	Mode     Mode
}

// Batch is a completed, ordered set of frames.
type Batch struct {
	Frames []device.Frame
}

// Len returns the number of frames.
func (b Batch) Len() int {
	return len(b.Frames)
}

// Sequencer collects frames from a Source into a batch of Config.Target
// frames. Ticks never overlap: the automatic path runs on a single goroutine
// and manual captures serialize on the same mutex.
type Sequencer struct {
	mu sync.Mutex

	source     Source
	cfg        Config
	onComplete func(Batch)
	onProgress func(remaining int)
	logger     *slog.Logger
	metrics    *metrics.Metrics

	frames    []device.Frame
	completed bool
	running   bool
	stop      chan struct{}
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithCompletion registers the single completion subscriber. It is called
// outside the sequencer's lock, after the completing frame was appended.
func WithCompletion(fn func(Batch)) Option {
	return func(s *Sequencer) {
		s.onComplete = fn
	}
}

// WithProgress registers a callback receiving the remaining frame count
// after every appended frame.
func WithProgress(fn func(remaining int)) Option {
	return func(s *Sequencer) {
		s.onProgress = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sequencer) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sequencer) {
		s.metrics = m
	}
}

// New validates cfg and returns an idle sequencer.
func New(source Source, cfg Config, opts ...Option) (*Sequencer, error) {
	if source == nil {
		return nil, errors.New("capture source is required")
	}
	if cfg.Target < 1 {
		return nil, fmt.Errorf("target frame count must be at least 1, got %d", cfg.Target)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	s := &Sequencer{
		source: source,
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		frames: make([]device.Frame, 0, cfg.Target),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// BeginAutomatic starts the periodic capture timer. It is a no-op while a
// timer is already running.
func (s *Sequencer) BeginAutomatic() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Mode != ModeAutomatic {
		return ErrWrongMode
	}
	if s.running {
		return nil
	}
	if s.completed {
		return ErrCompleted
	}
	s.running = true
	s.stop = make(chan struct{})
	go s.loop(s.stop)
	return nil
}

func (s *Sequencer) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// a stop that raced the tick wins
			select {
			case <-stop:
				return
			default:
			}
			if finished := s.tick(stop); finished {
				return
			}
		}
	}
}

// CaptureOnce appends one frame in manual mode. It reports whether a frame
// was captured.
func (s *Sequencer) CaptureOnce() (bool, error) {
	s.mu.Lock()
	mode, completed := s.cfg.Mode, s.completed
	s.mu.Unlock()
	if mode != ModeManual {
		return false, ErrWrongMode
	}
	if completed {
		return false, ErrCompleted
	}
	return s.captureAndAppend(nil), nil
}

// tick runs one automatic capture. It returns true once the sequence has
// completed or been stopped.
func (s *Sequencer) tick(stop <-chan struct{}) bool {
	s.captureAndAppend(stop)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed || !s.running || s.stop != stop
}

// captureAndAppend performs the capture and bookkeeping for one tick. The
// stop channel, when non-nil, identifies the timer generation that owns
// the tick; ticks from a cancelled timer append nothing.
func (s *Sequencer) captureAndAppend(stop <-chan struct{}) bool {
	s.mu.Lock()
	if s.completed || (stop != nil && (!s.running || s.stop != stop)) {
		s.mu.Unlock()
		return false
	}

	frame, ok := s.source.CaptureFrame()
	if !ok {
		s.mu.Unlock()
		s.metrics.IncrementEmptyTicks()
		return false
	}

	frame.Index = len(s.frames)
	s.frames = append(s.frames, frame)
	remaining := s.cfg.Target - len(s.frames)
	var batch *Batch
	if remaining == 0 {
		s.completed = true
		if s.running {
			s.running = false
			close(s.stop)
		}
		batch = &Batch{Frames: append([]device.Frame(nil), s.frames...)}
	}
	onProgress, onComplete := s.onProgress, s.onComplete
	s.mu.Unlock()

	s.metrics.IncrementFramesCaptured()
	if onProgress != nil {
		onProgress(remaining)
	}
	if batch != nil {
		s.logger.Debug("capture batch complete", "frames", batch.Len())
		if onComplete != nil {
			onComplete(*batch)
		}
	}
	return true
}

// Stop cancels the timer. Frames already collected are kept.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()
}

// Reset cancels the timer and clears the batch, starting a new sequence.
// The capture source is not touched.
func (s *Sequencer) Reset() {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = make([]device.Frame, 0, s.cfg.Target)
	s.completed = false
}

// Remaining returns how many frames are still needed.
func (s *Sequencer) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Target - len(s.frames)
}

func (s *Sequencer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Sequencer) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Frames returns a copy of the frames collected so far.
func (s *Sequencer) Frames() []device.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]device.Frame(nil), s.frames...)
}

// Target returns the configured batch size.
func (s *Sequencer) Target() int {
	return s.cfg.Target
}
