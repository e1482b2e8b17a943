// Package capture binds one device session to one sequencer for the lifetime
// of a flow step. Flows open a Step when they enter a capture state and close
// it on every exit path.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"irisvault/internal/capture/device"
	"irisvault/internal/capture/sequencer"
	"irisvault/internal/platform/metrics"
)

// Options configure every Step a flow opens.
type Options struct {
	Camera   device.Camera
	Device   []device.Option
	Sequence sequencer.Config
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Validate reports configuration that would make Open fail.
func (o Options) Validate() error {
	if o.Camera == nil {
		return errors.New("camera is required")
	}
	if o.Sequence.Target < 1 {
		return fmt.Errorf("target frame count must be at least 1, got %d", o.Sequence.Target)
	}
	return nil
}

// Status is a point-in-time view of a Step.
type Status struct {
	DeviceState     device.State
	AwaitingGesture bool
	DeviceError     *device.Error
	Target          int
	Captured        int
	Remaining       int
	Running         bool
	Completed       bool
}

// Step owns a session and its sequencer.
type Step struct {
	mu      sync.Mutex
	session *device.Session
	seq     *sequencer.Sequencer
	mode    sequencer.Mode
	closed  bool
	logger  *slog.Logger
}

// Open creates the session and sequencer, acquires the device, and in
// automatic mode starts the capture timer. A device error is returned along
// with a Step whose status reports it; callers retry by closing it and
// opening a new one. onComplete receives each completed batch.
func Open(ctx context.Context, opts Options, onComplete func(sequencer.Batch), onProgress func(remaining int)) (*Step, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	deviceOpts := append([]device.Option{
		device.WithLogger(logger),
		device.WithMetrics(opts.Metrics),
	}, opts.Device...)
	session, err := device.NewSession(opts.Camera, deviceOpts...)
	if err != nil {
		return nil, err
	}

	seqOpts := []sequencer.Option{
		sequencer.WithLogger(logger),
		sequencer.WithMetrics(opts.Metrics),
		sequencer.WithCompletion(onComplete),
	}
	if onProgress != nil {
		seqOpts = append(seqOpts, sequencer.WithProgress(onProgress))
	}
	seq, err := sequencer.New(session, opts.Sequence, seqOpts...)
	if err != nil {
		return nil, err
	}

	st := &Step{
		session: session,
		seq:     seq,
		mode:    opts.Sequence.Mode,
		logger:  logger,
	}
	return st, st.start(ctx)
}

func (st *Step) start(ctx context.Context) error {
	err := st.session.Start(ctx)
	var derr *device.Error
	if err != nil && (!errors.As(err, &derr) || derr.Kind != device.KindPlaybackBlocked) {
		return err
	}
	// warm-up and gesture-blocked ticks yield nothing, so the timer can run
	// before the session is active
	if st.mode == sequencer.ModeAutomatic {
		if serr := st.seq.BeginAutomatic(); serr != nil {
			return serr
		}
	}
	return err
}

// Resume retries playback after a user gesture.
func (st *Step) Resume(ctx context.Context) error {
	return st.session.Resume(ctx)
}

// CaptureOnce takes a single manual capture.
func (st *Step) CaptureOnce() (bool, error) {
	return st.seq.CaptureOnce()
}

// Close stops the timer and releases the device. It is idempotent.
func (st *Step) Close() {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.closed = true
	st.mu.Unlock()

	st.seq.Stop()
	st.session.Stop()
	st.logger.Debug("capture step closed")
}

func (st *Step) Status() Status {
	frames := len(st.seq.Frames())
	return Status{
		DeviceState:     st.session.State(),
		AwaitingGesture: st.session.AwaitingGesture(),
		DeviceError:     st.session.LastError(),
		Target:          st.seq.Target(),
		Captured:        frames,
		Remaining:       st.seq.Target() - frames,
		Running:         st.seq.Running(),
		Completed:       st.seq.Completed(),
	}
}

// Holding reports whether the device handle is held.
func (st *Step) Holding() bool {
	return st.session.Holding()
}
