package sequencer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"irisvault/internal/capture/device"
)

// stubSource yields nothing for the first `empty` calls, then a frame whose
// payload is the 1-based count of frames produced so far.
type stubSource struct {
	mu       sync.Mutex
	empty    int
	calls    int
	produced int
}

func (s *stubSource) CaptureFrame() (device.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.empty {
		return device.Frame{}, false
	}
	s.produced++
	return device.Frame{JPEG: []byte{byte(s.produced)}, CapturedAt: time.Now()}, true
}

type completions struct {
	mu      sync.Mutex
	batches []Batch
}

func (c *completions) record(b Batch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, b)
}

func (c *completions) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func (c *completions) first() Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches[0]
}

func assertOrdered(t *testing.T, b Batch) {
	t.Helper()
	for i, f := range b.Frames {
		assert.Equal(t, i, f.Index)
		assert.Equal(t, []byte{byte(i + 1)}, f.JPEG)
	}
}

func TestNew(t *testing.T) {
	_, err := New(nil, Config{Target: 3})
	assert.Error(t, err)

	_, err = New(&stubSource{}, Config{Target: 0})
	assert.Error(t, err)

	s, err := New(&stubSource{}, Config{Target: 3})
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, s.cfg.Interval)
	assert.Equal(t, 3, s.Remaining())
}

func TestAutomaticEmitsExactlyOneCompletion(t *testing.T) {
	for target := 1; target <= 6; target++ {
		done := &completions{}
		s, err := New(&stubSource{}, Config{Target: target, Interval: time.Millisecond},
			WithCompletion(done.record))
		require.NoError(t, err)

		require.NoError(t, s.BeginAutomatic())
		require.Eventually(t, func() bool { return done.count() == 1 }, time.Second, time.Millisecond)

		// give a stray tick the chance to misbehave
		time.Sleep(10 * time.Millisecond)
		assert.Equal(t, 1, done.count(), "target %d", target)
		assert.Len(t, done.first().Frames, target)
		assertOrdered(t, done.first())
		assert.False(t, s.Running())
		assert.Equal(t, 0, s.Remaining())
	}
}

func TestEmptyTicksAreNotCounted(t *testing.T) {
	src := &stubSource{empty: 4}
	done := &completions{}
	var progress []int
	s, err := New(src, Config{Target: 3},
		WithCompletion(done.record),
		WithProgress(func(remaining int) { progress = append(progress, remaining) }),
	)
	require.NoError(t, err)
	s.running = true
	s.stop = make(chan struct{})

	for i := 0; i < 4; i++ {
		assert.False(t, s.tick(s.stop))
	}
	assert.Equal(t, 3, s.Remaining())

	assert.False(t, s.tick(s.stop))
	assert.False(t, s.tick(s.stop))
	assert.True(t, s.tick(s.stop))

	assert.Equal(t, 1, done.count())
	assert.Len(t, done.first().Frames, 3)
	assertOrdered(t, done.first())
	assert.Equal(t, []int{2, 1, 0}, progress)
	assert.Equal(t, 7, src.calls)
}

func TestBeginAutomaticIsNoOpWhileRunning(t *testing.T) {
	s, err := New(&stubSource{}, Config{Target: 3, Interval: time.Hour})
	require.NoError(t, err)

	require.NoError(t, s.BeginAutomatic())
	stop := s.stop
	require.NoError(t, s.BeginAutomatic())
	assert.Equal(t, stop, s.stop, "second call must not start another timer")
	s.Stop()
}

func TestStopCancelsTimer(t *testing.T) {
	src := &stubSource{}
	done := &completions{}
	s, err := New(src, Config{Target: 50, Interval: time.Millisecond}, WithCompletion(done.record))
	require.NoError(t, err)

	require.NoError(t, s.BeginAutomatic())
	require.Eventually(t, func() bool { return len(s.Frames()) >= 2 }, time.Second, time.Millisecond)
	s.Stop()

	collected := len(s.Frames())
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, collected, len(s.Frames()), "no frames appended after stop")
	assert.Equal(t, 0, done.count())

	// ticks from the cancelled timer are ignored
	assert.True(t, s.tick(make(chan struct{})))
	assert.Equal(t, collected, len(s.Frames()))
}

func TestResetStartsNewSequence(t *testing.T) {
	done := &completions{}
	s, err := New(&stubSource{}, Config{Target: 2, Mode: ModeManual}, WithCompletion(done.record))
	require.NoError(t, err)

	_, err = s.CaptureOnce()
	require.NoError(t, err)
	_, err = s.CaptureOnce()
	require.NoError(t, err)
	assert.Equal(t, 1, done.count())

	_, err = s.CaptureOnce()
	assert.ErrorIs(t, err, ErrCompleted)

	s.Reset()
	assert.Equal(t, 2, s.Remaining())
	assert.Empty(t, s.Frames())
	assert.False(t, s.Completed())

	_, err = s.CaptureOnce()
	require.NoError(t, err)
	_, err = s.CaptureOnce()
	require.NoError(t, err)
	assert.Equal(t, 2, done.count())
}

func TestModeGuards(t *testing.T) {
	auto, err := New(&stubSource{}, Config{Target: 1})
	require.NoError(t, err)
	_, err = auto.CaptureOnce()
	assert.ErrorIs(t, err, ErrWrongMode)

	manual, err := New(&stubSource{}, Config{Target: 1, Mode: ModeManual})
	require.NoError(t, err)
	assert.ErrorIs(t, manual.BeginAutomatic(), ErrWrongMode)
}

func TestManualCompletionFiresOnceUnderContention(t *testing.T) {
	var fired atomic.Int32
	s, err := New(&stubSource{}, Config{Target: 5, Mode: ModeManual},
		WithCompletion(func(b Batch) {
			fired.Add(1)
			assert.Len(t, b.Frames, 5)
		}))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.CaptureOnce()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fired.Load())
	assert.Len(t, s.Frames(), 5)
}
