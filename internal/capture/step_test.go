package capture

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"irisvault/internal/capture/device"
	"irisvault/internal/capture/sequencer"
)

func manualOptions(camera device.Camera, target int) Options {
	return Options{
		Camera:   camera,
		Sequence: sequencer.Config{Target: target, Mode: sequencer.ModeManual},
	}
}

func TestOptions_Validate(t *testing.T) {
	assert.Error(t, Options{}.Validate())
	assert.Error(t, Options{Camera: &device.SyntheticCamera{}}.Validate())
	assert.NoError(t, manualOptions(&device.SyntheticCamera{}, 3).Validate())
}

func TestStep_ManualCaptureCompletesOnce(t *testing.T) {
	camera := &device.SyntheticCamera{Seed: 3}
	var completions atomic.Int32
	var got sequencer.Batch

	st, err := Open(context.Background(), manualOptions(camera, 3), func(b sequencer.Batch) {
		completions.Add(1)
		got = b
	}, nil)
	require.NoError(t, err)
	defer st.Close()

	assert.True(t, camera.Held())
	for range 3 {
		ok, err := st.CaptureOnce()
		require.NoError(t, err)
		assert.True(t, ok)
	}
	_, err = st.CaptureOnce()
	assert.ErrorIs(t, err, sequencer.ErrCompleted)

	assert.Equal(t, int32(1), completions.Load())
	require.Equal(t, 3, got.Len())
	for i, f := range got.Frames {
		assert.Equal(t, i, f.Index)
	}

	status := st.Status()
	assert.Equal(t, device.StateActive, status.DeviceState)
	assert.True(t, status.Completed)
	assert.Zero(t, status.Remaining)
}

func TestStep_WarmupTicksAreNotCounted(t *testing.T) {
	camera := &device.SyntheticCamera{Seed: 3, WarmupFrames: 2}
	st, err := Open(context.Background(), manualOptions(camera, 2), func(sequencer.Batch) {}, nil)
	require.NoError(t, err)
	defer st.Close()

	captured := 0
	for range 4 {
		ok, err := st.CaptureOnce()
		require.NoError(t, err)
		if ok {
			captured++
		}
	}
	assert.Equal(t, 2, captured)
	assert.True(t, st.Status().Completed)
}

func TestStep_AutomaticModeEmitsBatch(t *testing.T) {
	camera := &device.SyntheticCamera{Seed: 5, WarmupFrames: 1}
	done := make(chan sequencer.Batch, 1)
	var progress atomic.Int32

	opts := Options{
		Camera:   camera,
		Sequence: sequencer.Config{Target: 3, Interval: 5 * time.Millisecond},
	}
	st, err := Open(context.Background(), opts, func(b sequencer.Batch) { done <- b }, func(int) { progress.Add(1) })
	require.NoError(t, err)
	defer st.Close()

	select {
	case b := <-done:
		assert.Equal(t, 3, b.Len())
	case <-time.After(2 * time.Second):
		t.Fatal("automatic capture did not complete")
	}
	assert.Equal(t, int32(3), progress.Load())
}

func TestStep_PlaybackBlockedThenResume(t *testing.T) {
	camera := &device.SyntheticCamera{Seed: 1, BlockAutoplay: true}
	st, err := Open(context.Background(), manualOptions(camera, 1), func(sequencer.Batch) {}, nil)
	require.Error(t, err)
	require.NotNil(t, st)
	defer st.Close()

	assert.Equal(t, device.KindPlaybackBlocked, device.KindOf(err))
	assert.True(t, st.Status().AwaitingGesture)
	ok, _ := st.CaptureOnce()
	assert.False(t, ok, "no frames while awaiting a gesture")

	require.NoError(t, st.Resume(context.Background()))
	assert.Equal(t, device.StateActive, st.Status().DeviceState)
	ok, err = st.CaptureOnce()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStep_DeviceBusyThenReopen(t *testing.T) {
	camera := &device.SyntheticCamera{Seed: 1}
	first, err := Open(context.Background(), manualOptions(camera, 1), func(sequencer.Batch) {}, nil)
	require.NoError(t, err)

	second, err := Open(context.Background(), manualOptions(camera, 1), func(sequencer.Batch) {}, nil)
	require.Error(t, err)
	assert.Equal(t, device.KindDeviceBusy, device.KindOf(err))
	assert.Equal(t, device.StateError, second.Status().DeviceState)

	first.Close()
	second.Close()
	third, err := Open(context.Background(), manualOptions(camera, 1), func(sequencer.Batch) {}, nil)
	require.NoError(t, err)
	assert.Equal(t, device.StateActive, third.Status().DeviceState)
	assert.Nil(t, third.Status().DeviceError)

	third.Close()
	assert.False(t, camera.Held())
}

func TestStep_CloseIsIdempotentAndReleases(t *testing.T) {
	camera := &device.SyntheticCamera{}
	st, err := Open(context.Background(), manualOptions(camera, 2), func(sequencer.Batch) {}, nil)
	require.NoError(t, err)

	st.Close()
	st.Close()
	assert.False(t, camera.Held())
	assert.False(t, st.Holding())
	assert.Equal(t, device.StateIdle, st.Status().DeviceState)
}
