package device

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrame(t *testing.T) {
	t.Run("scales to the requested resolution", func(t *testing.T) {
		src := image.NewRGBA(image.Rect(0, 0, 320, 240))
		payload, err := EncodeFrame(src, 160, 120, DefaultQuality)
		require.NoError(t, err)

		cfg, err := jpeg.DecodeConfig(bytes.NewReader(payload))
		require.NoError(t, err)
		assert.Equal(t, 160, cfg.Width)
		assert.Equal(t, 120, cfg.Height)
	})

	t.Run("rejects empty dimensions", func(t *testing.T) {
		_, err := EncodeFrame(image.NewRGBA(image.Rect(0, 0, 1, 1)), 0, 0, DefaultQuality)
		assert.Error(t, err)
	})
}

func TestFrameBase64(t *testing.T) {
	f := Frame{JPEG: []byte{0xff, 0xd8, 0xff}}
	decoded, err := base64.StdEncoding.DecodeString(f.Base64())
	require.NoError(t, err)
	assert.Equal(t, f.JPEG, decoded)
}

func TestIsSecureOrigin(t *testing.T) {
	cases := map[string]bool{
		"https://kiosk.example":       true,
		"wss://kiosk.example":         true,
		"http://localhost:3000":       true,
		"http://app.localhost":        true,
		"http://127.0.0.1:8080":       true,
		"http://[::1]:8080":           true,
		"http://192.168.1.20":         false,
		"http://kiosk.branch.example": false,
		"file:///tmp/index.html":      false,
		"":                            false,
	}
	for origin, want := range cases {
		assert.Equal(t, want, IsSecureOrigin(origin), origin)
	}
}

func TestSyntheticCamera(t *testing.T) {
	ctx := context.Background()

	t.Run("behaves as an exclusive device", func(t *testing.T) {
		cam := &SyntheticCamera{Seed: 7}
		first, err := cam.Open(ctx, DefaultConstraints())
		require.NoError(t, err)

		_, err = cam.Open(ctx, DefaultConstraints())
		assert.ErrorIs(t, err, ErrNotReadable)

		require.NoError(t, first.Close())
		assert.False(t, cam.Held())
		second, err := cam.Open(ctx, DefaultConstraints())
		require.NoError(t, err)
		require.NoError(t, second.Close())
	})

	t.Run("session warms up before producing frames", func(t *testing.T) {
		cam := &SyntheticCamera{Seed: 7, WarmupFrames: 2}
		s, err := NewSession(cam, WithConstraints(Constraints{Width: 64, Height: 48, FacingMode: FacingUser}))
		require.NoError(t, err)
		require.NoError(t, s.Start(ctx))

		_, ok := s.CaptureFrame()
		assert.False(t, ok)
		_, ok = s.CaptureFrame()
		assert.False(t, ok)
		frame, ok := s.CaptureFrame()
		require.True(t, ok)
		assert.Equal(t, 64, frame.Width)

		s.Stop()
		assert.False(t, cam.Held())
	})

	t.Run("render is deterministic per seed", func(t *testing.T) {
		a := RenderIris(48, 48, 42, 0, 0)
		b := RenderIris(48, 48, 42, 0, 0)
		c := RenderIris(48, 48, 43, 0, 0)
		assert.Equal(t, a.Pix, b.Pix)
		assert.NotEqual(t, a.Pix, c.Pix)
	})
}
