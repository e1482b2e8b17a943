package device

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"sync"
	"time"
)

// SnapshotCamera reads still images from a network camera's snapshot
// endpoint (most IP webcams expose one). Every Snapshot performs a GET.
type SnapshotCamera struct {
	URL    string
	Client *http.Client
}

// NewSnapshotCamera creates a camera for url with a bounded per-request
// timeout.
func NewSnapshotCamera(url string) *SnapshotCamera {
	return &SnapshotCamera{
		URL:    url,
		Client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Open probes the endpoint once; the probe doubles as the metadata read.
func (c *SnapshotCamera) Open(ctx context.Context, cons Constraints) (Stream, error) {
	if c.URL == "" {
		return nil, ErrNoDevice
	}
	if cons.Audio {
		return nil, ErrOverconstrained
	}
	s := &snapshotStream{camera: c, ctx: context.WithoutCancel(ctx), width: cons.Width, height: cons.Height}
	img, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if s.width <= 0 || s.height <= 0 {
		b := img.Bounds()
		s.width, s.height = b.Dx(), b.Dy()
	}
	return s, nil
}

type snapshotStream struct {
	camera *SnapshotCamera
	ctx    context.Context

	mu      sync.Mutex
	width   int
	height  int
	playing bool
	closed  bool
}

func (s *snapshotStream) fetch(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.camera.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	resp, err := s.camera.Client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrNotAllowed
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNoDevice
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: snapshot status %d", ErrNotReadable, resp.StatusCode)
	}

	img, _, err := image.Decode(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: decode snapshot: %v", ErrNotReadable, err)
	}
	return img, nil
}

func (s *snapshotStream) Play(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotReadable
	}
	s.playing = true
	return ctx.Err()
}

func (s *snapshotStream) WaitMetadata(ctx context.Context) error {
	return ctx.Err()
}

func (s *snapshotStream) Dimensions() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing || s.closed {
		return 0, 0
	}
	return s.width, s.height
}

func (s *snapshotStream) Snapshot() (image.Image, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrNotReadable
	}
	return s.fetch(s.ctx)
}

func (s *snapshotStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.playing = false
	return nil
}
