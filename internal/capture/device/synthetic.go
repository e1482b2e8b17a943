package device

import (
	"context"
	"image"
	"image/color"
	"math"
	"math/rand"
	"sync"
)

// SyntheticCamera renders procedural iris images. It behaves like a single
// physical device: a second Open while a stream is held fails with
// ErrNotReadable.
type SyntheticCamera struct {
	Seed int64
	// WarmupFrames is the number of Dimensions calls that report 0x0 after
	// playback starts, mimicking a camera that is still negotiating.
	WarmupFrames int
	// BlockAutoplay makes the first Play call fail with ErrAutoplayBlocked.
	BlockAutoplay bool

	mu    sync.Mutex
	held  bool
	opens int
}

// Open returns a stream sized to the requested constraints.
func (c *SyntheticCamera) Open(ctx context.Context, cons Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cons.Audio {
		return nil, ErrOverconstrained
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held {
		return nil, ErrNotReadable
	}
	c.held = true
	c.opens++
	width, height := cons.Width, cons.Height
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}
	return &syntheticStream{
		camera:    c,
		width:     width,
		height:    height,
		warmup:    c.WarmupFrames,
		blockPlay: c.BlockAutoplay,
		rng:       rand.New(rand.NewSource(c.Seed + int64(c.opens))),
		seed:      c.Seed,
	}, nil
}

// Held reports whether a stream is currently open.
func (c *SyntheticCamera) Held() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held
}

func (c *SyntheticCamera) release() {
	c.mu.Lock()
	c.held = false
	c.mu.Unlock()
}

type syntheticStream struct {
	camera *SyntheticCamera

	mu        sync.Mutex
	width     int
	height    int
	warmup    int
	blockPlay bool
	playing   bool
	closed    bool
	rng       *rand.Rand
	seed      int64
}

func (s *syntheticStream) Play(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotReadable
	}
	if s.blockPlay {
		s.blockPlay = false
		return ErrAutoplayBlocked
	}
	s.playing = true
	return ctx.Err()
}

func (s *syntheticStream) WaitMetadata(ctx context.Context) error {
	return ctx.Err()
}

func (s *syntheticStream) Dimensions() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing || s.closed {
		return 0, 0
	}
	if s.warmup > 0 {
		s.warmup--
		return 0, 0
	}
	return s.width, s.height
}

func (s *syntheticStream) Snapshot() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrNotReadable
	}
	// small per-frame gaze jitter so consecutive frames are not identical
	dx := s.rng.Float64()*4 - 2
	dy := s.rng.Float64()*4 - 2
	return RenderIris(s.width, s.height, s.seed, dx, dy), nil
}

func (s *syntheticStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.playing = false
	s.camera.release()
	return nil
}

// RenderIris draws an eye: skin background, sclera, a textured iris whose
// pattern is fixed by seed, a pupil, and a specular highlight. dx and dy
// shift the iris to simulate gaze movement.
func RenderIris(width, height int, seed int64, dx, dy float64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	rng := rand.New(rand.NewSource(seed))

	cx, cy := float64(width)/2+dx, float64(height)/2+dy
	scale := math.Min(float64(width), float64(height))
	irisR := scale * 0.30
	pupilR := irisR * (0.30 + rng.Float64()*0.12)
	scleraRX, scleraRY := scale*0.62, scale*0.38

	base := color.RGBA{
		R: uint8(60 + rng.Intn(80)),
		G: uint8(70 + rng.Intn(70)),
		B: uint8(40 + rng.Intn(90)),
		A: 255,
	}
	const spokes = 48
	phase := make([]float64, spokes)
	for i := range phase {
		phase[i] = rng.Float64()
	}
	freq := 3 + rng.Intn(5)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			fx, fy := float64(x)-cx, float64(y)-cy
			r := math.Hypot(fx, fy)
			ex := fx / scleraRX
			ey := fy / scleraRY
			switch {
			case r <= pupilR:
				img.SetRGBA(x, y, color.RGBA{R: 8, G: 8, B: 10, A: 255})
			case r <= irisR:
				theta := math.Atan2(fy, fx)
				spoke := int((theta + math.Pi) / (2 * math.Pi) * spokes)
				if spoke >= spokes {
					spoke = spokes - 1
				}
				radial := (r - pupilR) / (irisR - pupilR)
				wave := 0.5 + 0.5*math.Sin(float64(freq)*2*math.Pi*radial+phase[spoke]*2*math.Pi)
				shade := 0.55 + 0.45*wave
				if radial > 0.9 {
					shade *= 0.6 // limbal ring
				}
				img.SetRGBA(x, y, color.RGBA{
					R: uint8(float64(base.R) * shade),
					G: uint8(float64(base.G) * shade),
					B: uint8(float64(base.B) * shade),
					A: 255,
				})
			case ex*ex+ey*ey <= 1:
				img.SetRGBA(x, y, color.RGBA{R: 236, G: 232, B: 226, A: 255})
			default:
				img.SetRGBA(x, y, color.RGBA{R: 198, G: 150, B: 126, A: 255})
			}
		}
	}

	// specular highlight
	hx, hy := cx-irisR*0.35, cy-irisR*0.35
	hr := irisR * 0.08
	for y := int(hy - hr); y <= int(hy+hr); y++ {
		for x := int(hx - hr); x <= int(hx+hr); x++ {
			if x < 0 || y < 0 || x >= width || y >= height {
				continue
			}
			if math.Hypot(float64(x)-hx, float64(y)-hy) <= hr {
				img.SetRGBA(x, y, color.RGBA{R: 250, G: 250, B: 250, A: 255})
			}
		}
	}
	return img
}
