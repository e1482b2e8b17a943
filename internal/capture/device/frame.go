package device

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"golang.org/x/image/draw"
)

// DefaultQuality is the JPEG quality used for every captured frame.
const DefaultQuality = 80

// Frame is one encoded capture. Index is the position in the owning batch
// and is assigned by the sequencer.
type Frame struct {
	Index      int
	CapturedAt time.Time
	Width      int
	Height     int
	JPEG       []byte
}

// Base64 returns the payload as standard base64, the form the verification
// service accepts.
func (f Frame) Base64() string {
	return base64.StdEncoding.EncodeToString(f.JPEG)
}

// EncodeFrame scales img to width x height when the sizes differ and encodes
// it as JPEG at the given quality.
func EncodeFrame(img image.Image, width, height, quality int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("encode frame: invalid dimensions %dx%d", width, height)
	}
	var src image.Image = img
	if b := img.Bounds(); b.Dx() != width || b.Dy() != height {
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
		src = dst
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
