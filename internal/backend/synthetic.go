package backend

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"time"

	"github.com/fentz26/glimpse/internal/models"
)

// Synthetic renders gradient frames instead of touching the display. It is
// the default on headless hosts and in tests.
type Synthetic struct {
	width, height int
	selector      *Selector
	frames        atomic.Uint64
}

// SyntheticOptions configure a Synthetic backend.
type SyntheticOptions struct {
	Width    int
	Height   int
	Selector *Selector
}

// NewSynthetic creates a synthetic backend. Zero dimensions default to
// 640x400.
func NewSynthetic(opts SyntheticOptions) *Synthetic {
	w, h := opts.Width, opts.Height
	if w <= 0 {
		w = 640
	}
	if h <= 0 {
		h = 400
	}
	sel := opts.Selector
	if sel == nil {
		sel = NewSelector()
	}
	return &Synthetic{width: w, height: h, selector: sel}
}

func (s *Synthetic) Name() string { return "synthetic" }

// Selector returns the selector regions are resolved through.
func (s *Synthetic) Selector() *Selector { return s.selector }

func (s *Synthetic) CaptureFull(ctx context.Context) ([]byte, error) {
	return s.render(ctx, s.width, s.height)
}

func (s *Synthetic) CaptureWindow(ctx context.Context) ([]byte, models.WindowDescriptor, error) {
	w, h := s.width/2, s.height/2
	data, err := s.render(ctx, w, h)
	if err != nil {
		return nil, models.WindowDescriptor{}, err
	}
	return data, models.WindowDescriptor{
		ID:        "synthetic-1",
		Title:     "Synthetic Window",
		OwnerName: "glimpse",
		Bounds:    models.Region{X: s.width / 4, Y: s.height / 4, Width: w, Height: h},
	}, nil
}

func (s *Synthetic) AwaitRegionSelection(ctx context.Context, timeout time.Duration) (models.Region, error) {
	return s.selector.Await(ctx, timeout)
}

func (s *Synthetic) Crop(ctx context.Context, data []byte, region models.Region) ([]byte, error) {
	return Crop(ctx, data, region)
}

func (s *Synthetic) render(ctx context.Context, width, height int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := s.frames.Add(1)
	hue := uint8(40 + (n*37)%200)
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{R: hue, G: uint8(x % 255), B: uint8(y % 255), A: 255})
		}
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
