package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"time"

	"golang.org/x/image/draw"

	"github.com/fentz26/glimpse/internal/models"
)

// ErrEmptySource is returned when there are no bytes to thumbnail.
var ErrEmptySource = errors.New("empty preview source")

// Thumbnailer scales captures down to fit MaxWidth x MaxHeight and encodes
// the result as PNG. Aspect ratio is preserved and images are never scaled
// up.
type Thumbnailer struct {
	MaxWidth  int
	MaxHeight int
	Clock     func() time.Time
}

// Generate implements Generator.
func (t Thumbnailer) Generate(ctx context.Context, data []byte) (*models.Preview, error) {
	if len(data) == 0 {
		return nil, ErrEmptySource
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode source: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w, h := fit(src.Bounds().Dx(), src.Bounds().Dy(), t.MaxWidth, t.MaxHeight)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	buf := &bytes.Buffer{}
	if err := png.Encode(buf, dst); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}

	clock := t.Clock
	if clock == nil {
		clock = time.Now
	}
	return &models.Preview{
		Data:        buf.Bytes(),
		Width:       w,
		Height:      h,
		Size:        buf.Len(),
		GeneratedAt: clock().UTC(),
	}, nil
}

// fit returns the largest size within maxW x maxH with the aspect ratio of
// w x h. Non-positive limits leave that axis unconstrained.
func fit(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return 1, 1
	}
	scale := 1.0
	if maxW > 0 && w > maxW {
		scale = float64(maxW) / float64(w)
	}
	if maxH > 0 && float64(h)*scale > float64(maxH) {
		scale = float64(maxH) / float64(h)
	}
	nw := int(float64(w)*scale + 0.5)
	nh := int(float64(h)*scale + 0.5)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}
