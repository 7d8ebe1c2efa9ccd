// Package backend provides screen capture primitives.
package backend

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

var (
	// ErrSelectionTimeout is returned when no region is chosen in time.
	ErrSelectionTimeout = errors.New("region selection timed out")
	// ErrSelectionAborted is returned when the user dismisses the selection.
	ErrSelectionAborted = errors.New("region selection aborted")
	// ErrSelectionBusy is returned when a selection is already pending.
	ErrSelectionBusy = errors.New("region selection already pending")
	// ErrNoSelectionPending is returned by Resolve and Abort when nobody waits.
	ErrNoSelectionPending = errors.New("no region selection pending")
	// ErrEmptyRegion is returned for zero-area regions.
	ErrEmptyRegion = errors.New("region is empty")
	// ErrRegionOutOfBounds is returned when a crop region misses the image.
	ErrRegionOutOfBounds = errors.New("region outside image bounds")
)

// Backend is the capability the coordinator drives. Implementations return
// PNG-encoded bytes.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	CaptureFull(ctx context.Context) ([]byte, error)
	CaptureWindow(ctx context.Context) ([]byte, models.WindowDescriptor, error)

	// AwaitRegionSelection blocks until a region is resolved externally, the
	// timeout elapses, or ctx is done. A non-positive timeout waits forever.
	AwaitRegionSelection(ctx context.Context, timeout time.Duration) (models.Region, error)

	Crop(ctx context.Context, data []byte, region models.Region) ([]byte, error)
}

// Crop cuts region out of an encoded image and returns it as PNG. The
// region is clipped to the image; a region that misses entirely fails.
func Crop(ctx context.Context, data []byte, region models.Region) ([]byte, error) {
	if region.Empty() {
		return nil, ErrEmptyRegion
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode capture: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	want := image.Rect(region.X, region.Y, region.X+region.Width, region.Y+region.Height)
	r := want.Intersect(src.Bounds())
	if r.Empty() {
		return nil, ErrRegionOutOfBounds
	}

	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), src, r.Min, draw.Src)

	buf := &bytes.Buffer{}
	if err := png.Encode(buf, dst); err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	return buf.Bytes(), nil
}
