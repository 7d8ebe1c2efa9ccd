package preview

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/glimpse/internal/cancel"
	"github.com/fentz26/glimpse/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingGenerator returns a fixed preview and counts calls.
type countingGenerator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (g *countingGenerator) Generate(ctx context.Context, data []byte) (*models.Preview, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return &models.Preview{Data: append([]byte("thumb:"), data...), Size: len(data) + 6}, nil
}

func (g *countingGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestGeneratesOnceWithinTTL(t *testing.T) {
	clock := newFakeClock()
	c := NewCache(Options{TTL: time.Minute, MaxEntries: 10, Clock: clock.Now})
	gen := &countingGenerator{}
	data := []byte("same bytes")

	first, err := c.GetOrGenerate(context.Background(), nil, data, gen)
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	second, err := c.GetOrGenerate(context.Background(), nil, data, gen)
	require.NoError(t, err)

	assert.Equal(t, 1, gen.Calls())
	assert.Same(t, first, second)
	assert.True(t, c.Contains(data))
}

func TestRegeneratesAfterTTL(t *testing.T) {
	clock := newFakeClock()
	c := NewCache(Options{TTL: time.Minute, MaxEntries: 10, Clock: clock.Now})
	gen := &countingGenerator{}
	data := []byte("aging")

	_, err := c.GetOrGenerate(context.Background(), nil, data, gen)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	assert.False(t, c.Contains(data))

	_, err = c.GetOrGenerate(context.Background(), nil, data, gen)
	require.NoError(t, err)
	assert.Equal(t, 2, gen.Calls())
	assert.Equal(t, 1, c.Len())
}

func TestEvictsOldestInserted(t *testing.T) {
	clock := newFakeClock()
	c := NewCache(Options{TTL: time.Hour, MaxEntries: 2, Clock: clock.Now})
	gen := &countingGenerator{}

	a, b, d := []byte("a"), []byte("b"), []byte("d")
	for _, data := range [][]byte{a, b} {
		_, err := c.GetOrGenerate(context.Background(), nil, data, gen)
		require.NoError(t, err)
	}
	// A hit on a does not refresh its insertion order.
	_, err := c.GetOrGenerate(context.Background(), nil, a, gen)
	require.NoError(t, err)
	_, err = c.GetOrGenerate(context.Background(), nil, d, gen)
	require.NoError(t, err)

	assert.Equal(t, 2, c.Len())
	assert.False(t, c.Contains(a))
	assert.True(t, c.Contains(b))
	assert.True(t, c.Contains(d))
	assert.Equal(t, 3, gen.Calls())
}

func TestFailedGenerationIsNotCached(t *testing.T) {
	c := NewCache(Options{TTL: time.Hour, MaxEntries: 4})
	gen := &countingGenerator{err: errors.New("decode failed")}
	data := []byte("broken")

	_, err := c.GetOrGenerate(context.Background(), nil, data, gen)
	require.Error(t, err)
	_, err = c.GetOrGenerate(context.Background(), nil, data, gen)
	require.Error(t, err)

	assert.Equal(t, 2, gen.Calls())
	assert.Equal(t, 0, c.Len())
}

func TestCancelledTokenSkipsGeneration(t *testing.T) {
	c := NewCache(Options{TTL: time.Hour, MaxEntries: 4})
	gen := &countingGenerator{}
	tok := cancel.New()
	tok.Cancel()

	_, err := c.GetOrGenerate(context.Background(), tok, []byte("x"), gen)
	assert.ErrorIs(t, err, cancel.ErrCancelled)
	assert.Equal(t, 0, gen.Calls())
	assert.Equal(t, 0, c.Len())
}

func TestPurge(t *testing.T) {
	clock := newFakeClock()
	c := NewCache(Options{TTL: time.Minute, MaxEntries: 4, Clock: clock.Now})
	gen := &countingGenerator{}

	_, _ = c.GetOrGenerate(context.Background(), nil, []byte("old"), gen)
	clock.Advance(2 * time.Minute)
	_, _ = c.GetOrGenerate(context.Background(), nil, []byte("new"), gen)

	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 1, c.Len())
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0x80, A: 0xff})
		}
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func TestThumbnailerScalesToFit(t *testing.T) {
	src := encodePNG(t, 400, 200)
	th := Thumbnailer{MaxWidth: 100, MaxHeight: 100}

	p, err := th.Generate(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 100, p.Width)
	assert.Equal(t, 50, p.Height)
	assert.Equal(t, len(p.Data), p.Size)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(p.Data))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

func TestThumbnailerNeverUpscales(t *testing.T) {
	p, err := Thumbnailer{MaxWidth: 640, MaxHeight: 480}.Generate(context.Background(), encodePNG(t, 32, 16))
	require.NoError(t, err)
	assert.Equal(t, 32, p.Width)
	assert.Equal(t, 16, p.Height)
}

func TestThumbnailerRejectsGarbage(t *testing.T) {
	_, err := Thumbnailer{MaxWidth: 10, MaxHeight: 10}.Generate(context.Background(), []byte("not an image"))
	assert.Error(t, err)

	_, err = Thumbnailer{}.Generate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptySource)
}

func TestFit(t *testing.T) {
	cases := []struct {
		w, h, maxW, maxH int
		wantW, wantH     int
	}{
		{1920, 1080, 320, 240, 320, 180},
		{1080, 1920, 320, 240, 135, 240},
		{100, 100, 0, 0, 100, 100},
		{5000, 10, 100, 100, 100, 1},
	}
	for _, tc := range cases {
		w, h := fit(tc.w, tc.h, tc.maxW, tc.maxH)
		assert.Equal(t, tc.wantW, w, "%dx%d", tc.w, tc.h)
		assert.Equal(t, tc.wantH, h, "%dx%d", tc.w, tc.h)
	}
}
