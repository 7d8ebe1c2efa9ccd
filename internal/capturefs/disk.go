// Package capturefs persists capture bytes to disk under deterministic names.
package capturefs

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fentz26/glimpse/internal/models"
)

// Format is an on-disk encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// ParseFormat parses a format name. "jpg" is accepted as jpeg.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "png", "":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	default:
		return "", fmt.Errorf("unknown capture format %q", s)
	}
}

// Ext returns the file extension without the dot.
func (f Format) Ext() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return "png"
}

// MimeType returns the media type for the format.
func (f Format) MimeType() string {
	if t := mime.TypeByExtension("." + f.Ext()); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Written describes a persisted capture.
type Written struct {
	Path     string
	MimeType string
	Data     []byte
}

// Disk writes captures into a single directory.
type Disk struct {
	dir     string
	format  Format
	quality int
	clock   func() time.Time
}

// Options configure a Disk persister.
type Options struct {
	Dir     string
	Format  Format
	Quality int
	Clock   func() time.Time
}

// NewDisk validates options and ensures the directory exists.
func NewDisk(opts Options) (*Disk, error) {
	if opts.Dir == "" {
		return nil, errors.New("capture directory must not be empty")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure capture directory: %w", err)
	}
	format := opts.Format
	if format == "" {
		format = FormatPNG
	}
	quality := opts.Quality
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Disk{dir: opts.Dir, format: format, quality: quality, clock: clock}, nil
}

// Dir returns the capture directory.
func (d *Disk) Dir() string { return d.dir }

// Format returns the on-disk encoding.
func (d *Disk) Format() Format { return d.format }

// FileName returns {category}_{mode}_{timestamp}.{ext} for a capture taken
// at t.
func (d *Disk) FileName(category models.CaptureCategory, mode models.CaptureMode, t time.Time) string {
	stamp := t.UTC().Format("20060102T150405.000Z")
	stamp = strings.ReplaceAll(stamp, ".", "")
	return fmt.Sprintf("%s_%s_%s.%s", category, mode, stamp, d.format.Ext())
}

// Write encodes data in the configured format and writes it to a new file.
// PNG input is stored as-is for FormatPNG and transcoded otherwise. The
// returned Data is exactly what was written.
func (d *Disk) Write(category models.CaptureCategory, mode models.CaptureMode, data []byte) (Written, error) {
	if len(data) == 0 {
		return Written{}, errors.New("capture data is empty")
	}
	encoded, err := d.encode(data)
	if err != nil {
		return Written{}, err
	}

	name := d.FileName(category, mode, d.clock())
	f, path, err := d.create(name)
	if err != nil {
		return Written{}, err
	}
	if _, err := f.Write(encoded); err != nil {
		f.Close()
		os.Remove(path)
		return Written{}, fmt.Errorf("write capture %q: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return Written{}, fmt.Errorf("close capture %q: %w", name, err)
	}
	return Written{Path: path, MimeType: d.format.MimeType(), Data: encoded}, nil
}

// create opens name exclusively, adding a numeric suffix if a file with the
// same timestamp already exists.
func (d *Disk) create(name string) (*os.File, string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 0; i < 100; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", base, i, ext)
		}
		path := filepath.Join(d.dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("create capture %q: %w", candidate, err)
		}
	}
	return nil, "", fmt.Errorf("create capture %q: too many collisions", name)
}

func (d *Disk) encode(data []byte) ([]byte, error) {
	if d.format == FormatPNG {
		if !isPNG(data) {
			return nil, errors.New("capture data is not PNG")
		}
		return data, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode capture: %w", err)
	}
	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: d.quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Delete removes a persisted capture. A missing file is not an error.
func (d *Disk) Delete(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete capture: %w", err)
	}
	return nil
}

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func isPNG(data []byte) bool {
	return bytes.HasPrefix(data, pngMagic)
}
