package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/fentz26/glimpse/internal/models"
)

// ErrNoArtifacts fails a job that has nothing attached.
var ErrNoArtifacts = errors.New("job has no artifacts")

// Input is one attached artifact with its bytes.
type Input struct {
	Artifact models.Artifact
	Data     []byte
}

// Processor turns a claimed job into a result string stored on the job.
type Processor interface {
	Name() string
	Process(ctx context.Context, job *models.Job, inputs []Input) (string, error)
}

// ImageSummary reports the decoded geometry of every attached capture.
type ImageSummary struct{}

// ImageInfo describes one summarized artifact.
type ImageInfo struct {
	ArtifactID string `json:"artifact_id"`
	FileName   string `json:"file_name"`
	MimeType   string `json:"mime_type"`
	Format     string `json:"format"`
	Size       int    `json:"size"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// Summary is the JSON result written by ImageSummary.
type Summary struct {
	JobID  string      `json:"job_id"`
	Title  string      `json:"title"`
	Images []ImageInfo `json:"images"`
}

func (ImageSummary) Name() string { return "image-summary" }

func (ImageSummary) Process(ctx context.Context, job *models.Job, inputs []Input) (string, error) {
	if len(inputs) == 0 {
		return "", ErrNoArtifacts
	}
	out := Summary{JobID: job.ID, Title: job.Title}
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		cfg, format, err := image.DecodeConfig(bytes.NewReader(in.Data))
		if err != nil {
			return "", fmt.Errorf("decode artifact %s: %w", in.Artifact.ID, err)
		}
		out.Images = append(out.Images, ImageInfo{
			ArtifactID: in.Artifact.ID,
			FileName:   in.Artifact.Metadata.FileName,
			MimeType:   in.Artifact.Metadata.MimeType,
			Format:     format,
			Size:       len(in.Data),
			Width:      cfg.Width,
			Height:     cfg.Height,
		})
	}
	body, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	return string(body), nil
}
