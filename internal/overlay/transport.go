package overlay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// LogTransport is used when no overlay process is attached. It only logs.
type LogTransport struct {
	Logger *zap.Logger
}

func (t LogTransport) RequestHide(ctx context.Context) error {
	if t.Logger != nil {
		t.Logger.Debug("overlay hide requested (no overlay attached)")
	}
	return nil
}

func (t LogTransport) RequestShow(ctx context.Context) error {
	if t.Logger != nil {
		t.Logger.Debug("overlay show requested (no overlay attached)")
	}
	return nil
}

// HTTPTransport posts visibility commands to an overlay process listening
// on a local endpoint.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
}

// NewHTTPTransport creates a transport for the given endpoint URL.
func NewHTTPTransport(endpoint string) *HTTPTransport {
	return &HTTPTransport{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

type visibilityRequest struct {
	Action string `json:"action"`
}

func (t *HTTPTransport) RequestHide(ctx context.Context) error {
	return t.post(ctx, "hide")
}

func (t *HTTPTransport) RequestShow(ctx context.Context) error {
	return t.post(ctx, "show")
}

func (t *HTTPTransport) post(ctx context.Context, action string) error {
	body, err := json.Marshal(visibilityRequest{Action: action})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("overlay %s: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("overlay %s: status %d: %s", action, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
