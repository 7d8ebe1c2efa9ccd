package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fentz26/glimpse/internal/controlplane"
	"github.com/fentz26/glimpse/internal/models"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// CaptureClientTimeout bounds capture requests, which may wait on a region
// selection.
const CaptureClientTimeout = 5 * time.Minute

// APIError is a non-2xx response from the daemon.
type APIError struct {
	Status int
	Body   controlplane.ErrorResponse
	Raw    string
}

func (e *APIError) Error() string {
	if e.Body.Error != "" {
		return fmt.Sprintf("API error (%d): %s", e.Status, e.Body.Error)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Raw)
}

// CaptureResult is the body of a successful POST /captures.
type CaptureResult struct {
	Item     models.Summary        `json:"item"`
	Pipeline models.PipelineResult `json:"pipeline"`
}

// Client wraps HTTP calls to the glimpse API.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	captureClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: DefaultClientTimeout},
		captureClient: &http.Client{Timeout: CaptureClientTimeout},
	}
}

// BaseURL returns the daemon address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CheckHealth returns the parsed health response. The payload is returned
// alongside the error on non-200 responses.
func (c *Client) CheckHealth() (*controlplane.HealthResponse, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	var health controlplane.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to parse health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &health, fmt.Errorf("health check failed (status %d): %s", resp.StatusCode, health.DB)
	}
	return &health, nil
}

// State fetches the coordinator and worker pool state.
func (c *Client) State() (*controlplane.StateResponse, error) {
	var state controlplane.StateResponse
	if err := c.get("/state", &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// ListCaptures fetches queued captures, oldest first. An empty category
// lists every queue.
func (c *Client) ListCaptures(category string) ([]models.Summary, error) {
	path := "/captures"
	if category != "" {
		path += "?category=" + url.QueryEscape(category)
	}
	var items []models.Summary
	if err := c.get(path, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// GetCapture fetches one queued capture.
func (c *Client) GetCapture(id string) (*models.Summary, error) {
	var item models.Summary
	if err := c.get("/captures/"+url.PathEscape(id), &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Capture takes a screenshot into category. Region captures block until
// the selection is resolved, aborted or timed out.
func (c *Client) Capture(category, mode string) (*CaptureResult, error) {
	body, err := c.send(c.captureClient, http.MethodPost, "/captures", controlplane.CaptureRequest{
		Category: category,
		Mode:     mode,
	})
	if err != nil {
		return nil, err
	}
	var res CaptureResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DeleteCapture removes a capture and its file.
func (c *Client) DeleteCapture(id string) error {
	_, err := c.send(c.httpClient, http.MethodDelete, "/captures/"+url.PathEscape(id), nil)
	return err
}

// ClearCaptures empties one queue, or all of them for an empty category.
func (c *Client) ClearCaptures(category string) (int, error) {
	body, err := c.send(c.httpClient, http.MethodPost, "/captures/clear", controlplane.ClearRequest{Category: category})
	if err != nil {
		return 0, err
	}
	var result struct {
		Removed int `json:"removed"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, err
	}
	return result.Removed, nil
}

// CancelCapture cancels the in-flight capture. It reports false when
// nothing was running.
func (c *Client) CancelCapture() (bool, error) {
	body, err := c.send(c.httpClient, http.MethodPost, "/captures/cancel", nil)
	if err != nil {
		return false, err
	}
	var result struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return false, err
	}
	return result.Cancelled, nil
}

// ResolveSelection answers a pending region selection.
func (c *Client) ResolveSelection(r models.Region) error {
	_, err := c.send(c.httpClient, http.MethodPost, "/selection", controlplane.SelectionRequest{Region: r})
	return err
}

// AbortSelection fails a pending region selection.
func (c *Client) AbortSelection() error {
	_, err := c.send(c.httpClient, http.MethodPost, "/selection", controlplane.SelectionRequest{Abort: true})
	return err
}

// ListJobs fetches pipeline jobs, optionally filtered by status.
func (c *Client) ListJobs(status string) ([]models.Job, error) {
	path := "/jobs"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var jobs []models.Job
	if err := c.get(path, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetJob fetches a job with its artifacts.
func (c *Client) GetJob(id string) (*controlplane.JobResponse, error) {
	var job controlplane.JobResponse
	if err := c.get("/jobs/"+url.PathEscape(id), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Audit fetches recent decision records, optionally for one capture.
func (c *Client) Audit(captureID string, limit int) ([]models.PDREntry, error) {
	q := url.Values{}
	if captureID != "" {
		q.Set("capture_id", captureID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/audit"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var entries []models.PDREntry
	if err := c.get(path, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) get(path string, out interface{}) error {
	body, err := c.send(c.httpClient, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (c *Client) send(hc *http.Client, method, path string, data interface{}) ([]byte, error) {
	var reader io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Raw: string(bytes.TrimSpace(body))}
		_ = json.Unmarshal(body, &apiErr.Body)
		return nil, apiErr
	}
	return body, nil
}
