// Package backend is the HTTP client for the external tool-execution
// backend. All calls are bounded by the configured timeout; failures are
// reported as either a transient *types.BackendUnavailableError (network
// errors, timeouts, 5xx) or a definitive rejection (*types.NotFoundError,
// *types.ValidationError for 4xx). Callers use the distinction to decide
// whether local records must be rolled back.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/latticeworks/facet/internal/types"
)

// Status is the backend-reported liveness of an interactive session.
type Status string

const (
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
	StatusUnknown Status = "unknown"
)

// AppDescriptor is one application as reported by the backend's
// application listing.
type AppDescriptor struct {
	Name        string          `json:"name"`
	Slug        string          `json:"slug"`
	Version     string          `json:"version"`
	URL         string          `json:"url"`
	Description string          `json:"description"`
	GUIPort     int             `json:"gui_port"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// SessionOutput describes the dataset a closed session produced. The bytes
// stay in the backend; DatasetID is the backend reference for them.
type SessionOutput struct {
	DatasetID string `json:"dataset_id"`
	Filename  string `json:"filename"`
	Filetype  string `json:"filetype"`
}

// Client is the contract the service core depends on. HTTPClient is the
// production implementation; tests substitute fakes.
type Client interface {
	Upload(ctx context.Context, filename string, data []byte) (string, error)
	Download(ctx context.Context, backendID string) ([]byte, error)
	Delete(ctx context.Context, backendID string) error
	StartSession(ctx context.Context, slug, version, backendID string) (string, error)
	SessionStatus(ctx context.Context, sessionID string) (Status, error)
	EndSession(ctx context.Context, sessionID string) (*SessionOutput, error)
	ListApplications(ctx context.Context) ([]AppDescriptor, error)
}

// HTTPClient talks to the backend REST API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient returns a client for the backend at baseURL. Every call is
// bounded by timeout in addition to any caller context deadline.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// uploadResponse mirrors the backend create-dataset payload.
type uploadResponse struct {
	DatasetID string `json:"dataset_id"`
}

type startSessionResponse struct {
	InteractiveSessionID string `json:"interactive_session_id"`
}

type sessionStatusResponse struct {
	Status string `json:"status"`
}

type closeSessionResponse struct {
	Status string         `json:"status"`
	Output *SessionOutput `json:"output,omitempty"`
}

type listApplicationsResponse struct {
	Applications []AppDescriptor `json:"applications"`
}

// Upload sends file bytes to the backend as a new dataset and returns the
// backend reference for it.
func (c *HTTPClient) Upload(ctx context.Context, filename string, data []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build upload body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to build upload body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/datasets", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var out uploadResponse
	if err := c.do("upload", req, &out); err != nil {
		return "", err
	}
	return out.DatasetID, nil
}

// Download fetches the raw bytes of a backend dataset.
func (c *HTTPClient) Download(ctx context.Context, backendID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/datasets/"+backendID+"/download", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &types.BackendUnavailableError{Op: "download", Err: err}
	}
	defer resp.Body.Close()

	if err := c.checkStatus("download", resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

// Delete instructs the backend to remove a dataset.
func (c *HTTPClient) Delete(ctx context.Context, backendID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/datasets/"+backendID, nil)
	if err != nil {
		return err
	}
	return c.do("delete", req, nil)
}

// StartSession opens an interactive session of the given application against
// a backend dataset and returns the backend session id.
func (c *HTTPClient) StartSession(ctx context.Context, slug, version, backendID string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"application_slug":    slug,
		"application_version": version,
		"dataset_id":          backendID,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/interactive-sessions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var out startSessionResponse
	if err := c.do("start_session", req, &out); err != nil {
		return "", err
	}
	return out.InteractiveSessionID, nil
}

// SessionStatus asks the backend whether it still recognises a session.
// An HTTP 404 is a definitive answer, not an outage: it maps to
// StatusUnknown with no error.
func (c *HTTPClient) SessionStatus(ctx context.Context, sessionID string) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/interactive-sessions/"+sessionID, nil)
	if err != nil {
		return StatusUnknown, err
	}

	var out sessionStatusResponse
	if err := c.do("session_status", req, &out); err != nil {
		var nf *types.NotFoundError
		if errors.As(err, &nf) {
			return StatusUnknown, nil
		}
		return StatusUnknown, err
	}

	switch out.Status {
	case "active", "running":
		return StatusActive, nil
	case "ended", "successful", "closed":
		return StatusEnded, nil
	}
	return StatusUnknown, nil
}

// EndSession closes an interactive session. The returned output is nil when
// the session produced no new dataset.
func (c *HTTPClient) EndSession(ctx context.Context, sessionID string) (*SessionOutput, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/interactive-sessions/"+sessionID+"/close", nil)
	if err != nil {
		return nil, err
	}

	var out closeSessionResponse
	if err := c.do("end_session", req, &out); err != nil {
		return nil, err
	}
	if out.Output != nil && out.Output.DatasetID == "" {
		return nil, nil
	}
	return out.Output, nil
}

// ListApplications fetches the applications currently installed in the
// backend.
func (c *HTTPClient) ListApplications(ctx context.Context) ([]AppDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/applications", nil)
	if err != nil {
		return nil, err
	}

	var out listApplicationsResponse
	if err := c.do("list_applications", req, &out); err != nil {
		return nil, err
	}
	return out.Applications, nil
}

// do executes a request and decodes a JSON body into out when non-nil.
func (c *HTTPClient) do(op string, req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &types.BackendUnavailableError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if err := c.checkStatus(op, resp); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &types.BackendUnavailableError{Op: op, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}

// checkStatus maps HTTP status classes onto the error taxonomy.
func (c *HTTPClient) checkStatus(op string, resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return &types.NotFoundError{Resource: "backend resource", ID: op}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &types.ValidationError{Message: fmt.Sprintf("backend rejected %s: %s", op, string(body))}
	default:
		return &types.BackendUnavailableError{Op: op, Err: fmt.Errorf("backend returned status %d", resp.StatusCode)}
	}
}
