package remote

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"
)

// ServiceError represents a non-2xx response from the compilation service.
type ServiceError struct {
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("compilation service: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx). Client errors (4xx) are
// considered permanent.
func (e *ServiceError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// HTTPClient talks to the remote compilation service over HTTP.
type HTTPClient struct {
	baseURL    string
	token      string
	deviceID   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPClient creates a client for the service at baseURL. The client
// timeout bounds individual calls; uploads of large assets rely on the
// per-request context instead, so the transport timeout stays generous.
func NewHTTPClient(baseURL, token string, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
		logger: logger,
	}
}

// SetDeviceID attaches the agent's device id to outgoing requests.
func (c *HTTPClient) SetDeviceID(id string) {
	c.deviceID = id
}

func (c *HTTPClient) Health(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/health", nil, "")
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health probe failed: %w", err)
	}
	defer resp.Body.Close()

	body := readBody(resp)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ServiceError{StatusCode: resp.StatusCode, Body: body}
	}
	return nil
}

func (c *HTTPClient) UploadAsset(ctx context.Context, name string, size int64, r io.Reader) (string, error) {
	// The multipart body is streamed through a pipe so large assets are not
	// buffered in memory.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("asset", name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/upload", pr, mw.FormDataContentType())
	if err != nil {
		return "", err
	}

	c.logger.Info("uploading asset", "name", name, "bytes", size)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("asset upload failed: %w", err)
	}
	defer resp.Body.Close()

	body := readBody(resp)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &ServiceError{StatusCode: resp.StatusCode, Body: body}
	}

	var result struct {
		AssetID string `json:"asset_id"`
	}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		return "", fmt.Errorf("parse upload response: %w", err)
	}
	if result.AssetID == "" {
		return "", fmt.Errorf("upload response missing asset_id")
	}

	c.logger.Info("asset uploaded", "name", name, "asset_id", result.AssetID)
	return result.AssetID, nil
}

func (c *HTTPClient) SubmitCompile(ctx context.Context, manifest CompileManifest) (*SubmitResult, error) {
	payload, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal compile manifest: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/compile", bytes.NewReader(payload), "application/json")
	if err != nil {
		return nil, err
	}

	c.logger.Info("submitting compile",
		"segments", manifest.Segments,
		"assets", len(manifest.AssetIDs),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("compile submission failed: %w", err)
	}
	defer resp.Body.Close()

	body := readBody(resp)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ServiceError{StatusCode: resp.StatusCode, Body: body}
	}

	var result SubmitResult
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		return nil, fmt.Errorf("parse compile response: %w", err)
	}
	if result.JobID == "" && result.DownloadURL == "" {
		return nil, fmt.Errorf("compile response carries neither job_id nor download_url")
	}
	return &result, nil
}

func (c *HTTPClient) Progress(ctx context.Context, jobID string) (*JobProgress, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/progress/"+jobID, nil, "")
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("progress poll failed: %w", err)
	}
	defer resp.Body.Close()

	body := readBody(resp)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ServiceError{StatusCode: resp.StatusCode, Body: body}
	}

	var progress JobProgress
	if err := json.Unmarshal([]byte(body), &progress); err != nil {
		return nil, fmt.Errorf("parse progress response: %w", err)
	}
	return &progress, nil
}

func (c *HTTPClient) CancelJob(ctx context.Context, jobID string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/jobs/"+jobID+"/cancel", nil, "")
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("job cancel failed: %w", err)
	}
	defer resp.Body.Close()

	body := readBody(resp)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ServiceError{StatusCode: resp.StatusCode, Body: body}
	}
	return nil
}

func (c *HTTPClient) DeleteAsset(ctx context.Context, assetID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/v1/assets/"+assetID, nil, "")
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("asset delete failed: %w", err)
	}
	defer resp.Body.Close()

	body := readBody(resp)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ServiceError{StatusCode: resp.StatusCode, Body: body}
	}
	return nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Cutroom-Request-Id", generateRequestID())
	if c.deviceID != "" {
		req.Header.Set("X-Cutroom-Device-Id", c.deviceID)
	}

	return req, nil
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return string(b)
}

func generateRequestID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}
