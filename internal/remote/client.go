// Package remote is the HTTP client for the remote compilation service: the
// full-fidelity tier the engine tries before falling back to local rendering.
package remote

import (
	"context"
	"io"
)

// JobStatus values reported by the service. Transitions are monotonic:
// pending -> uploading -> transcoding -> succeeded | failed.
const (
	StatusPending     = "pending"
	StatusUploading   = "uploading"
	StatusTranscoding = "transcoding"
	StatusSucceeded   = "succeeded"
	StatusFailed      = "failed"
)

// IsTerminal reports whether a status ends a job's lifecycle.
func IsTerminal(status string) bool {
	return status == StatusSucceeded || status == StatusFailed
}

// CompileManifest describes one compile request: the serialised filter graph
// plus the remote ids of the already-transferred unique assets, in graph
// input order.
type CompileManifest struct {
	FilterComplex string   `json:"filter_complex"`
	Segments      int      `json:"segments"`
	AssetIDs      []string `json:"asset_ids"`
	OutputFormat  string   `json:"output_format"`
}

// JobProgress is one poll response.
type JobProgress struct {
	Status      string  `json:"status"`
	Percent     float64 `json:"percent"`
	Stage       string  `json:"stage"`
	DownloadURL string  `json:"download_url,omitempty"`
	OutputFile  string  `json:"output_file,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// SubmitResult is the service's answer to a compile submission. Small jobs
// may complete synchronously, in which case DownloadURL is set and JobID is
// empty; otherwise the job must be polled.
type SubmitResult struct {
	JobID       string `json:"job_id,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	OutputFile  string `json:"output_file,omitempty"`
}

// Client is the remote compilation service contract consumed by the engine.
type Client interface {
	// Health probes service availability with a bounded timeout.
	Health(ctx context.Context) error

	// UploadAsset streams one source asset and returns its remote asset id.
	UploadAsset(ctx context.Context, name string, size int64, r io.Reader) (string, error)

	// SubmitCompile submits a compile manifest for transferred assets.
	SubmitCompile(ctx context.Context, manifest CompileManifest) (*SubmitResult, error)

	// Progress fetches the current job state.
	Progress(ctx context.Context, jobID string) (*JobProgress, error)

	// CancelJob asks the service to abandon a job. Best effort.
	CancelJob(ctx context.Context, jobID string) error

	// DeleteAsset removes a transferred asset that is no longer needed.
	DeleteAsset(ctx context.Context, assetID string) error
}
