package remote

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// ErrNotConfigured is returned by every StubClient call. The health probe
// failing with it sends each compile straight to the local tier.
var ErrNotConfigured = errors.New("remote transcode service not configured")

// StubClient stands in when no remote transcode service is configured.
type StubClient struct {
	logger *slog.Logger
}

func NewStubClient(logger *slog.Logger) *StubClient {
	return &StubClient{logger: logger}
}

func (c *StubClient) Health(ctx context.Context) error {
	return ErrNotConfigured
}

func (c *StubClient) UploadAsset(ctx context.Context, name string, size int64, r io.Reader) (string, error) {
	return "", ErrNotConfigured
}

func (c *StubClient) SubmitCompile(ctx context.Context, m CompileManifest) (*SubmitResult, error) {
	return nil, ErrNotConfigured
}

func (c *StubClient) Progress(ctx context.Context, jobID string) (*JobProgress, error) {
	return nil, ErrNotConfigured
}

func (c *StubClient) CancelJob(ctx context.Context, jobID string) error {
	return nil
}

func (c *StubClient) DeleteAsset(ctx context.Context, assetID string) error {
	return nil
}
