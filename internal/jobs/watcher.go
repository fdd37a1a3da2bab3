// Package jobs tracks remote compile jobs to completion: a time-gated polling
// loop with a monotonic progress clamp, an overall timeout, and immediate
// cancel propagation.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cutroom/cutroom-agent/internal/remote"
)

const (
	DefaultPollInterval   = 750 * time.Millisecond
	DefaultOverallTimeout = 10 * time.Minute
	defaultPollTimeout    = 15 * time.Second

	// Consecutive poll failures tolerated before the job is declared failed.
	maxConsecutivePollFailures = 5
)

// TimeoutError is synthesised when a job does not reach a terminal state
// within the overall timeout. The job is treated as failed without further
// polling.
type TimeoutError struct {
	JobID string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s did not complete within %s", e.JobID, e.After)
}

// RemoteCompileError is a job that reached the failed state, or whose
// progress could no longer be observed.
type RemoteCompileError struct {
	JobID  string
	Detail string
}

func (e *RemoteCompileError) Error() string {
	return fmt.Sprintf("remote compile job %s failed: %s", e.JobID, e.Detail)
}

// ProgressFunc receives clamped job progress: percent is 0..100 and never
// regresses within one Await call.
type ProgressFunc func(percent float64, stage string)

// Watcher polls one job at a time. It holds no per-job state between calls.
type Watcher struct {
	client         remote.Client
	logger         *slog.Logger
	pollInterval   time.Duration
	overallTimeout time.Duration
	pollTimeout    time.Duration
}

// Option adjusts watcher timing. Exposed for configuration and tests.
type Option func(*Watcher)

func WithPollInterval(d time.Duration) Option   { return func(w *Watcher) { w.pollInterval = d } }
func WithOverallTimeout(d time.Duration) Option { return func(w *Watcher) { w.overallTimeout = d } }

func NewWatcher(client remote.Client, logger *slog.Logger, opts ...Option) *Watcher {
	w := &Watcher{
		client:         client,
		logger:         logger,
		pollInterval:   DefaultPollInterval,
		overallTimeout: DefaultOverallTimeout,
		pollTimeout:    defaultPollTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Await polls the job until it reaches a terminal state, the overall timeout
// elapses, or ctx is cancelled. Cancellation stops polling immediately and
// sends one cancel request to the service. Progress reported to onProgress is
// clamped to be monotonically non-decreasing even if the service regresses.
func (w *Watcher) Await(ctx context.Context, jobID string, onProgress ProgressFunc) (*remote.JobProgress, error) {
	deadline := time.Now().Add(w.overallTimeout)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var highWater float64
	pollFailures := 0

	for {
		progress, err := w.pollOnce(ctx, jobID)
		switch {
		case err != nil && ctx.Err() != nil:
			w.cancelRemote(jobID)
			return nil, ctx.Err()
		case err != nil:
			pollFailures++
			w.logger.Warn("progress poll failed",
				"job_id", jobID,
				"consecutive_failures", pollFailures,
				"error", err,
			)
			if pollFailures >= maxConsecutivePollFailures {
				return nil, &RemoteCompileError{JobID: jobID, Detail: fmt.Sprintf("progress unobservable: %v", err)}
			}
		default:
			pollFailures = 0
			if progress.Percent > highWater {
				highWater = progress.Percent
			}
			if onProgress != nil {
				onProgress(highWater, progress.Stage)
			}

			if remote.IsTerminal(progress.Status) {
				if progress.Status == remote.StatusFailed {
					return nil, &RemoteCompileError{JobID: jobID, Detail: progress.Error}
				}
				clamped := *progress
				clamped.Percent = highWater
				return &clamped, nil
			}
		}

		if time.Now().After(deadline) {
			w.logger.Warn("job timed out", "job_id", jobID, "after", w.overallTimeout)
			w.cancelRemote(jobID)
			return nil, &TimeoutError{JobID: jobID, After: w.overallTimeout}
		}

		select {
		case <-ctx.Done():
			w.cancelRemote(jobID)
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Watcher) pollOnce(ctx context.Context, jobID string) (*remote.JobProgress, error) {
	pollCtx, cancel := context.WithTimeout(ctx, w.pollTimeout)
	defer cancel()
	return w.client.Progress(pollCtx, jobID)
}

// cancelRemote sends a best-effort cancel on a fresh short-lived context,
// since the caller's context is typically already cancelled or expired here.
func (w *Watcher) cancelRemote(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.client.CancelJob(ctx, jobID); err != nil {
		w.logger.Warn("remote job cancel failed", "job_id", jobID, "error", err)
	}
}
