// Package engine is the compilation orchestrator: the single state machine
// that turns a timeline snapshot into a finished artifact across the remote
// and local tiers, with uniform progress reporting, cooperative cancellation
// and cleanup on every exit path.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cutroom/cutroom-agent/internal/filtergraph"
	"github.com/cutroom/cutroom-agent/internal/jobs"
	"github.com/cutroom/cutroom-agent/internal/remote"
	"github.com/cutroom/cutroom-agent/internal/render"
	"github.com/cutroom/cutroom-agent/internal/timeline"
	"github.com/cutroom/cutroom-agent/internal/transfer"
)

// Progress budget boundaries on the caller-visible 0-100 scale. The fallback
// tier rescales whatever remains from its entry point so the bar never moves
// backward.
const (
	budgetValidateEnd = 5.0
	budgetProbeEnd    = 10.0
	budgetTransferEnd = 50.0
	budgetRemoteEnd   = 95.0
)

// Tier labels recorded on results.
const (
	TierRemote = "remote"
	TierLocal  = "local"
)

// ProgressFunc receives overall compile progress: percent 0..100,
// monotonically non-decreasing across the whole operation, plus a stage
// label.
type ProgressFunc func(percent float64, stage string)

// CompilationResult is the only artifact allowed to outlive the operation.
type CompilationResult struct {
	ArtifactLocation string  `json:"artifact_location"`
	ArtifactName     string  `json:"artifact_name"`
	Fidelity         string  `json:"fidelity"`
	Tier             string  `json:"tier"`
	DurationSeconds  float64 `json:"duration_seconds"`
}

// Renderer is the local fallback tier contract.
type Renderer interface {
	Render(ctx context.Context, tl timeline.Timeline, onProgress render.ProgressFunc) (*render.Result, error)
}

// Config holds orchestration settings.
type Config struct {
	ProbeTimeout  time.Duration
	MaxAssetBytes int64
	OutputFormat  string
	Logger        *slog.Logger
}

// Engine runs at most one compile operation at a time. Transfer handles and
// the active job are owned exclusively by the in-flight operation.
type Engine struct {
	client   remote.Client
	watcher  *jobs.Watcher
	renderer Renderer
	cfg      Config
	logger   *slog.Logger

	mu       sync.Mutex
	active   bool
	cancelFn context.CancelFunc
}

func New(client remote.Client, watcher *jobs.Watcher, renderer Renderer, cfg Config) *Engine {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "mp4"
	}
	return &Engine{
		client:   client,
		watcher:  watcher,
		renderer: renderer,
		cfg:      cfg,
		logger:   cfg.Logger,
	}
}

// Cancel requests cooperative cancellation of the in-flight compile. The
// operation unwinds within at most one poll interval and fails with
// CancelledError.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelFn != nil {
		e.cancelFn()
	}
}

// Active reports whether a compile is currently in flight.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Compile runs the full state machine:
//
//	Validate -> ProbeRemote -> Transfer -> RemoteCompile -> (fallback) LocalRender
//
// Recoverable failures (probe, transfer, remote compile, timeout) are
// swallowed and escalate to the fallback tier; only validation errors,
// cancellation, and fallback failure surface to the caller.
func (e *Engine) Compile(ctx context.Context, tl timeline.Timeline, onProgress ProgressFunc) (*CompilationResult, error) {
	ctx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer e.end()

	progress := newProgressClamp(onProgress)

	// Step 1: Validate. The snapshot taken here is what compiles; reordering
	// the source timeline afterwards has no effect on this operation.
	snapshot := tl.Snapshot()
	if err := e.validate(snapshot); err != nil {
		return nil, err
	}
	progress.Report(budgetValidateEnd, "validated")

	if ctx.Err() != nil {
		return nil, &CancelledError{}
	}

	// Per-operation transfer state; released on every exit path.
	mgr := transfer.NewManager(e.client, e.logger)
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		mgr.Release(cleanupCtx)
	}()

	// Steps 2-4: the remote tier. Any recoverable failure drops through to
	// the fallback with the progress bar held at its high-water mark.
	result, err := e.tryRemote(ctx, snapshot, mgr, progress)
	if err == nil {
		progress.Report(100, "complete")
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, &CancelledError{}
	}
	e.logger.Warn("remote tier unavailable, falling back to local render", "reason", err)

	// Step 5: FallbackCompile. Its outcome, success or error, is final.
	return e.fallback(ctx, snapshot, progress)
}

func (e *Engine) begin(ctx context.Context) (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active {
		return nil, ErrCompileInProgress
	}
	opCtx, cancel := context.WithCancel(ctx)
	e.active = true
	e.cancelFn = cancel
	return opCtx, nil
}

func (e *Engine) end() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelFn != nil {
		e.cancelFn()
	}
	e.active = false
	e.cancelFn = nil
}

func (e *Engine) validate(tl timeline.Timeline) error {
	if len(tl.Clips) == 0 {
		return &ValidationError{Detail: "timeline has no clips"}
	}
	for _, clip := range tl.Clips {
		if clip.TrimDuration <= 0 {
			return &ValidationError{Detail: fmt.Sprintf("clip %s has non-positive trim duration", clip.ID)}
		}
		if clip.TrimStart < 0 {
			return &ValidationError{Detail: fmt.Sprintf("clip %s has negative trim start", clip.ID)}
		}
		if clip.Position < 0 {
			return &ValidationError{Detail: fmt.Sprintf("clip %s has negative timeline position", clip.ID)}
		}
		if e.cfg.MaxAssetBytes > 0 && clip.ByteSize > e.cfg.MaxAssetBytes {
			return &ValidationError{Detail: fmt.Sprintf(
				"asset %s exceeds maximum size (%d > %d bytes)",
				clip.Name, clip.ByteSize, e.cfg.MaxAssetBytes)}
		}
	}
	return nil
}

// tryRemote runs ProbeRemote, Transfer and RemoteCompile. Every error it
// returns is recoverable; the caller escalates to the fallback tier.
func (e *Engine) tryRemote(ctx context.Context, snapshot timeline.Timeline, mgr *transfer.Manager, progress *progressClamp) (*CompilationResult, error) {
	// Step 2: ProbeRemote with a short bounded timeout.
	probeCtx, cancel := context.WithTimeout(ctx, e.cfg.ProbeTimeout)
	err := e.client.Health(probeCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("health probe: %w", err)
	}
	progress.Report(budgetProbeEnd, "remote service available")

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Step 3: Transfer. Unique assets upload in parallel; byte progress is
	// scaled into the reserved 10-50 window.
	mgr.Register(snapshot.Sorted())
	transferSpan := budgetTransferEnd - budgetProbeEnd
	_, err = mgr.TransferAll(ctx, func(fraction float64) {
		progress.Report(budgetProbeEnd+fraction*transferSpan, "uploading assets")
	})
	if err != nil {
		return nil, err
	}
	progress.Report(budgetTransferEnd, "assets transferred")

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Step 4: RemoteCompile. The filter graph is built only now, after
	// every referenced asset is guaranteed resolvable.
	descriptor, err := filtergraph.Compile(snapshot)
	if err != nil {
		return nil, err
	}

	assetIDs := make([]string, 0, len(descriptor.Inputs()))
	for _, input := range descriptor.Inputs() {
		remoteID, ok := resolveInput(snapshot, mgr, input.AssetID)
		if !ok {
			return nil, &UnresolvedAssetError{AssetID: input.AssetID}
		}
		assetIDs = append(assetIDs, remoteID)
	}

	submitted, err := e.client.SubmitCompile(ctx, remote.CompileManifest{
		FilterComplex: descriptor.FilterComplex(),
		Segments:      descriptor.SegmentCount(),
		AssetIDs:      assetIDs,
		OutputFormat:  e.cfg.OutputFormat,
	})
	if err != nil {
		return nil, err
	}

	// Small jobs may complete synchronously.
	if submitted.JobID == "" {
		return e.remoteResult(snapshot, submitted.DownloadURL, submitted.OutputFile), nil
	}

	remoteSpan := budgetRemoteEnd - budgetTransferEnd
	final, err := e.watcher.Await(ctx, submitted.JobID, func(percent float64, stage string) {
		progress.Report(budgetTransferEnd+percent/100*remoteSpan, stage)
	})
	if err != nil {
		return nil, err
	}

	return e.remoteResult(snapshot, final.DownloadURL, final.OutputFile), nil
}

func (e *Engine) remoteResult(snapshot timeline.Timeline, downloadURL, outputFile string) *CompilationResult {
	name := outputFile
	if name == "" {
		name = render.ArtifactName(e.cfg.OutputFormat)
	}
	return &CompilationResult{
		ArtifactLocation: downloadURL,
		ArtifactName:     name,
		Fidelity:         render.FidelityFull,
		Tier:             TierRemote,
		DurationSeconds:  snapshot.Duration(),
	}
}

// fallback rescales the remaining budget from the current high-water mark to
// 100 so the bar never resets backward, then runs the local renderer.
func (e *Engine) fallback(ctx context.Context, snapshot timeline.Timeline, progress *progressClamp) (*CompilationResult, error) {
	entry := progress.Current()
	span := 100 - entry

	result, err := e.renderer.Render(ctx, snapshot, func(fraction float64, stage string) {
		progress.Report(entry+fraction*span, stage)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, &CancelledError{}
		}
		return nil, err
	}

	progress.Report(100, "complete")
	return &CompilationResult{
		ArtifactLocation: result.ArtifactPath,
		ArtifactName:     result.ArtifactName,
		Fidelity:         result.Fidelity,
		Tier:             TierLocal,
		DurationSeconds:  result.DurationSeconds,
	}, nil
}

// resolveInput maps a descriptor input's asset id back to the remote id of
// its transferred asset via the owning clip's fingerprint.
func resolveInput(snapshot timeline.Timeline, mgr *transfer.Manager, assetID string) (string, bool) {
	for _, clip := range snapshot.Clips {
		if clip.AssetID != assetID {
			continue
		}
		if id, ok := mgr.Resolve(timeline.FingerprintOf(clip)); ok {
			return id, true
		}
	}
	return "", false
}

// progressClamp enforces global monotonicity: no callback across the whole
// operation ever observes a smaller percent than an earlier one.
type progressClamp struct {
	mu        sync.Mutex
	highWater float64
	fn        ProgressFunc
}

func newProgressClamp(fn ProgressFunc) *progressClamp {
	return &progressClamp{fn: fn}
}

func (p *progressClamp) Report(percent float64, stage string) {
	p.mu.Lock()
	if percent > p.highWater {
		p.highWater = percent
	}
	value := p.highWater
	fn := p.fn
	p.mu.Unlock()

	if fn != nil {
		fn(value, stage)
	}
}

func (p *progressClamp) Current() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.highWater
}
