package render

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/cutroom/cutroom-agent/internal/timeline"
)

// DefaultFrameRate is the fixed target frame rate of the fallback tier.
const DefaultFrameRate = 30

// Fidelity labels distinguishing fallback output from the remote tier.
const (
	FidelityFull    = "full"
	FidelityReduced = "reduced"
)

// LocalRenderError means the fallback tier itself failed: no segment of any
// clip could be decoded. It is the last resort, so this error is surfaced.
type LocalRenderError struct {
	Detail string
}

func (e *LocalRenderError) Error() string {
	return "local render failed: " + e.Detail
}

// ProgressFunc receives the fraction (0..1) of render work done plus a stage
// label. The orchestrator rescales it into its remaining budget.
type ProgressFunc func(fraction float64, stage string)

// Result is the renderer's artifact. Fidelity is always FidelityReduced:
// this tier must never pass itself off as the remote output.
type Result struct {
	ArtifactPath    string
	ArtifactName    string
	Fidelity        string
	DurationSeconds float64
	PlaceholderIDs  []string // clips that degraded to placeholder frames
}

// Config holds renderer settings.
type Config struct {
	OutputDir string
	FrameRate int
	Logger    *slog.Logger
}

// Renderer assembles a timeline into one media container locally.
type Renderer struct {
	tool   Tool
	cfg    Config
	logger *slog.Logger
}

func New(tool Tool, cfg Config) *Renderer {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultFrameRate
	}
	return &Renderer{tool: tool, cfg: cfg, logger: cfg.Logger}
}

// FramesFor returns the frame count for a clip duration at the given rate,
// rounded half-up so the visible duration never drifts by more than one
// frame per clip.
func FramesFor(durationSeconds float64, fps int) int {
	return int(math.Floor(durationSeconds*float64(fps) + 0.5))
}

// Render walks the timeline in position order, extracts each clip's trim
// window, substitutes a placeholder for any clip whose source cannot be
// decoded, and concatenates everything into a single artifact. Only when
// every clip fails to decode does the render fail.
func (r *Renderer) Render(ctx context.Context, tl timeline.Timeline, onProgress ProgressFunc) (*Result, error) {
	clips := tl.Sorted()
	if len(clips) == 0 {
		return nil, &LocalRenderError{Detail: "timeline has no clips"}
	}

	workDir, err := os.MkdirTemp("", "cutroom-render-*")
	if err != nil {
		return nil, fmt.Errorf("create render workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	report := func(fraction float64, stage string) {
		if onProgress != nil {
			onProgress(fraction, stage)
		}
	}

	// Each clip is one unit of work; the final concat is one more.
	totalSteps := float64(len(clips) + 1)

	segments := make([]string, 0, len(clips))
	var placeholders []string
	decoded := 0

	for i, clip := range clips {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		report(float64(i)/totalSteps, fmt.Sprintf("rendering clip %d/%d", i+1, len(clips)))

		segPath := filepath.Join(workDir, fmt.Sprintf("segment-%03d.mp4", i))
		err := r.tool.ExtractSegment(ctx, clip.Path, clip.TrimStart, clip.TrimDuration, r.cfg.FrameRate, segPath)
		if err == nil {
			decoded++
			segments = append(segments, segPath)
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		r.logger.Warn("clip decode failed, substituting placeholder",
			"clip_id", clip.ID,
			"source", filepath.Base(clip.Path),
			"error", err,
		)

		if perr := r.tool.Placeholder(ctx, clip.Label(), clip.TrimDuration, r.cfg.FrameRate, segPath); perr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn("placeholder render failed", "clip_id", clip.ID, "error", perr)
			continue
		}
		placeholders = append(placeholders, clip.ID)
		segments = append(segments, segPath)
	}

	if decoded == 0 {
		return nil, &LocalRenderError{Detail: "no clip source could be decoded"}
	}
	if len(segments) == 0 {
		return nil, &LocalRenderError{Detail: "no segments produced"}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report(float64(len(clips))/totalSteps, "assembling output")

	name := ArtifactName("mp4")
	outPath := filepath.Join(r.cfg.OutputDir, name)
	if err := os.MkdirAll(r.cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if err := r.tool.Concat(ctx, segments, outPath); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &LocalRenderError{Detail: fmt.Sprintf("concat failed: %v", err)}
	}

	report(1.0, "done")

	r.logger.Info("local render complete",
		"artifact", name,
		"clips", len(clips),
		"placeholders", len(placeholders),
	)

	return &Result{
		ArtifactPath:    outPath,
		ArtifactName:    name,
		Fidelity:        FidelityReduced,
		DurationSeconds: tl.Duration(),
		PlaceholderIDs:  placeholders,
	}, nil
}

// ArtifactName generates the downloadable filename for a compiled artifact.
func ArtifactName(ext string) string {
	return fmt.Sprintf("compiled-%d.%s", time.Now().UnixMilli(), ext)
}
