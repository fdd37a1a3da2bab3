// Package render is the local fallback tier: a best-effort ffmpeg-based
// approximation of the timeline produced without any server dependency.
// Individual clips that cannot be decoded degrade to placeholder segments;
// the render only fails outright when nothing at all can be decoded.
package render

import "context"

// ProbeInfo is the subset of stream metadata the renderer needs.
type ProbeInfo struct {
	DurationSeconds float64
	Width           int
	Height          int
	HasAudio        bool
}

// Tool abstracts the external media engine (ffmpeg/ffprobe). The renderer
// never builds process invocations itself; everything it hands the tool is
// declarative (paths, windows, rates).
type Tool interface {
	// Probe inspects a source file.
	Probe(ctx context.Context, path string) (*ProbeInfo, error)

	// ExtractSegment re-encodes [start, start+duration) of src into a
	// normalised segment at the given frame rate.
	ExtractSegment(ctx context.Context, src string, start, duration float64, fps int, outPath string) error

	// Placeholder renders a deterministic substitute segment: fixed
	// background with the clip label as text, exact duration, same rate.
	Placeholder(ctx context.Context, label string, duration float64, fps int, outPath string) error

	// Concat joins uniformly encoded segments into one container.
	Concat(ctx context.Context, segments []string, outPath string) error
}
