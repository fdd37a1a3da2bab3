// Package filtergraph compiles a timeline snapshot into a declarative filter
// graph descriptor: one trim node per clip plus a single terminal concat node.
// The descriptor is configuration handed to the transcode engine (local or
// remote ffmpeg); it is never executed here.
package filtergraph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cutroom/cutroom-agent/internal/timeline"
)

// ErrEmptyTimeline is returned when a timeline with no clips is compiled.
var ErrEmptyTimeline = errors.New("filtergraph: timeline has no clips")

// Input is a unique source asset referenced by the graph, in first-use order.
type Input struct {
	AssetID string
	Name    string
	Path    string
}

// TrimNode selects [Start, Start+Duration) from one input's video and audio
// streams, with presentation timestamps reset to zero so segments concatenate
// without gaps or drift.
type TrimNode struct {
	ClipID   string
	Input    int // index into Descriptor inputs
	Start    float64
	Duration float64
}

// VideoLabel returns the trim node's video pad label for segment i.
func (n TrimNode) videoLabel(i int) string { return fmt.Sprintf("v%d", i) }
func (n TrimNode) audioLabel(i int) string { return fmt.Sprintf("a%d", i) }

// Descriptor is an immutable compiled filter graph: ordered trim nodes and
// one concat node referencing all of them in timeline order.
type Descriptor struct {
	inputs []Input
	trims  []TrimNode
}

// Compile builds a descriptor from the timeline. Clips are stable-sorted by
// position (ties keep input order) and each clip becomes exactly one trim
// node. Trim-window validity is the orchestrator's responsibility; this
// function only rejects the empty timeline.
func Compile(tl timeline.Timeline) (*Descriptor, error) {
	if len(tl.Clips) == 0 {
		return nil, ErrEmptyTimeline
	}

	d := &Descriptor{}
	inputIndex := make(map[string]int)

	for _, clip := range tl.Sorted() {
		idx, seen := inputIndex[clip.AssetID]
		if !seen {
			idx = len(d.inputs)
			inputIndex[clip.AssetID] = idx
			d.inputs = append(d.inputs, Input{
				AssetID: clip.AssetID,
				Name:    clip.Name,
				Path:    clip.Path,
			})
		}

		d.trims = append(d.trims, TrimNode{
			ClipID:   clip.ID,
			Input:    idx,
			Start:    clip.TrimStart,
			Duration: clip.TrimDuration,
		})
	}

	return d, nil
}

// Inputs returns the unique source assets in first-use order.
func (d *Descriptor) Inputs() []Input {
	out := make([]Input, len(d.inputs))
	copy(out, d.inputs)
	return out
}

// Trims returns the per-clip trim nodes in timeline order.
func (d *Descriptor) Trims() []TrimNode {
	out := make([]TrimNode, len(d.trims))
	copy(out, d.trims)
	return out
}

// SegmentCount returns the number of trim nodes feeding the concat node.
func (d *Descriptor) SegmentCount() int { return len(d.trims) }

// FilterComplex serialises the graph into ffmpeg -filter_complex syntax.
// Every clip yields a trim/setpts pair for video and atrim/asetpts for
// audio, and the terminal concat joins all pairs into [vout][aout].
func (d *Descriptor) FilterComplex() string {
	var b strings.Builder

	for i, n := range d.trims {
		fmt.Fprintf(&b, "[%d:v]trim=start=%s:duration=%s,setpts=PTS-STARTPTS[%s];",
			n.Input, formatSeconds(n.Start), formatSeconds(n.Duration), n.videoLabel(i))
		fmt.Fprintf(&b, "[%d:a]atrim=start=%s:duration=%s,asetpts=PTS-STARTPTS[%s];",
			n.Input, formatSeconds(n.Start), formatSeconds(n.Duration), n.audioLabel(i))
	}

	for i, n := range d.trims {
		fmt.Fprintf(&b, "[%s][%s]", n.videoLabel(i), n.audioLabel(i))
	}
	fmt.Fprintf(&b, "concat=n=%d:v=1:a=1[vout][aout]", len(d.trims))

	return b.String()
}

// formatSeconds renders seconds with millisecond precision, which is what
// ffmpeg trim filters accept and keeps the output deterministic.
func formatSeconds(s float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", s), "0"), ".")
}
