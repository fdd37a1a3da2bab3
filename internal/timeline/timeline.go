// Package timeline defines the immutable per-compile snapshot of an edited
// timeline: an ordered list of trimmed clip references into source assets.
// It is a pure data contract; all compilation logic lives above it.
package timeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
)

// Clip is a trimmed reference into a source asset placed at a timeline offset.
// All times are in seconds.
type Clip struct {
	ID           string  `json:"id"`
	AssetID      string  `json:"asset_id"`
	Name         string  `json:"name"`
	Path         string  `json:"path"`
	ByteSize     int64   `json:"byte_size"`
	TrimStart    float64 `json:"trim_start"`
	TrimDuration float64 `json:"trim_duration"`
	Position     float64 `json:"position"`
}

// TrimEnd returns the exclusive end of the trim window within the source.
func (c Clip) TrimEnd() float64 {
	return c.TrimStart + c.TrimDuration
}

// Label returns the human-readable name used for placeholder frames and logs.
func (c Clip) Label() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// Timeline is an ordered collection of clip placements. The same source
// region may legally appear under multiple clips; deduplication happens at
// the asset level, not here.
type Timeline struct {
	Clips []Clip `json:"clips"`
}

// Duration returns the sum of all clip trim durations.
func (t Timeline) Duration() float64 {
	var total float64
	for _, c := range t.Clips {
		total += c.TrimDuration
	}
	return total
}

// Sorted returns the clips ordered ascending by Position. The sort is stable:
// clips sharing a position keep their input order, which is what the editor
// relies on to match visual stacking.
func (t Timeline) Sorted() []Clip {
	sorted := make([]Clip, len(t.Clips))
	copy(sorted, t.Clips)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Position < sorted[j].Position
	})
	return sorted
}

// Snapshot returns a deep copy of the timeline. The engine captures one at
// validation time so that editor-side mutation cannot affect an in-flight
// compile.
func (t Timeline) Snapshot() Timeline {
	clips := make([]Clip, len(t.Clips))
	copy(clips, t.Clips)
	return Timeline{Clips: clips}
}

// Fingerprint identifies a source asset for deduplication purposes.
type Fingerprint string

// FingerprintOf derives a clip's asset fingerprint. When the asset bytes are
// readable a SHA-256 content digest is used; otherwise it falls back to
// name:byteSize, which is an acceptable but collision-prone identifier for
// same-name same-size files with different content.
func FingerprintOf(c Clip) Fingerprint {
	if c.Path != "" {
		if sum, err := hashFile(c.Path); err == nil {
			return Fingerprint("sha256:" + sum)
		}
	}
	return Fingerprint(fmt.Sprintf("%s:%d", c.Name, c.ByteSize))
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
