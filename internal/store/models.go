package store

import "time"

// Compile states. A compile row mirrors the lifecycle of one engine
// operation; pending and running are non-terminal.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
)

// Compile is one compilation operation as recorded for the editor UI:
// live progress while running, artifact coordinates once finished.
type Compile struct {
	ID              string    `json:"id"`
	State           string    `json:"state"`
	Progress        float64   `json:"progress"`
	Stage           string    `json:"stage"`
	Tier            string    `json:"tier,omitempty"`
	Fidelity        string    `json:"fidelity,omitempty"`
	ArtifactPath    string    `json:"artifact_path,omitempty"`
	ArtifactName    string    `json:"artifact_name,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Terminal reports whether the compile has reached a final state.
func (c *Compile) Terminal() bool {
	switch c.State {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}
