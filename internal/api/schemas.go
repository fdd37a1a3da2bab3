package api

import (
	"time"

	"github.com/cutroom/cutroom-agent/internal/store"
	"github.com/cutroom/cutroom-agent/internal/timeline"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State            string           `json:"state"`
	RemoteConfigured bool             `json:"remote_configured"`
	LastError        string           `json:"last_error,omitempty"`
	ActiveCompile    *CompileResponse `json:"active_compile,omitempty"`
}

type CompileRequest struct {
	Clips []timeline.Clip `json:"clips"`
}

type CompileResponse struct {
	ID              string  `json:"id"`
	State           string  `json:"state"`
	Progress        float64 `json:"progress"`
	Stage           string  `json:"stage"`
	Tier            string  `json:"tier,omitempty"`
	Fidelity        string  `json:"fidelity,omitempty"`
	ArtifactName    string  `json:"artifact_name,omitempty"`
	ArtifactURL     string  `json:"artifact_url,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Error           string  `json:"error,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

type CompilesResponse struct {
	Compiles []CompileResponse `json:"compiles"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func CompileToResponse(c *store.Compile) CompileResponse {
	resp := CompileResponse{
		ID:              c.ID,
		State:           c.State,
		Progress:        c.Progress,
		Stage:           c.Stage,
		Tier:            c.Tier,
		Fidelity:        c.Fidelity,
		ArtifactName:    c.ArtifactName,
		DurationSeconds: c.DurationSeconds,
		Error:           c.Error,
		CreatedAt:       c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       c.UpdatedAt.Format(time.RFC3339),
	}
	if c.State == store.StateSucceeded {
		resp.ArtifactURL = "/artifacts/" + c.ID
	}
	return resp
}
