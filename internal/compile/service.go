// Package compile runs engine operations on behalf of the HTTP API and
// persists their lifecycle in the store, so the editor can poll a compile
// by id even though the engine itself holds no history.
package compile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cutroom/cutroom-agent/internal/engine"
	"github.com/cutroom/cutroom-agent/internal/store"
	"github.com/cutroom/cutroom-agent/internal/timeline"
)

// Engine is the subset of the compilation engine the service drives.
type Engine interface {
	Compile(ctx context.Context, tl timeline.Timeline, onProgress engine.ProgressFunc) (*engine.CompilationResult, error)
	Cancel()
	Active() bool
}

type Service struct {
	store  store.Store
	engine Engine
	logger *slog.Logger
}

func NewService(st store.Store, eng Engine, logger *slog.Logger) *Service {
	return &Service{store: st, engine: eng, logger: logger}
}

// Start validates nothing itself: it records a pending compile and hands the
// timeline to the engine on a background goroutine. Validation failures land
// in the row like any other failure, but single-flight rejection surfaces
// synchronously so the API can answer 409 without a row ever existing.
func (s *Service) Start(tl timeline.Timeline) (*store.Compile, error) {
	if s.engine.Active() {
		return nil, engine.ErrCompileInProgress
	}

	now := time.Now()
	c := &store.Compile{
		ID:        uuid.NewString(),
		State:     store.StatePending,
		Stage:     "queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateCompile(context.Background(), c); err != nil {
		return nil, err
	}

	go s.run(c.ID, tl)
	return c, nil
}

func (s *Service) run(id string, tl timeline.Timeline) {
	ctx := context.Background()
	logger := s.logger.With("compile_id", id)

	if err := s.store.UpdateCompileState(ctx, id, store.StateRunning, ""); err != nil {
		logger.Error("failed to mark compile running", "error", err)
	}

	result, err := s.engine.Compile(ctx, tl, func(percent float64, stage string) {
		if uerr := s.store.UpdateCompileProgress(ctx, id, percent, stage); uerr != nil {
			logger.Warn("failed to persist progress", "error", uerr)
		}
	})

	if err != nil {
		if errors.Is(err, engine.ErrCompileInProgress) {
			// Lost the race to another operation; the row never ran.
			_ = s.store.UpdateCompileState(ctx, id, store.StateFailed, err.Error())
			return
		}
		var cancelled *engine.CancelledError
		if errors.As(err, &cancelled) {
			logger.Info("compile cancelled")
			_ = s.store.UpdateCompileState(ctx, id, store.StateCancelled, "")
			return
		}
		logger.Error("compile failed", "error", err)
		_ = s.store.UpdateCompileState(ctx, id, store.StateFailed, err.Error())
		return
	}

	logger.Info("compile finished",
		"tier", result.Tier,
		"fidelity", result.Fidelity,
		"artifact", result.ArtifactName,
	)
	finished := &store.Compile{
		ID:              id,
		State:           store.StateSucceeded,
		Progress:        100,
		Stage:           "complete",
		Tier:            result.Tier,
		Fidelity:        result.Fidelity,
		ArtifactPath:    result.ArtifactLocation,
		ArtifactName:    result.ArtifactName,
		DurationSeconds: result.DurationSeconds,
	}
	if err := s.store.FinishCompile(ctx, finished); err != nil {
		logger.Error("failed to persist compile result", "error", err)
	}
}

// Cancel requests cancellation of the compile with the given id. It reports
// whether the compile exists; cancelling an already-terminal compile is a
// no-op.
func (s *Service) Cancel(ctx context.Context, id string) (bool, error) {
	c, err := s.store.GetCompile(ctx, id)
	if err != nil {
		return false, err
	}
	if c == nil {
		return false, nil
	}
	if !c.Terminal() {
		s.engine.Cancel()
	}
	return true, nil
}

func (s *Service) Get(ctx context.Context, id string) (*store.Compile, error) {
	return s.store.GetCompile(ctx, id)
}

func (s *Service) List(ctx context.Context, limit int) ([]*store.Compile, error) {
	return s.store.ListCompiles(ctx, limit)
}

// Active reports whether a compile is currently in flight.
func (s *Service) Active() bool {
	return s.engine.Active()
}
