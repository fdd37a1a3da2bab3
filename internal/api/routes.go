package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cutroom/cutroom-agent/internal/engine"
	"github.com/cutroom/cutroom-agent/internal/store"
	"github.com/cutroom/cutroom-agent/internal/timeline"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoopbackGuard())
	r.Use(CORSAllowlist())
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Store, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Post("/compile", startCompileHandler(cfg))
		r.Get("/compiles", listCompilesHandler(cfg))
		r.Get("/compile/{id}", getCompileHandler(cfg))
		r.Post("/compile/{id}/cancel", cancelCompileHandler(cfg))
		r.Get("/artifacts/{id}", artifactHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  "0.1.0",
			UptimeS:  uptime,
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		compiles, _ := cfg.Compiles.List(r.Context(), 10)

		state := "idle"
		var active *CompileResponse
		lastError := ""

		for _, c := range compiles {
			if !c.Terminal() {
				state = "compiling"
				resp := CompileToResponse(c)
				active = &resp
				break
			}
			if c.State == store.StateFailed && lastError == "" {
				lastError = c.Error
			}
		}

		if lastError != "" && state == "idle" {
			state = "error"
		}

		WriteJSON(w, http.StatusOK, StatusResponse{
			State:            state,
			RemoteConfigured: cfg.RemoteConfigured,
			LastError:        lastError,
			ActiveCompile:    active,
		})
	}
}

func startCompileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CompileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		c, err := cfg.Compiles.Start(timeline.Timeline{Clips: req.Clips})
		if err != nil {
			if errors.Is(err, engine.ErrCompileInProgress) {
				WriteError(w, http.StatusConflict, err.Error(), "COMPILE_IN_PROGRESS")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusAccepted, CompileToResponse(c))
	}
}

func listCompilesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if l := r.URL.Query().Get("limit"); l != "" {
			if n, err := strconv.Atoi(l); err == nil && n > 0 {
				limit = n
			}
		}

		compiles, err := cfg.Compiles.List(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list compiles", "INTERNAL_ERROR")
			return
		}

		resp := CompilesResponse{Compiles: make([]CompileResponse, len(compiles))}
		for i, c := range compiles {
			resp.Compiles[i] = CompileToResponse(c)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getCompileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "compile id required", "BAD_REQUEST")
			return
		}

		c, err := cfg.Compiles.Get(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if c == nil {
			WriteError(w, http.StatusNotFound, "compile not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, CompileToResponse(c))
	}
}

func cancelCompileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "compile id required", "BAD_REQUEST")
			return
		}

		found, err := cfg.Compiles.Cancel(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if !found {
			WriteError(w, http.StatusNotFound, "compile not found", "NOT_FOUND")
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

// artifactHandler serves finished artifacts. Locally rendered artifacts are
// streamed from disk; remotely compiled ones redirect to the service's
// download URL.
func artifactHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "compile id required", "BAD_REQUEST")
			return
		}

		c, err := cfg.Compiles.Get(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if c == nil {
			WriteError(w, http.StatusNotFound, "compile not found", "NOT_FOUND")
			return
		}
		if c.State != store.StateSucceeded || c.ArtifactPath == "" {
			WriteError(w, http.StatusNotFound, "no artifact for this compile", "NOT_FOUND")
			return
		}

		if strings.HasPrefix(c.ArtifactPath, "http://") || strings.HasPrefix(c.ArtifactPath, "https://") {
			http.Redirect(w, r, c.ArtifactPath, http.StatusTemporaryRedirect)
			return
		}

		w.Header().Set("Content-Disposition", `attachment; filename="`+c.ArtifactName+`"`)
		http.ServeFile(w, r, c.ArtifactPath)
	}
}
