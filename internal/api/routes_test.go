package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cutroom/cutroom-agent/internal/compile"
	"github.com/cutroom/cutroom-agent/internal/engine"
	"github.com/cutroom/cutroom-agent/internal/store"
	"github.com/cutroom/cutroom-agent/internal/timeline"
)

// idleEngine satisfies compile.Engine and finishes instantly.
type idleEngine struct {
	active bool
	result *engine.CompilationResult
}

func (e *idleEngine) Compile(ctx context.Context, tl timeline.Timeline, onProgress engine.ProgressFunc) (*engine.CompilationResult, error) {
	if e.result != nil {
		return e.result, nil
	}
	return &engine.CompilationResult{}, nil
}

func (e *idleEngine) Cancel()      {}
func (e *idleEngine) Active() bool { return e.active }

func testRouterConfig(st *fakeStore, eng compile.Engine) ServerConfig {
	logger := discardLogger()
	return ServerConfig{
		Port:      0,
		Compiles:  compile.NewService(st, eng, logger),
		Store:     st,
		Logger:    logger,
		StartTime: time.Now(),
		DeviceID:  "test-device",
	}
}

func doRequest(router http.Handler, method, path, token string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.RemoteAddr = "127.0.0.1:12345"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHealth_NoAuthRequired(t *testing.T) {
	router := NewRouter(testRouterConfig(newFakeStore(), &idleEngine{}))

	rr := doRequest(router, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	body := decodeJSONBody(t, rr)
	if body["status"] != "ok" || body["device_id"] != "test-device" {
		t.Fatalf("body = %v", body)
	}
}

func TestStatus_RequiresAuth(t *testing.T) {
	st := newFakeStore()
	st.config["auth_token"] = "tok"
	router := NewRouter(testRouterConfig(st, &idleEngine{}))

	if rr := doRequest(router, http.MethodGet, "/status", "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rr.Code)
	}
	if rr := doRequest(router, http.MethodGet, "/status", "tok", nil); rr.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", rr.Code)
	}
}

func TestStartCompile_Accepted(t *testing.T) {
	st := newFakeStore()
	st.config["auth_token"] = "tok"
	router := NewRouter(testRouterConfig(st, &idleEngine{}))

	payload := []byte(`{"clips":[{"id":"c1","asset_id":"a1","name":"a.mp4","trim_start":0,"trim_duration":2,"position":0}]}`)
	rr := doRequest(router, http.MethodPost, "/compile", "tok", payload)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusAccepted, rr.Body.String())
	}
	body := decodeJSONBody(t, rr)
	if body["id"] == "" || body["state"] != store.StatePending {
		t.Fatalf("body = %v", body)
	}
}

func TestStartCompile_BadBody(t *testing.T) {
	st := newFakeStore()
	st.config["auth_token"] = "tok"
	router := NewRouter(testRouterConfig(st, &idleEngine{}))

	rr := doRequest(router, http.MethodPost, "/compile", "tok", []byte(`{not json`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestStartCompile_ConflictWhileActive(t *testing.T) {
	st := newFakeStore()
	st.config["auth_token"] = "tok"
	router := NewRouter(testRouterConfig(st, &idleEngine{active: true}))

	rr := doRequest(router, http.MethodPost, "/compile", "tok", []byte(`{"clips":[]}`))
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusConflict)
	}
	body := decodeJSONBody(t, rr)
	if body["code"] != "COMPILE_IN_PROGRESS" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestGetCompile_NotFound(t *testing.T) {
	st := newFakeStore()
	st.config["auth_token"] = "tok"
	router := NewRouter(testRouterConfig(st, &idleEngine{}))

	rr := doRequest(router, http.MethodGet, "/compile/nope", "tok", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestGetCompile_Found(t *testing.T) {
	st := newFakeStore()
	st.config["auth_token"] = "tok"
	st.compiles["c-1"] = &store.Compile{
		ID: "c-1", State: store.StateRunning, Progress: 42, Stage: "uploading assets",
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	router := NewRouter(testRouterConfig(st, &idleEngine{}))

	rr := doRequest(router, http.MethodGet, "/compile/c-1", "tok", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeJSONBody(t, rr)
	if body["progress"].(float64) != 42 || body["stage"] != "uploading assets" {
		t.Fatalf("body = %v", body)
	}
	if _, ok := body["artifact_url"]; ok {
		t.Fatal("running compile must not expose an artifact url")
	}
}

func TestCancelCompile(t *testing.T) {
	st := newFakeStore()
	st.config["auth_token"] = "tok"
	st.compiles["c-1"] = &store.Compile{ID: "c-1", State: store.StateRunning}
	router := NewRouter(testRouterConfig(st, &idleEngine{}))

	if rr := doRequest(router, http.MethodPost, "/compile/c-1/cancel", "tok", nil); rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusAccepted)
	}
	if rr := doRequest(router, http.MethodPost, "/compile/nope/cancel", "tok", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestStatus_ReflectsActiveCompile(t *testing.T) {
	st := newFakeStore()
	st.config["auth_token"] = "tok"
	st.compiles["c-1"] = &store.Compile{
		ID: "c-1", State: store.StateRunning, Progress: 30,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	router := NewRouter(testRouterConfig(st, &idleEngine{}))

	rr := doRequest(router, http.MethodGet, "/status", "tok", nil)
	body := decodeJSONBody(t, rr)
	if body["state"] != "compiling" {
		t.Fatalf("state = %v", body["state"])
	}
	if _, ok := body["active_compile"]; !ok {
		t.Fatal("active_compile missing")
	}
}

func TestArtifact_LocalFileServed(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "compiled-1.mp4")
	if err := os.WriteFile(artifact, []byte("video-bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	st := newFakeStore()
	st.config["auth_token"] = "tok"
	st.compiles["c-1"] = &store.Compile{
		ID: "c-1", State: store.StateSucceeded,
		ArtifactPath: artifact, ArtifactName: "compiled-1.mp4",
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	router := NewRouter(testRouterConfig(st, &idleEngine{}))

	rr := doRequest(router, http.MethodGet, "/artifacts/c-1", "tok", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Disposition"); got != `attachment; filename="compiled-1.mp4"` {
		t.Errorf("Content-Disposition = %q", got)
	}
	if rr.Body.String() != "video-bytes" {
		t.Errorf("body = %q", rr.Body.String())
	}
}

func TestArtifact_RemoteRedirect(t *testing.T) {
	st := newFakeStore()
	st.config["auth_token"] = "tok"
	st.compiles["c-1"] = &store.Compile{
		ID: "c-1", State: store.StateSucceeded,
		ArtifactPath: "https://transcode.example.com/dl/out.mp4", ArtifactName: "out.mp4",
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	router := NewRouter(testRouterConfig(st, &idleEngine{}))

	rr := doRequest(router, http.MethodGet, "/artifacts/c-1", "tok", nil)
	if rr.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusTemporaryRedirect)
	}
	if got := rr.Header().Get("Location"); got != "https://transcode.example.com/dl/out.mp4" {
		t.Errorf("Location = %q", got)
	}
}

func TestArtifact_NotReady(t *testing.T) {
	st := newFakeStore()
	st.config["auth_token"] = "tok"
	st.compiles["c-1"] = &store.Compile{ID: "c-1", State: store.StateRunning}
	router := NewRouter(testRouterConfig(st, &idleEngine{}))

	rr := doRequest(router, http.MethodGet, "/artifacts/c-1", "tok", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}
