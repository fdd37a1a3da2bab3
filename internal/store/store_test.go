package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cutroom/cutroom-agent/internal/db"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return New(database.Conn())
}

func newCompile(id string) *Compile {
	now := time.Now().UTC().Truncate(time.Second)
	return &Compile{
		ID:        id,
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCompile_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateCompile(ctx, newCompile("c-1")); err != nil {
		t.Fatalf("CreateCompile error = %v", err)
	}

	got, err := s.GetCompile(ctx, "c-1")
	if err != nil {
		t.Fatalf("GetCompile error = %v", err)
	}
	if got == nil || got.ID != "c-1" || got.State != StatePending {
		t.Fatalf("got = %+v", got)
	}
	if got.Terminal() {
		t.Error("pending compile reported terminal")
	}
}

func TestGetCompile_Missing(t *testing.T) {
	s := testStore(t)

	got, err := s.GetCompile(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetCompile error = %v", err)
	}
	if got != nil {
		t.Fatalf("got = %+v, want nil", got)
	}
}

func TestUpdateCompileProgress_NeverRegresses(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateCompile(ctx, newCompile("c-1")); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateCompileProgress(ctx, "c-1", 60, "transcoding"); err != nil {
		t.Fatal(err)
	}
	// A late, lower write must not move the bar backward.
	if err := s.UpdateCompileProgress(ctx, "c-1", 40, "uploading assets"); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetCompile(ctx, "c-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Progress != 60 {
		t.Errorf("progress = %v, want 60", got.Progress)
	}
	if got.Stage != "uploading assets" {
		t.Errorf("stage = %q", got.Stage)
	}
}

func TestFinishCompile(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	c := newCompile("c-1")
	if err := s.CreateCompile(ctx, c); err != nil {
		t.Fatal(err)
	}

	c.State = StateSucceeded
	c.Progress = 100
	c.Stage = "complete"
	c.Tier = "remote"
	c.Fidelity = "full"
	c.ArtifactPath = "/dl/out.mp4"
	c.ArtifactName = "out.mp4"
	c.DurationSeconds = 6
	if err := s.FinishCompile(ctx, c); err != nil {
		t.Fatalf("FinishCompile error = %v", err)
	}

	got, err := s.GetCompile(ctx, "c-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != StateSucceeded || got.Progress != 100 || got.ArtifactName != "out.mp4" {
		t.Fatalf("got = %+v", got)
	}
	if !got.Terminal() {
		t.Error("succeeded compile not terminal")
	}
}

func TestListCompiles_NewestFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	old := newCompile("old")
	old.CreatedAt = time.Now().UTC().Add(-time.Hour)
	old.UpdatedAt = old.CreatedAt
	if err := s.CreateCompile(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateCompile(ctx, newCompile("new")); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListCompiles(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "new" || list[1].ID != "old" {
		ids := make([]string, len(list))
		for i, c := range list {
			ids[i] = c.ID
		}
		t.Fatalf("order = %v", ids)
	}
}

func TestConfig_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if v, err := s.GetConfig(ctx, "auth_token"); err != nil || v != "" {
		t.Fatalf("missing key: v=%q err=%v", v, err)
	}

	if err := s.SetConfig(ctx, "auth_token", "tok-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetConfig(ctx, "auth_token", "tok-2"); err != nil {
		t.Fatal(err)
	}

	v, err := s.GetConfig(ctx, "auth_token")
	if err != nil {
		t.Fatal(err)
	}
	if v != "tok-2" {
		t.Errorf("value = %q, want tok-2", v)
	}
}
