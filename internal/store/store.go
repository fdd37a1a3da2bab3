// Package store persists compile records and agent settings in SQLite.
package store

import (
	"context"
	"database/sql"
	"time"
)

type Store interface {
	CreateCompile(ctx context.Context, c *Compile) error
	GetCompile(ctx context.Context, id string) (*Compile, error)
	ListCompiles(ctx context.Context, limit int) ([]*Compile, error)
	UpdateCompileProgress(ctx context.Context, id string, progress float64, stage string) error
	UpdateCompileState(ctx context.Context, id, state, errorMsg string) error
	FinishCompile(ctx context.Context, c *Compile) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteStore struct {
	db *sql.DB
}

func New(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const compileColumns = `id, state, progress, stage, tier, fidelity, artifact_path, artifact_name, duration_seconds, error, created_at, updated_at`

func (s *SQLiteStore) CreateCompile(ctx context.Context, c *Compile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO compiles (`+compileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.State, c.Progress, c.Stage, c.Tier, c.Fidelity,
		c.ArtifactPath, c.ArtifactName, c.DurationSeconds, c.Error,
		c.CreatedAt.Format(time.RFC3339), c.UpdatedAt.Format(time.RFC3339))
	return err
}

func (s *SQLiteStore) GetCompile(ctx context.Context, id string) (*Compile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+compileColumns+` FROM compiles WHERE id = ?
	`, id)
	return s.scanCompile(row)
}

func (s *SQLiteStore) scanCompile(row *sql.Row) (*Compile, error) {
	var c Compile
	var createdAt, updatedAt string

	err := row.Scan(&c.ID, &c.State, &c.Progress, &c.Stage, &c.Tier, &c.Fidelity,
		&c.ArtifactPath, &c.ArtifactName, &c.DurationSeconds, &c.Error,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &c, nil
}

func (s *SQLiteStore) ListCompiles(ctx context.Context, limit int) ([]*Compile, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+compileColumns+` FROM compiles ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var compiles []*Compile
	for rows.Next() {
		var c Compile
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.State, &c.Progress, &c.Stage, &c.Tier, &c.Fidelity,
			&c.ArtifactPath, &c.ArtifactName, &c.DurationSeconds, &c.Error,
			&createdAt, &updatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		compiles = append(compiles, &c)
	}
	return compiles, rows.Err()
}

// UpdateCompileProgress never moves progress backward; the engine reports a
// monotonic percent but the write itself guards against racing updates.
func (s *SQLiteStore) UpdateCompileProgress(ctx context.Context, id string, progress float64, stage string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE compiles SET progress = MAX(progress, ?), stage = ?, updated_at = datetime('now') WHERE id = ?
	`, progress, stage, id)
	return err
}

func (s *SQLiteStore) UpdateCompileState(ctx context.Context, id, state, errorMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE compiles SET state = ?, error = ?, updated_at = datetime('now') WHERE id = ?
	`, state, errorMsg, id)
	return err
}

// FinishCompile records the terminal state and artifact coordinates in one
// write.
func (s *SQLiteStore) FinishCompile(ctx context.Context, c *Compile) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE compiles SET state = ?, progress = ?, stage = ?, tier = ?, fidelity = ?,
			artifact_path = ?, artifact_name = ?, duration_seconds = ?, error = ?,
			updated_at = datetime('now')
		WHERE id = ?
	`, c.State, c.Progress, c.Stage, c.Tier, c.Fidelity,
		c.ArtifactPath, c.ArtifactName, c.DurationSeconds, c.Error, c.ID)
	return err
}

func (s *SQLiteStore) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (s *SQLiteStore) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}
