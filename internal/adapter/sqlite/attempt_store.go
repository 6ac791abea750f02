package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"deployd/internal/lifecycle"

	_ "modernc.org/sqlite"
)

var _ lifecycle.AttemptStore = (*AttemptStore)(nil)

// Fixed width so text order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// AttemptStore persists deployment attempts in a local SQLite database.
// Each row keeps the full attempt as JSON next to the columns it is
// queried by.
type AttemptStore struct {
	db *sql.DB
}

func Open(path string) (*AttemptStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set state db journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set state db busy timeout: %w", err)
	}
	if err := ensureAttemptSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &AttemptStore{db: db}, nil
}

func ensureAttemptSchema(db *sql.DB) error {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS attempts (
	id TEXT PRIMARY KEY,
	target_id TEXT NOT NULL,
	artifact TEXT NOT NULL,
	outcome TEXT NOT NULL,
	phase TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL DEFAULT '',
	attempt_json TEXT NOT NULL
)`); err != nil {
		return fmt.Errorf("initialize attempts schema: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS attempts_target_started ON attempts (target_id, started_at DESC)`); err != nil {
		return fmt.Errorf("initialize attempts index: %w", err)
	}
	return nil
}

func (s *AttemptStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *AttemptStore) SaveAttempt(ctx context.Context, a lifecycle.Attempt) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal attempt %s: %w", a.ID, err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (id, target_id, artifact, outcome, phase, started_at, finished_at, attempt_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		 outcome = excluded.outcome,
		 phase = excluded.phase,
		 finished_at = excluded.finished_at,
		 attempt_json = excluded.attempt_json
		 WHERE attempts.outcome = ?`,
		a.ID,
		a.TargetID,
		a.Artifact.String(),
		a.Outcome.String(),
		a.Phase.String(),
		formatTime(a.StartedAt),
		formatTime(a.FinishedAt),
		string(payload),
		lifecycle.OutcomePending.String(),
	)
	if err != nil {
		return fmt.Errorf("save attempt %s: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save attempt %s: %w", a.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("save attempt %s: %w", a.ID, lifecycle.ErrAttemptTerminal)
	}
	return nil
}

func (s *AttemptStore) GetAttempt(ctx context.Context, id string) (lifecycle.Attempt, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT attempt_json FROM attempts WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return lifecycle.Attempt{}, false, nil
		}
		return lifecycle.Attempt{}, false, fmt.Errorf("query attempt %s: %w", id, err)
	}
	a, err := decodeAttempt(id, payload)
	if err != nil {
		return lifecycle.Attempt{}, false, err
	}
	return a, true, nil
}

func (s *AttemptStore) ListAttempts(ctx context.Context, targetID string, limit int) ([]lifecycle.Attempt, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, attempt_json FROM attempts
		 WHERE (? = '' OR target_id = ?)
		 ORDER BY started_at DESC, id DESC
		 LIMIT ?`,
		targetID, targetID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	out := make([]lifecycle.Attempt, 0)
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan attempt row: %w", err)
		}
		a, err := decodeAttempt(id, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempt rows: %w", err)
	}
	return out, nil
}

func (s *AttemptStore) LastServing(ctx context.Context, targetID string) (lifecycle.ArtifactRef, bool, error) {
	var id, payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, attempt_json FROM attempts
		 WHERE target_id = ? AND outcome IN (?, ?)
		 ORDER BY started_at DESC, id DESC
		 LIMIT 1`,
		targetID, lifecycle.OutcomeSucceeded.String(), lifecycle.OutcomeRolledBack.String(),
	).Scan(&id, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return lifecycle.ArtifactRef{}, false, nil
		}
		return lifecycle.ArtifactRef{}, false, fmt.Errorf("query last serving attempt for %q: %w", targetID, err)
	}
	a, err := decodeAttempt(id, payload)
	if err != nil {
		return lifecycle.ArtifactRef{}, false, err
	}
	ref, ok := a.ServingArtifact()
	return ref, ok, nil
}

func decodeAttempt(id, payload string) (lifecycle.Attempt, error) {
	var a lifecycle.Attempt
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return lifecycle.Attempt{}, fmt.Errorf("unmarshal attempt %s: %w", id, err)
	}
	return a, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}
