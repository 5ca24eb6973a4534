package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"schelling_sim/internal/domain"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	config TEXT NOT NULL,
	seed INTEGER NOT NULL,
	status TEXT NOT NULL,
	last_generation INTEGER NOT NULL DEFAULT 0,
	started_at INTEGER NOT NULL,
	finished_at INTEGER NULL
);

CREATE TABLE IF NOT EXISTS generations (
	run_id TEXT NOT NULL,
	generation INTEGER NOT NULL,
	move_requests INTEGER NOT NULL,
	moved INTEGER NOT NULL,
	satisfied_ratio REAL NOT NULL,
	cells TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY(run_id, generation),
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_generations_run ON generations(run_id, generation);
`

// Store persists run metadata and per-generation occupancy so terminated
// runs can be inspected and replayed by the monitor.
type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *Store) CreateRun(ctx context.Context, run domain.Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = domain.RunStatusRunning
	}
	cfg := run.Config
	if len(cfg) == 0 {
		cfg = json.RawMessage("{}")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, config, seed, status, last_generation, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)`,
		run.ID, string(cfg), run.Seed, string(run.Status), run.LastGeneration, run.StartedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordGeneration stores one published frame and advances the run's last
// known generation. Implements the coordinator's Store interface.
func (s *Store) RecordGeneration(ctx context.Context, runID string, frame domain.Frame) error {
	if frame.Snapshot == nil {
		return fmt.Errorf("record generation: frame has no snapshot")
	}
	cells, err := json.Marshal(frame.Snapshot.GroupRows())
	if err != nil {
		return fmt.Errorf("encode cells: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO generations (run_id, generation, move_requests, moved, satisfied_ratio, cells, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, frame.Generation, frame.MoveRequests, frame.Moved, frame.SatisfiedRatio, string(cells), time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE runs SET last_generation = MAX(last_generation, ?) WHERE id = ?`,
		frame.Generation, runID,
	)
	if err != nil {
		return fmt.Errorf("update run generation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit generation: %w", err)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, runID string, status domain.RunStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Unix(), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("finish run: run %s not found", runID)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, config, seed, status, last_generation, started_at, finished_at
		FROM runs WHERE id = ?`, runID)
	return scanRun(row)
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, config, seed, status, last_generation, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *Store) GetGeneration(ctx context.Context, runID string, generation int) (domain.GenerationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, generation, move_requests, moved, satisfied_ratio, cells, created_at
		FROM generations WHERE run_id = ? AND generation = ?`, runID, generation)
	return scanGeneration(row)
}

func (s *Store) LatestGeneration(ctx context.Context, runID string) (domain.GenerationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, generation, move_requests, moved, satisfied_ratio, cells, created_at
		FROM generations WHERE run_id = ? ORDER BY generation DESC LIMIT 1`, runID)
	return scanGeneration(row)
}

func (s *Store) ListGenerations(ctx context.Context, runID string, limit int) ([]domain.GenerationRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, generation, move_requests, moved, satisfied_ratio, cells, created_at
		FROM generations WHERE run_id = ? ORDER BY generation ASC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var out []domain.GenerationRecord
	for rows.Next() {
		rec, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var run domain.Run
	var cfg string
	var status string
	var startedAt int64
	var finishedAt sql.NullInt64
	err := row.Scan(&run.ID, &cfg, &run.Seed, &status, &run.LastGeneration, &startedAt, &finishedAt)
	if err != nil {
		return domain.Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.Config = json.RawMessage(cfg)
	run.Status = domain.RunStatus(status)
	run.StartedAt = time.Unix(startedAt, 0).UTC()
	if finishedAt.Valid {
		v := time.Unix(finishedAt.Int64, 0).UTC()
		run.FinishedAt = &v
	}
	return run, nil
}

func scanGeneration(row rowScanner) (domain.GenerationRecord, error) {
	var rec domain.GenerationRecord
	var cells string
	var createdAt int64
	err := row.Scan(&rec.RunID, &rec.Generation, &rec.MoveRequests, &rec.Moved, &rec.SatisfiedRatio, &cells, &createdAt)
	if err != nil {
		return domain.GenerationRecord{}, fmt.Errorf("scan generation: %w", err)
	}
	if err := json.Unmarshal([]byte(cells), &rec.Cells); err != nil {
		return domain.GenerationRecord{}, fmt.Errorf("decode cells: %w", err)
	}
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	return rec, nil
}
