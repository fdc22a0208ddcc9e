package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps every run's snapshots in one table keyed by run id and phase.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLite opens (and migrates) the snapshot database. Use ":memory:" in tests.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		phase_num INTEGER NOT NULL,
		phase_name TEXT NOT NULL,
		items INTEGER NOT NULL,
		payload TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(run_id, phase_num)
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_phase ON snapshots(phase_num, id DESC);
	`)
	return err
}

func (s *SQLiteStore) Write(ctx context.Context, runID string, num int, name string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (run_id, phase_num, phase_name, items, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, phase_num) DO UPDATE SET
			phase_name = excluded.phase_name,
			items = excluded.items,
			payload = excluded.payload,
			created_at = excluded.created_at`,
		runID, num, name, itemCount(b), string(b), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store snapshot %d_%s: %w", num, name, err)
	}
	return nil
}

// Read loads the latest snapshot stored for the phase.
func (s *SQLiteStore) Read(ctx context.Context, num int, name string, v any) error {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM snapshots
		WHERE phase_num = ? AND phase_name = ?
		ORDER BY id DESC LIMIT 1`, num, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(payload), v)
}

// Summary is one stored snapshot without its payload.
type Summary struct {
	RunID     string `json:"run_id"`
	Num       int    `json:"phase_num"`
	Name      string `json:"phase_name"`
	Items     int    `json:"items"`
	CreatedAt string `json:"created_at"`
}

// Runs lists the snapshots of one run in phase order.
func (s *SQLiteStore) Runs(ctx context.Context, runID string) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, phase_num, phase_name, items, created_at FROM snapshots
		WHERE run_id = ? ORDER BY phase_num`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		if err := rows.Scan(&sm.RunID, &sm.Num, &sm.Name, &sm.Items, &sm.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// itemCount is the array length of a JSON payload, or 1 for anything else.
func itemCount(b []byte) int {
	var arr []json.RawMessage
	if err := json.Unmarshal(b, &arr); err != nil {
		return 1
	}
	return len(arr)
}
