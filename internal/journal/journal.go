// Package journal keeps an SQLite audit trail of finished reconciliations.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one finished reconciliation
type Entry struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaign_id"`
	TempID     string    `json:"temp_id,omitempty"`
	Action     string    `json:"action"`
	State      string    `json:"state"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// ListFilter narrows List results
type ListFilter struct {
	CampaignID string
	State      string
	Limit      int
}

// Journal is the SQLite-backed reconciliation log
type Journal struct {
	db *sql.DB
}

// Open opens the journal database and applies migrations
func Open(path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the database
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	migrations := []string{
		migrationReconciliations,
		migrationReconciliationsCampaignIndex,
	}

	for _, m := range migrations {
		if _, err := j.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

const migrationReconciliations = `
CREATE TABLE IF NOT EXISTS reconciliations (
    id TEXT PRIMARY KEY,
    campaign_id TEXT NOT NULL,
    temp_id TEXT,
    action TEXT NOT NULL,
    state TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL
);
`

const migrationReconciliationsCampaignIndex = `
CREATE INDEX IF NOT EXISTS idx_reconciliations_campaign ON reconciliations(campaign_id, finished_at);
`

// Record inserts or replaces an entry
func (j *Journal) Record(ctx context.Context, e Entry) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO reconciliations (id, campaign_id, temp_id, action, state, attempts, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CampaignID, nullString(e.TempID), e.Action, e.State, e.Attempts, nullString(e.Error),
		e.StartedAt.UTC(), e.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record reconciliation: %w", err)
	}
	return nil
}

// List returns entries, most recently finished first
func (j *Journal) List(ctx context.Context, f ListFilter) ([]Entry, error) {
	var where []string
	var args []any

	if f.CampaignID != "" {
		where = append(where, "(campaign_id = ? OR temp_id = ?)")
		args = append(args, f.CampaignID, f.CampaignID)
	}
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, f.State)
	}

	query := `SELECT id, campaign_id, temp_id, action, state, attempts, error, started_at, finished_at FROM reconciliations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY finished_at DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliations: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var tempID, errMsg sql.NullString
		if err := rows.Scan(&e.ID, &e.CampaignID, &tempID, &e.Action, &e.State, &e.Attempts, &errMsg, &e.StartedAt, &e.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation: %w", err)
		}
		e.TempID = tempID.String
		e.Error = errMsg.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
