// Package history persists completed turns to a local SQLite database so
// past assistant answers survive restarts and stay greppable offline.
// Cancelled and failed turns are never recorded; the store only sees turns
// that reached a clean done chunk.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"opsassist/internal/domain"
)

// SQLiteStore implements turn-history persistence using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs
// the schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS turns (
			id                TEXT PRIMARY KEY,
			session_id        TEXT NOT NULL,
			tenant_id         TEXT NOT NULL DEFAULT '',
			user_message      TEXT NOT NULL,
			assistant_content TEXT NOT NULL,
			tool_executions   TEXT NOT NULL DEFAULT '[]',
			chart             TEXT,
			created_at        TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, created_at)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Record stores one completed turn. A zero ID or CreatedAt is filled in.
func (s *SQLiteStore) Record(ctx context.Context, rec domain.TurnRecord) error {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	toolsJSON, err := json.Marshal(rec.ToolExecutions)
	if err != nil {
		return domain.WrapOp("History.Record", err)
	}
	var chartJSON sql.NullString
	if rec.Chart != nil {
		buf, err := json.Marshal(rec.Chart)
		if err != nil {
			return domain.WrapOp("History.Record", err)
		}
		chartJSON = sql.NullString{String: string(buf), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO turns (id, session_id, tenant_id, user_message, assistant_content, tool_executions, chart, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		rec.ID, rec.SessionID, rec.TenantID, rec.UserMessage, rec.AssistantContent,
		string(toolsJSON), chartJSON, rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("History.Record: %w: %v", domain.ErrHistoryStore, err)
	}
	return nil
}

// Recent returns up to limit turns for a session, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, sessionID string, limit int) ([]domain.TurnRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, session_id, tenant_id, user_message, assistant_content, tool_executions, chart, created_at FROM turns WHERE session_id = ? ORDER BY created_at DESC LIMIT ?",
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("History.Recent: %w: %v", domain.ErrHistoryStore, err)
	}
	defer rows.Close()

	var records []domain.TurnRecord
	for rows.Next() {
		rec, err := scanTurn(rows)
		if err != nil {
			return nil, domain.WrapOp("History.Recent", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanTurn(rows *sql.Rows) (domain.TurnRecord, error) {
	var rec domain.TurnRecord
	var toolsStr, createdStr string
	var chartStr sql.NullString
	if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.TenantID, &rec.UserMessage,
		&rec.AssistantContent, &toolsStr, &chartStr, &createdStr); err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(toolsStr), &rec.ToolExecutions); err != nil {
		return rec, fmt.Errorf("decode tool executions: %w", err)
	}
	if chartStr.Valid {
		var chart domain.ChartData
		if err := json.Unmarshal([]byte(chartStr.String), &chart); err != nil {
			return rec, fmt.Errorf("decode chart: %w", err)
		}
		rec.Chart = &chart
	}
	created, err := time.Parse(time.RFC3339Nano, createdStr)
	if err != nil {
		return rec, fmt.Errorf("parse created_at: %w", err)
	}
	rec.CreatedAt = created
	return rec, nil
}
