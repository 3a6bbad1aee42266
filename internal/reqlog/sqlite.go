package reqlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/query-router/internal/model"
)

// SQLite stores request logs in a local database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLite, error) {
	if dsn == "" {
		return nil, eris.New("reqlog: sqlite sink needs reqlog.path")
	}
	if dir := filepath.Dir(dsn); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "reqlog: create dir for %s", dsn)
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLite{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS requests (
	id             TEXT PRIMARY KEY,
	query          TEXT NOT NULL,
	route          TEXT NOT NULL,
	source         TEXT NOT NULL,
	search_count   INTEGER NOT NULL DEFAULT 0,
	retrieve_count INTEGER NOT NULL DEFAULT 0,
	confidence     REAL NOT NULL DEFAULT 0,
	degraded       INTEGER NOT NULL DEFAULT 0,
	entry          TEXT NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_requests_created_at ON requests(created_at);
CREATE INDEX IF NOT EXISTS idx_requests_route ON requests(route);
`

func (s *SQLite) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Write(ctx context.Context, e model.RequestLog) error {
	entry, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal entry")
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO requests
			(id, query, route, source, search_count, retrieve_count, confidence, degraded, entry, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.Query, string(e.Decision.Route), string(e.Decision.Source),
		e.SearchCount, e.RetrieveCount, e.Result.Confidence, e.Result.Degraded,
		string(entry), created.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert request %s", e.RequestID)
	}
	return nil
}

// Recent returns the newest entries first.
func (s *SQLite) Recent(ctx context.Context, limit int) ([]model.RequestLog, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry FROM requests ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list requests")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RequestLog
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan request")
		}
		var e model.RequestLog
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal request")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate requests")
}
