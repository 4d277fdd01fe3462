package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "briefbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendEvent(ctx context.Context, e EventRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	// Upsert by id: replaying the same dispatch after a reconnect is a no-op.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(id, channel_id, author_id, author_name, content, received_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		e.ID, e.ChannelID, e.AuthorID, e.AuthorName, e.Content, e.ReceivedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) LoadEventsSince(ctx context.Context, since time.Time) ([]EventRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, author_id, author_name, content, received_at
		 FROM events WHERE received_at >= ? ORDER BY received_at ASC`,
		since.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var e EventRecord
		var ms int64
		if err := rows.Scan(&e.ID, &e.ChannelID, &e.AuthorID, &e.AuthorName, &e.Content, &ms); err != nil {
			return nil, err
		}
		e.ReceivedAt = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE received_at < ?`, cutoff.UnixMilli())
	return err
}
