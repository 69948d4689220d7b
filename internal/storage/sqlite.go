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

	logx "dayong/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (RowStore, error) {
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

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	log.Debug("sqlite opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) CreateTable(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
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

func (s *sqliteStore) AddRow(ctx context.Context, m *Message) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if m == nil {
		return errors.New("storage: nil message")
	}
	prepare(m)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(id, channel_id, author_id, content, source, created_at)
		 VALUES(?,?,?,?,?,?)`,
		m.ID, m.ChannelID, m.AuthorID, m.Content, m.Source, m.CreatedAt.UnixNano(),
	)
	return err
}

func (s *sqliteStore) RemoveRow(ctx context.Context, tpl *Message) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if tpl.IsZero() {
		return ErrEmptyTemplate
	}
	where, args := whereClause(tpl)
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages`+where, args...)
	return err
}

func (s *sqliteStore) GetRow(ctx context.Context, tpl *Message) ([]Message, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	where, args := whereClause(tpl)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, author_id, content, source, created_at FROM messages`+where+
			` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m  Message
			ns int64
		)
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.AuthorID, &m.Content, &m.Source, &ns); err != nil {
			return nil, err
		}
		m.CreatedAt = time.Unix(0, ns)
		out = append(out, m)
	}
	return out, rows.Err()
}

func whereClause(tpl *Message) (string, []any) {
	if tpl == nil {
		return "", nil
	}
	var (
		conds []string
		args  []any
	)
	add := func(col string, v any) {
		conds = append(conds, col+" = ?")
		args = append(args, v)
	}
	if tpl.ID != "" {
		add("id", tpl.ID)
	}
	if tpl.ChannelID != "" {
		add("channel_id", tpl.ChannelID)
	}
	if tpl.AuthorID != "" {
		add("author_id", tpl.AuthorID)
	}
	if tpl.Content != "" {
		add("content", tpl.Content)
	}
	if tpl.Source != "" {
		add("source", tpl.Source)
	}
	if !tpl.CreatedAt.IsZero() {
		add("created_at", tpl.CreatedAt.UnixNano())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
