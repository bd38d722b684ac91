package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"floodmon-gateway/internal/telemetry"
)

type SQLiteConfig struct {
	Path string
	// DSN overrides Path when set, e.g. "file::memory:" in tests.
	DSN string
	// LogSQL routes every statement through the debug logger.
	LogSQL bool
}

// SQLite is the local store. Records are kept as JSON text, one row per append.
type SQLite struct {
	db     *sql.DB
	root   string
	logger *slog.Logger
}

func OpenSQLite(ctx context.Context, cfg SQLiteConfig, root string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	if cfg.LogSQL {
		db = sql.OpenDB(newLoggingConnector(dsn, logger))
	} else if db, err = sql.Open("sqlite3", dsn); err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	// One writer; also keeps in-memory databases on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if err := migrate(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db migrate: %w", err)
	}

	logger.Info("sqlite store opened", "dsn", dsn, "root", root)
	return &SQLite{db: db, root: root, logger: logger}, nil
}

func (s *SQLite) Append(ctx context.Context, path, dateKey string, rec telemetry.Record) error {
	id, err := newRecordID()
	if err != nil {
		return err
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, root, path, date_key, body) VALUES (?, ?, ?, ?, ?)`,
		id, s.root, path, dateKey, string(body),
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *SQLite) Latest(ctx context.Context, path, dateKey string) (telemetry.Record, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM records WHERE root = ? AND path = ? AND date_key = ? ORDER BY id DESC LIMIT 1`,
		s.root, path, dateKey,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select latest: %w", err)
	}
	var rec telemetry.Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, false, fmt.Errorf("decode record: %w", err)
	}
	return rec, true, nil
}

// Count returns the number of records in a stream partition.
func (s *SQLite) Count(ctx context.Context, path, dateKey string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE root = ? AND path = ? AND date_key = ?`,
		s.root, path, dateKey,
	).Scan(&n)
	return n, err
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(cfg SQLiteConfig) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}

	path := cfg.Path
	if path == "" {
		return "", fmt.Errorf("sqlite path is empty")
	}
	dir := filepath.Dir(strings.TrimPrefix(path, "file:"))
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	params := []string{
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}

	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}
