package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"floodmon-gateway/internal/telemetry"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS floodmon_records (
    id         UUID PRIMARY KEY,
    root       TEXT NOT NULL,
    path       TEXT NOT NULL,
    date_key   DATE NOT NULL,
    body       JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS floodmon_records_partition_idx
    ON floodmon_records (root, path, date_key, id);`

// Postgres stores records as jsonb rows.
type Postgres struct {
	pool   *pgxpool.Pool
	root   string
	logger *slog.Logger
}

func OpenPostgres(ctx context.Context, databaseURL, root string, logger *slog.Logger) (*Postgres, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	logger.Info("postgres store opened", "root", root)
	return &Postgres{pool: pool, root: root, logger: logger}, nil
}

func (s *Postgres) Append(ctx context.Context, path, dateKey string, rec telemetry.Record) error {
	id, err := newRecordID()
	if err != nil {
		return err
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO floodmon_records (id, root, path, date_key, body) VALUES ($1, $2, $3, $4, $5)`,
		id, s.root, path, dateKey, body,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *Postgres) Latest(ctx context.Context, path, dateKey string) (telemetry.Record, bool, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `
SELECT body FROM floodmon_records
WHERE root = $1 AND path = $2 AND date_key = $3
ORDER BY id DESC
LIMIT 1`, s.root, path, dateKey).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select latest: %w", err)
	}
	var rec telemetry.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, false, fmt.Errorf("decode record: %w", err)
	}
	return rec, true, nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
