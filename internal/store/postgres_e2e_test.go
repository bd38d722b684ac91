//go:build e2e

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"floodmon-gateway/internal/telemetry"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	pgPort := nat.Port("5432/tcp")
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{string(pgPort)},
			Env: map[string]string{
				"POSTGRES_USER":     "floodmon",
				"POSTGRES_PASSWORD": "floodmon",
				"POSTGRES_DB":       "floodmon",
			},
			// The entrypoint restarts the server once after init.
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort(pgPort),
			).WithDeadline(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, pgPort)
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	return fmt.Sprintf("postgres://floodmon:floodmon@%s:%d/floodmon?sslmode=disable", host, mapped.Int())
}

func openPostgres(t *testing.T, url, root string) *Postgres {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := OpenPostgres(ctx, url, root, discardLogger())
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func countRows(t *testing.T, s *Postgres, path, dateKey string) int {
	t.Helper()
	var n int
	err := s.pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM floodmon_records WHERE root = $1 AND path = $2 AND date_key = $3`,
		s.root, path, dateKey,
	).Scan(&n)
	if err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func TestPostgres(t *testing.T) {
	url := startPostgres(t)
	ctx := context.Background()

	s := openPostgres(t, url, DefaultRoot)

	t.Run("schema is created and reopening keeps it", func(t *testing.T) {
		var table string
		if err := s.pool.QueryRow(ctx, `SELECT to_regclass('floodmon_records')::text`).Scan(&table); err != nil {
			t.Fatalf("lookup table: %v", err)
		}
		if table != "floodmon_records" {
			t.Fatalf("table = %q", table)
		}
		openPostgres(t, url, DefaultRoot)
	})

	t.Run("append is not idempotent", func(t *testing.T) {
		rec := telemetry.FlowSample{FlowRate: 3.2, LitersPerMinute: 5.1, Timestamp: "2025-07-14 09:00:00"}.Record()
		for i := 0; i < 2; i++ {
			if err := s.Append(ctx, string(PathFlow), "2025-07-14", rec); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}
		if got := countRows(t, s, string(PathFlow), "2025-07-14"); got != 2 {
			t.Errorf("rows = %d, want 2", got)
		}
	})

	t.Run("latest returns the newest record", func(t *testing.T) {
		for _, temp := range []float64{25.0, 26.5, 27.4} {
			rec := telemetry.Record{"temperature": temp, "timestamp": "2025-07-14 09:00:00"}
			if err := s.Append(ctx, string(PathWeather), "2025-07-14", rec); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}
		rec, ok, err := s.Latest(ctx, string(PathWeather), "2025-07-14")
		if err != nil || !ok {
			t.Fatalf("Latest = %v, %v, %v", rec, ok, err)
		}
		if rec["temperature"] != 27.4 {
			t.Errorf("temperature = %v, want 27.4", rec["temperature"])
		}
	})

	t.Run("empty partition is not found", func(t *testing.T) {
		rec, ok, err := s.Latest(ctx, string(PathWeather), "2025-07-15")
		if err != nil || ok || rec != nil {
			t.Errorf("Latest = %v, %v, %v", rec, ok, err)
		}
	})

	t.Run("partitions are scoped by root", func(t *testing.T) {
		other := openPostgres(t, url, "other_site")
		_, ok, err := other.Latest(ctx, string(PathWeather), "2025-07-14")
		if err != nil || ok {
			t.Errorf("Latest under another root = %v, %v", ok, err)
		}
	})
}
