package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"floodmon-gateway/internal/telemetry"
)

type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Influx writes each record as a point: measurement is the stream path, root
// and date are tags, the record values are fields.
type Influx struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	root     string
	logger   *slog.Logger
}

func NewInflux(cfg InfluxConfig, root string, logger *slog.Logger) (*Influx, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx config incomplete")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Influx{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		root:     root,
		logger:   logger,
	}, nil
}

func (s *Influx) Append(ctx context.Context, path, dateKey string, rec telemetry.Record) error {
	p, err := s.point(path, dateKey, rec)
	if err != nil {
		return err
	}
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

func (s *Influx) point(path, dateKey string, rec telemetry.Record) (*write.Point, error) {
	id, err := newRecordID()
	if err != nil {
		return nil, err
	}

	fields := make(map[string]any, len(rec))
	ts := time.Now()
	for k, v := range rec {
		if k == "timestamp" {
			if s, ok := v.(string); ok {
				if t, err := time.ParseInLocation(telemetry.TimestampLayout, s, time.Local); err == nil {
					ts = t
				}
			}
			continue
		}
		fields[k] = v
	}
	// id is a field so each append does not open a new series.
	fields["id"] = id

	tags := map[string]string{
		"root": s.root,
		"date": dateKey,
	}
	return influxdb2.NewPoint(measurementName(path), tags, fields, ts), nil
}

func (s *Influx) Close() error {
	s.client.Close()
	return nil
}

func measurementName(path string) string {
	var b strings.Builder
	for _, r := range path {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
