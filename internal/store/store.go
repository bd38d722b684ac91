// Package store appends gateway records to a remote date-partitioned store.
//
// Every record lands under {root}/{path}/{YYYY-MM-DD} with a fresh
// time-ordered id, so repeated appends of the same record create new entries.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"floodmon-gateway/internal/telemetry"
)

// Path names a logical stream under the store root.
type Path string

const (
	PathLatest  Path = "iot_data/latest"
	PathFlow    Path = "flow_data"
	PathWeather Path = "weather_data"
)

// DefaultRoot is the namespace all streams live under unless configured otherwise.
const DefaultRoot = "flood_monitoring"

// DateLayout formats the partition key of a stream.
const DateLayout = "2006-01-02"

// ErrAppendFailed wraps every failed append. Callers log it and drop the record.
var ErrAppendFailed = errors.New("store append failed")

// Appender writes one record to {root}/{path}/{dateKey}. Implementations are
// bound to a root at construction.
type Appender interface {
	Append(ctx context.Context, path, dateKey string, rec telemetry.Record) error
}

// Reader returns the most recently appended record of a stream partition.
// ok is false when the partition is empty.
type Reader interface {
	Latest(ctx context.Context, path, dateKey string) (rec telemetry.Record, ok bool, err error)
}

// Key joins the parts of a stream location with '/'.
func Key(root, path, dateKey string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{root, path, dateKey} {
		if p = strings.Trim(p, "/"); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}

// newRecordID returns a push-style id: unique and sortable by creation time.
func newRecordID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("record id: %w", err)
	}
	return id.String(), nil
}
