package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"floodmon-gateway/internal/telemetry"
)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	sink := &fakeSink{err: errors.New("timeout")}
	b := NewBreaker(sink, BreakerConfig{Failures: 3, Open: time.Hour}, discardLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Append(ctx, string(PathLatest), "2025-07-14", telemetry.Record{}); err == nil {
			t.Fatalf("append %d: expected error", i)
		}
	}
	if b.State() != gobreaker.StateOpen {
		t.Fatalf("State = %v, want open", b.State())
	}

	err := b.Append(ctx, string(PathLatest), "2025-07-14", telemetry.Record{})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Append while open = %v, want ErrOpenState", err)
	}
	if len(sink.calls) != 3 {
		t.Errorf("sink called %d times, want 3", len(sink.calls))
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	sink := &fakeSink{}
	b := NewBreaker(sink, BreakerConfig{Failures: 2, Open: time.Hour}, discardLogger())
	ctx := context.Background()

	sink.err = errors.New("boom")
	_ = b.Append(ctx, string(PathFlow), "2025-07-14", telemetry.Record{})
	sink.err = nil
	if err := b.Append(ctx, string(PathFlow), "2025-07-14", telemetry.Record{}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	sink.err = errors.New("boom")
	_ = b.Append(ctx, string(PathFlow), "2025-07-14", telemetry.Record{})

	if b.State() != gobreaker.StateClosed {
		t.Errorf("State = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	sink := &fakeSink{err: errors.New("boom")}
	b := NewBreaker(sink, BreakerConfig{Failures: 1, Open: 20 * time.Millisecond}, discardLogger())
	ctx := context.Background()

	_ = b.Append(ctx, string(PathWeather), "2025-07-14", telemetry.Record{})
	if b.State() != gobreaker.StateOpen {
		t.Fatalf("State = %v, want open", b.State())
	}

	time.Sleep(40 * time.Millisecond)
	sink.err = nil
	if err := b.Append(ctx, string(PathWeather), "2025-07-14", telemetry.Record{}); err != nil {
		t.Fatalf("trial Append: %v", err)
	}
	if b.State() != gobreaker.StateClosed {
		t.Errorf("State = %v, want closed", b.State())
	}
}
