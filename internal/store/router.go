package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"floodmon-gateway/internal/metrics"
	"floodmon-gateway/internal/telemetry"
)

type RouterOptions struct {
	Root    string
	Timeout time.Duration
	Now     func() time.Time
	Metrics *metrics.Metrics
}

// Router maps records to dated stream partitions and hands them to the sink.
type Router struct {
	sink    Appender
	root    string
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewRouter(sink Appender, opts RouterOptions, logger *slog.Logger) *Router {
	if opts.Root == "" {
		opts.Root = DefaultRoot
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		sink:    sink,
		root:    opts.Root,
		timeout: opts.Timeout,
		now:     opts.Now,
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// Append writes rec to the partition for the local date at call time. The
// sink is called exactly once. A failure is logged and counted; the returned
// error wraps ErrAppendFailed and is for reporting only.
func (r *Router) Append(ctx context.Context, path Path, rec telemetry.Record) error {
	dateKey := r.now().Local().Format(DateLayout)
	key := Key(r.root, string(path), dateKey)

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if err := r.sink.Append(ctx, string(path), dateKey, rec); err != nil {
		r.metrics.Append(string(path), false)
		r.logger.Warn("store append failed, record dropped", "key", key, "error", err)
		return fmt.Errorf("%w: %s: %v", ErrAppendFailed, key, err)
	}

	r.metrics.Append(string(path), true)
	r.logger.Info("record stored", "key", key)
	return nil
}
