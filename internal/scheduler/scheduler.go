// Package scheduler runs the gateway's single polling loop. Every tick it
// checks two independent timers: the sensor poll reads one device frame and
// stores it if it changed, the weather poll fetches and stores current
// conditions. Both timers advance whether or not their poll succeeded.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"floodmon-gateway/internal/change"
	"floodmon-gateway/internal/frame"
	"floodmon-gateway/internal/metrics"
	"floodmon-gateway/internal/store"
	"floodmon-gateway/internal/telemetry"
)

// LineSource yields complete device lines without blocking for long. ok is
// false when no complete line is available; an error ends the loop.
type LineSource interface {
	ReadLine() (line string, ok bool, err error)
}

type WeatherSource interface {
	Fetch(ctx context.Context) (telemetry.WeatherSnapshot, error)
}

// Sink stores one record on a stream. Errors are reported, never retried.
type Sink interface {
	Append(ctx context.Context, path store.Path, rec telemetry.Record) error
}

type Config struct {
	Tick            time.Duration
	SensorInterval  time.Duration
	WeatherInterval time.Duration
	// BootGrace is how long device output is discarded after startup.
	BootGrace time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		Tick:            100 * time.Millisecond,
		SensorInterval:  5 * time.Second,
		WeatherInterval: 600 * time.Second,
		BootGrace:       5 * time.Second,
	}
}

type Deps struct {
	Device  LineSource
	Parser  *frame.Parser
	Weather WeatherSource
	Sink    Sink
	Clock   Clock
	Metrics *metrics.Metrics
}

// State is owned by the loop goroutine.
type State struct {
	LastSensorPoll  time.Time
	LastWeatherPoll time.Time
	Filter          *change.Filter
}

type Scheduler struct {
	cfg     Config
	device  LineSource
	parser  *frame.Parser
	weather WeatherSource
	sink    Sink
	clock   Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	state State

	mu     sync.RWMutex
	status Status
}

func New(cfg Config, deps Deps, logger *slog.Logger) (*Scheduler, error) {
	if deps.Device == nil || deps.Parser == nil || deps.Weather == nil || deps.Sink == nil {
		return nil, errors.New("scheduler: device, parser, weather and sink are required")
	}
	if cfg.Tick <= 0 || cfg.SensorInterval <= 0 || cfg.WeatherInterval <= 0 {
		return nil, fmt.Errorf("scheduler: tick and poll intervals must be positive")
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:     cfg,
		device:  deps.Device,
		parser:  deps.Parser,
		weather: deps.Weather,
		sink:    deps.Sink,
		clock:   deps.Clock,
		logger:  logger,
		metrics: deps.Metrics,
		state:   State{Filter: change.NewFilter()},
		status:  Status{Phase: PhaseIdle},
	}, nil
}

// Run discards device boot output, stores one bootstrap weather sample and
// then ticks until ctx ends or the device fails. It returns ctx.Err() on
// cancellation and an error wrapping the device error on device failure.
func (s *Scheduler) Run(ctx context.Context) error {
	s.setPhase(PhaseBooting)
	defer s.setPhase(PhaseStopped)

	if err := s.discardBootOutput(ctx); err != nil {
		return err
	}

	s.Bootstrap(ctx)

	now := s.clock.Now()
	s.state.LastSensorPoll = now
	s.state.LastWeatherPoll = now
	s.publishTimers()
	s.setPhase(PhaseRunning)
	s.logger.Info("scheduler running",
		"tick", s.cfg.Tick,
		"sensor_interval", s.cfg.SensorInterval,
		"weather_interval", s.cfg.WeatherInterval,
	)

	for {
		if err := s.clock.Sleep(ctx, s.cfg.Tick); err != nil {
			return err
		}
		if err := s.Tick(ctx, s.clock.Now()); err != nil {
			return err
		}
	}
}

// Bootstrap fetches and stores one weather sample without touching the timers.
func (s *Scheduler) Bootstrap(ctx context.Context) {
	s.logger.Info("fetching bootstrap weather sample")
	s.pollWeather(ctx)
}

// Tick evaluates both timers at now, sensor first. It returns an error only
// when the device connection failed.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	var deviceErr error
	if now.Sub(s.state.LastSensorPoll) >= s.cfg.SensorInterval {
		deviceErr = s.pollSensor(ctx)
		s.state.LastSensorPoll = now
	}
	if deviceErr == nil && now.Sub(s.state.LastWeatherPoll) >= s.cfg.WeatherInterval {
		s.pollWeather(ctx)
		s.state.LastWeatherPoll = now
	}
	s.publishTimers()
	return deviceErr
}

// State returns a copy of the loop state. Only call it from the loop goroutine
// or after Run has returned.
func (s *Scheduler) State() State {
	return s.state
}

func (s *Scheduler) discardBootOutput(ctx context.Context) error {
	if s.cfg.BootGrace <= 0 {
		return nil
	}
	s.logger.Info("waiting for device boot", "grace", s.cfg.BootGrace)

	deadline := s.clock.Now().Add(s.cfg.BootGrace)
	discarded := 0
	for s.clock.Now().Before(deadline) {
		_, ok, err := s.device.ReadLine()
		if err != nil {
			return fmt.Errorf("device during boot: %w", err)
		}
		if ok {
			discarded++
			continue
		}
		if err := s.clock.Sleep(ctx, s.cfg.Tick); err != nil {
			return err
		}
	}
	s.logger.Info("device boot grace elapsed", "discarded_lines", discarded)
	return nil
}

func (s *Scheduler) pollSensor(ctx context.Context) error {
	line, ok, err := s.device.ReadLine()
	if err != nil {
		s.logger.Error("device read failed", "error", err)
		return fmt.Errorf("sensor poll: %w", err)
	}
	s.metrics.SensorPoll(ok)
	if !ok {
		s.logger.Debug("no frame available")
		return nil
	}

	reading, err := s.parser.Parse(line)
	if err != nil {
		var fe *frame.InvalidFrameError
		if errors.As(err, &fe) {
			s.logger.Warn("invalid frame skipped", "reason", fe.Reason.String(), "line", fe.Line)
		} else {
			s.logger.Warn("invalid frame skipped", "error", err)
		}
		return nil
	}

	if s.state.Filter.Decide(reading) == change.Suppress {
		s.metrics.Frame(metrics.FrameSuppressed)
		s.logger.Info("reading unchanged, not stored")
		return nil
	}
	s.state.Filter.Accept(reading)
	s.metrics.Frame(metrics.FrameAccepted)
	s.logger.Info("reading accepted", readingAttrs(reading)...)
	s.publishReading(reading)

	// Store failures are logged and counted by the sink; the record is dropped.
	_ = s.sink.Append(ctx, store.PathLatest, reading.Record())
	if flow, ok := reading.Flow(); ok {
		_ = s.sink.Append(ctx, store.PathFlow, flow.Record())
	}
	return nil
}

func (s *Scheduler) pollWeather(ctx context.Context) {
	snap, err := s.weather.Fetch(ctx)
	s.metrics.WeatherPoll(err == nil)
	if err != nil {
		s.logger.Warn("weather poll skipped", "error", err)
		return
	}
	s.logger.Info("weather fetched",
		"temperature", snap.Temperature,
		"weather", snap.Description,
		"precipitation", snap.PrecipitationLastHour,
	)
	s.publishWeather(snap)
	_ = s.sink.Append(ctx, store.PathWeather, snap.Record())
}

func readingAttrs(r telemetry.SensorReading) []any {
	attrs := []any{"timestamp", r.Timestamp}
	if r.FloatTriggered != nil {
		attrs = append(attrs, "float_triggered", *r.FloatTriggered)
	}
	if r.Distance != nil {
		attrs = append(attrs, "distance", *r.Distance)
	}
	if r.FlowRate != nil {
		attrs = append(attrs, "flow_rate", *r.FlowRate)
	}
	if r.LitersPerMinute != nil {
		attrs = append(attrs, "liters_per_minute", *r.LitersPerMinute)
	}
	return attrs
}
