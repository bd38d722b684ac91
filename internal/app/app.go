package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"floodmon-gateway/internal/config"
	"floodmon-gateway/internal/device"
	"floodmon-gateway/internal/frame"
	"floodmon-gateway/internal/httpapi"
	"floodmon-gateway/internal/metrics"
	"floodmon-gateway/internal/scheduler"
	"floodmon-gateway/internal/store"
	"floodmon-gateway/internal/weather"
)

// Run wires the gateway and blocks until ctx ends or the device fails.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("initializing gateway",
		"serial_port", cfg.SerialPort,
		"serial_baud", cfg.SerialBaud,
		"store_backend", cfg.StoreBackend,
		"store_root", cfg.StoreRoot,
		"weather_city", cfg.WeatherCity,
		"http_addr", cfg.HTTPAddr,
	)

	m := metrics.New()
	clock := scheduler.SystemClock()

	backend, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.close(); err != nil {
			logger.Error("store close", "error", err)
		}
	}()

	sink := store.NewRouter(
		store.NewBreaker(backend.appender, store.BreakerConfig{
			Failures: cfg.StoreBreakerFailures,
			Open:     cfg.StoreBreakerOpen,
		}, logger),
		store.RouterOptions{
			Root:    cfg.StoreRoot,
			Timeout: cfg.StoreTimeout,
			Now:     clock.Now,
			Metrics: m,
		},
		logger,
	)

	weatherClient, err := weather.NewClient(weather.Options{
		Endpoint: cfg.WeatherEndpoint,
		City:     cfg.WeatherCity,
		APIKey:   cfg.WeatherAPIKey,
		Timeout:  cfg.WeatherTimeout,
	}, clock.Now)
	if err != nil {
		return err
	}

	dev, err := device.Open(device.Config{
		Port:        cfg.SerialPort,
		Baud:        cfg.SerialBaud,
		ReadTimeout: cfg.SerialReadTimeout,
	}, logger)
	if err != nil {
		return err
	}
	defer dev.Close()

	sched, err := scheduler.New(scheduler.Config{
		Tick:            cfg.TickInterval,
		SensorInterval:  cfg.SensorPollInterval,
		WeatherInterval: cfg.WeatherPollInterval,
		BootGrace:       cfg.BootGrace,
	}, scheduler.Deps{
		Device:  dev,
		Parser:  frame.NewParser(logger, m, clock.Now),
		Weather: weatherClient,
		Sink:    sink,
		Clock:   clock,
		Metrics: m,
	}, logger)
	if err != nil {
		return err
	}

	// The ops server lives exactly as long as the loop.
	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()

	var wg sync.WaitGroup
	if cfg.HTTPAddr != "" {
		srv := httpapi.NewServer(cfg.HTTPAddr, httpapi.NewRouter(httpapi.Options{
			Status:  sched,
			Metrics: m.Handler(),
			Reader:  backend.reader,
			Now:     clock.Now,
			Logger:  logger,
		}))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := httpapi.Serve(loopCtx, srv, logger); err != nil {
				logger.Error("http server failed", "error", err)
			}
		}()
	}

	err = sched.Run(loopCtx)
	stopLoop()
	wg.Wait()

	if errors.Is(err, device.ErrTransportFatal) {
		return fmt.Errorf("device connection lost: %w", err)
	}
	logger.Info("gateway shutting down")
	return err
}

type backend struct {
	appender store.Appender
	// reader is nil for write-only backends.
	reader store.Reader
	close  func() error
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend, error) {
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		s, err := store.OpenSQLite(ctx, store.SQLiteConfig{
			Path:   cfg.SQLitePath,
			DSN:    cfg.SQLiteDSN,
			LogSQL: cfg.SQLiteLog,
		}, cfg.StoreRoot, logger)
		if err != nil {
			return backend{}, err
		}
		return backend{appender: s, reader: s, close: s.Close}, nil

	case config.BackendPostgres:
		s, err := store.OpenPostgres(ctx, cfg.DatabaseURL, cfg.StoreRoot, logger)
		if err != nil {
			return backend{}, err
		}
		return backend{appender: s, reader: s, close: s.Close}, nil

	case config.BackendInflux:
		s, err := store.NewInflux(store.InfluxConfig{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		}, cfg.StoreRoot, logger)
		if err != nil {
			return backend{}, err
		}
		return backend{appender: s, close: s.Close}, nil

	case config.BackendMQTT:
		s := store.NewMQTT(store.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			Port:     cfg.MQTTPort,
			ClientID: cfg.MQTTClientID,
		}, cfg.StoreRoot, logger)
		// Appends fail and are dropped until the broker is reachable.
		go s.KeepConnecting(ctx)
		return backend{appender: s, close: s.Close}, nil

	default:
		return backend{}, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
