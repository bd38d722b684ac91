package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"floodmon-gateway/internal/telemetry"
)

var errClientStopped = errors.New("mqtt client stopped")

type MQTTConfig struct {
	Broker   string
	Port     int
	ClientID string
	// ConnectAttempts bounds the initial connect; 0 means 5.
	ConnectAttempts int
	PublishTimeout  time.Duration
}

// MQTT publishes each record, retained, to {root}/{path}/{date}/{id}.
type MQTT struct {
	client mqtt.Client
	cfg    MQTTConfig
	root   string
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewMQTT(cfg MQTTConfig, root string, logger *slog.Logger) *MQTT {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = 5
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	m := &MQTT{
		cfg:    cfg,
		root:   root,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)

	// Initial connect is retried by Connect; after that paho reconnects on its own.
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		m.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.Broker, "port", cfg.Port)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		m.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	m.client = mqtt.NewClient(opts)
	return m
}

// Connect establishes the broker connection, retrying with exponential
// backoff. It respects ctx and Close.
func (m *MQTT) Connect(ctx context.Context) error {
	select {
	case <-m.stopCh:
		return errClientStopped
	default:
	}
	if m.IsConnected() {
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 30 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(m.cfg.ConnectAttempts-1)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := m.connectOnce(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, errClientStopped) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		m.logger.Warn("mqtt connect failed", "attempt", attempt, "error", err)
		return err
	}, policy)
	if err != nil {
		return fmt.Errorf("mqtt connect after %d attempts: %w", attempt, err)
	}
	return nil
}

// KeepConnecting repeats Connect until it succeeds, ctx ends or Close is called.
func (m *MQTT) KeepConnecting(ctx context.Context) {
	for ctx.Err() == nil {
		err := m.Connect(ctx)
		if err == nil || errors.Is(err, errClientStopped) {
			return
		}
		m.logger.Warn("mqtt store unavailable, retrying", "error", err)
	}
}

func (m *MQTT) connectOnce(ctx context.Context) error {
	token := m.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			return token.Error()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stopCh:
			return errClientStopped
		default:
		}
	}
}

// publishQoS is at-most-once: paho keeps no in-flight copy, so a publish
// reported as failed is never resent after reconnect.
const publishQoS byte = 0

func (m *MQTT) Append(ctx context.Context, path, dateKey string, rec telemetry.Record) error {
	if !m.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}
	id, err := newRecordID()
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	topic := Key(m.root, path, dateKey) + "/" + id
	token := m.client.Publish(topic, publishQoS, true, data)

	timeout := m.cfg.PublishTimeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	m.logger.Debug("published record", "topic", topic)
	return nil
}

func (m *MQTT) IsConnected() bool {
	m.mu.RLock()
	connected := m.connected
	m.mu.RUnlock()
	return connected && m.client.IsConnected()
}

// Close stops pending Connect calls and disconnects. Safe to call more than once.
func (m *MQTT) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.client.Disconnect(250)
	m.setConnected(false)
	m.logger.Info("mqtt disconnected")
	return nil
}

func (m *MQTT) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}
