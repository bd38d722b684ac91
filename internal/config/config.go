package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendSQLite   = "sqlite"
	BackendMQTT     = "mqtt"
	BackendInflux   = "influx"
	BackendPostgres = "postgres"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	SerialPort        string
	SerialBaud        int
	SerialReadTimeout time.Duration

	BootGrace           time.Duration
	TickInterval        time.Duration
	SensorPollInterval  time.Duration
	WeatherPollInterval time.Duration

	WeatherEndpoint string
	WeatherCity     string
	WeatherAPIKey   string
	WeatherTimeout  time.Duration

	StoreBackend         string
	StoreRoot            string
	StoreTimeout         time.Duration
	StoreBreakerFailures int
	StoreBreakerOpen     time.Duration

	SQLitePath string
	SQLiteDSN  string
	SQLiteLog  bool

	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	DatabaseURL string
}

// LoadDotEnv loads variables from a .env file if it exists. Variables
// already set in the environment win.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func LoadFromEnv() (Config, error) {
	var cfg Config
	var err error

	cfg.AppEnv = envString("APP_ENV", "dev")
	switch cfg.AppEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", cfg.AppEnv)
	}

	if cfg.LogLevel, err = parseLogLevel(envString("LOG_LEVEL", "info")); err != nil {
		return Config{}, err
	}

	// An explicitly empty HTTP_ADDR disables the ops server.
	cfg.HTTPAddr = ":9090"
	if v, ok := os.LookupEnv("HTTP_ADDR"); ok {
		cfg.HTTPAddr = strings.TrimSpace(v)
	}

	cfg.SerialPort = envString("SERIAL_PORT", "/dev/ttyUSB0")
	if cfg.SerialBaud, err = envInt("SERIAL_BAUD", 115200); err != nil {
		return Config{}, err
	}
	if cfg.SerialBaud <= 0 {
		return Config{}, fmt.Errorf("SERIAL_BAUD must be positive, got %d", cfg.SerialBaud)
	}

	durations := []struct {
		key  string
		def  string
		dest *time.Duration
		// zeroOK allows 0, e.g. to skip the boot grace period.
		zeroOK bool
	}{
		{"SERIAL_READ_TIMEOUT", "100ms", &cfg.SerialReadTimeout, false},
		{"BOOT_GRACE", "5s", &cfg.BootGrace, true},
		{"TICK_INTERVAL", "100ms", &cfg.TickInterval, false},
		{"SENSOR_POLL_INTERVAL", "5s", &cfg.SensorPollInterval, false},
		{"WEATHER_POLL_INTERVAL", "10m", &cfg.WeatherPollInterval, false},
		{"WEATHER_TIMEOUT", "10s", &cfg.WeatherTimeout, false},
		{"STORE_TIMEOUT", "5s", &cfg.StoreTimeout, false},
		{"STORE_BREAKER_OPEN", "30s", &cfg.StoreBreakerOpen, false},
	}
	for _, d := range durations {
		v, err := envDuration(d.key, d.def)
		if err != nil {
			return Config{}, err
		}
		if v < 0 || (v == 0 && !d.zeroOK) {
			return Config{}, fmt.Errorf("%s must be positive, got %v", d.key, v)
		}
		*d.dest = v
	}

	cfg.WeatherEndpoint = envString("WEATHER_ENDPOINT", "https://api.openweathermap.org/data/2.5/weather")
	cfg.WeatherCity = envString("WEATHER_CITY", "Kopargaon")
	cfg.WeatherAPIKey = envString("WEATHER_API_KEY", "")
	if cfg.WeatherAPIKey == "" {
		return Config{}, fmt.Errorf("WEATHER_API_KEY is required")
	}

	cfg.StoreBackend = strings.ToLower(envString("STORE_BACKEND", BackendSQLite))
	cfg.StoreRoot = strings.Trim(envString("STORE_ROOT", "flood_monitoring"), "/")
	if cfg.StoreRoot == "" {
		return Config{}, fmt.Errorf("STORE_ROOT must not be empty")
	}
	if cfg.StoreBreakerFailures, err = envInt("STORE_BREAKER_FAILURES", 5); err != nil {
		return Config{}, err
	}
	if cfg.StoreBreakerFailures <= 0 {
		return Config{}, fmt.Errorf("STORE_BREAKER_FAILURES must be positive, got %d", cfg.StoreBreakerFailures)
	}

	cfg.SQLitePath = envString("SQLITE_PATH", "data/floodmon.db")
	cfg.SQLiteDSN = envString("SQLITE_DSN", "")
	if cfg.SQLiteLog, err = envBool("SQLITE_LOG", false); err != nil {
		return Config{}, err
	}

	cfg.MQTTBroker = envString("MQTT_BROKER", "localhost")
	if cfg.MQTTPort, err = envInt("MQTT_PORT", 1883); err != nil {
		return Config{}, err
	}
	cfg.MQTTClientID = envString("MQTT_CLIENT_ID", "floodmon-gateway")

	cfg.InfluxURL = envString("INFLUX_URL", "http://localhost:8086")
	cfg.InfluxToken = envString("INFLUX_TOKEN", "")
	cfg.InfluxOrg = envString("INFLUX_ORG", "")
	cfg.InfluxBucket = envString("INFLUX_BUCKET", "floodmon")

	cfg.DatabaseURL = envString("DATABASE_URL", "")

	switch cfg.StoreBackend {
	case BackendSQLite, BackendMQTT:
	case BackendInflux:
		if cfg.InfluxToken == "" || cfg.InfluxOrg == "" {
			return Config{}, fmt.Errorf("STORE_BACKEND=influx requires INFLUX_TOKEN and INFLUX_ORG")
		}
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("STORE_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		return Config{}, fmt.Errorf("invalid STORE_BACKEND %q (allowed: sqlite, mqtt, influx, postgres)", cfg.StoreBackend)
	}

	return cfg, nil
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}

func envBool(key string, def bool) (bool, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}

func envDuration(key, def string) (time.Duration, error) {
	s := envString(key, def)
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
