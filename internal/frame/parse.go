package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"floodmon-gateway/internal/metrics"
	"floodmon-gateway/internal/telemetry"
)

// ErrInvalidFrame matches every *InvalidFrameError.
var ErrInvalidFrame = errors.New("invalid frame")

type Reason int

const (
	NotStructured Reason = iota + 1
	MalformedEncoding
)

func (r Reason) String() string {
	switch r {
	case NotStructured:
		return "not structured"
	case MalformedEncoding:
		return "malformed encoding"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// InvalidFrameError describes a rejected device line. The line is skipped, never retried.
type InvalidFrameError struct {
	Reason Reason
	Line   string
	Err    error
}

func (e *InvalidFrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid frame (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid frame (%s)", e.Reason)
}

func (e *InvalidFrameError) Is(target error) bool { return target == ErrInvalidFrame }

func (e *InvalidFrameError) Unwrap() error { return e.Err }

// wireFrame lists the keys the gateway understands; anything else is ignored.
type wireFrame struct {
	FloatTriggered  *flexBool `json:"float_triggered"`
	Distance        *float64  `json:"distance"`
	FlowRate        *float64  `json:"flow_rate"`
	LitersPerMinute *float64  `json:"liters_per_minute"`
}

// flexBool accepts JSON booleans and the strings "true"/"false", which some
// firmware builds send for the float switch.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.ToLower(string(bytes.TrimSpace(data))) {
	case "true", `"true"`:
		*b = true
	case "false", `"false"`:
		*b = false
	default:
		return fmt.Errorf("float_triggered: cannot use %s as bool", data)
	}
	return nil
}

// Parser turns raw device lines into sensor readings stamped with receipt time.
type Parser struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewParser returns a parser. A nil now uses time.Now.
func NewParser(logger *slog.Logger, m *metrics.Metrics, now func() time.Time) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Parser{logger: logger, metrics: m, now: now}
}

// Parse validates one line. Rejections are *InvalidFrameError values.
func (p *Parser) Parse(line string) (telemetry.SensorReading, error) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
		p.metrics.Frame(metrics.FrameNotStructured)
		return telemetry.SensorReading{}, &InvalidFrameError{Reason: NotStructured, Line: line}
	}

	var wf wireFrame
	if err := json.Unmarshal([]byte(line), &wf); err != nil {
		p.metrics.Frame(metrics.FrameMalformed)
		return telemetry.SensorReading{}, &InvalidFrameError{Reason: MalformedEncoding, Line: line, Err: err}
	}

	r := telemetry.SensorReading{
		Distance:        wf.Distance,
		FlowRate:        wf.FlowRate,
		LitersPerMinute: wf.LitersPerMinute,
		Timestamp:       telemetry.FormatTimestamp(p.now()),
	}
	if wf.FloatTriggered != nil {
		v := bool(*wf.FloatTriggered)
		r.FloatTriggered = &v
	}

	if r.HasFlow() {
		p.metrics.Frame(metrics.FrameFlow)
		p.logger.Info("flow reading",
			"flow_rate_hz", *r.FlowRate,
			"liters_per_minute", *r.LitersPerMinute,
		)
	}
	return r, nil
}
