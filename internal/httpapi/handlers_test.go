package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"floodmon-gateway/internal/metrics"
	"floodmon-gateway/internal/scheduler"
	"floodmon-gateway/internal/store"
	"floodmon-gateway/internal/telemetry"
)

type staticStatus scheduler.Status

func (s staticStatus) Status() scheduler.Status { return scheduler.Status(s) }

type memReader struct {
	records map[string]telemetry.Record
	err     error
}

func (m *memReader) Latest(_ context.Context, path, dateKey string) (telemetry.Record, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	rec, ok := m.records[path+"@"+dateKey]
	return rec, ok, nil
}

var testNow = time.Date(2025, 7, 14, 9, 0, 0, 0, time.Local)

func newTestServer(t *testing.T, status scheduler.Status, reader store.Reader) *httptest.Server {
	t.Helper()

	m := metrics.New()
	m.Frame(metrics.FrameAccepted)

	router := NewRouter(Options{
		Status:  staticStatus(status),
		Metrics: m.Handler(),
		Reader:  reader,
		Now:     func() time.Time { return testNow },
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ts := httptest.NewServer(NewServer(":0", router).Handler)
	t.Cleanup(ts.Close)
	return ts
}

func mustGetJSON[T any](t *testing.T, client *http.Client, url string, out *T) *http.Response {
	t.Helper()

	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	return resp
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name       string
		phase      scheduler.Phase
		wantStatus int
		wantBody   string
	}{
		{name: "running", phase: scheduler.PhaseRunning, wantStatus: http.StatusOK, wantBody: "ok"},
		{name: "booting", phase: scheduler.PhaseBooting, wantStatus: http.StatusOK, wantBody: "ok"},
		{name: "stopped", phase: scheduler.PhaseStopped, wantStatus: http.StatusServiceUnavailable, wantBody: "stopped"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, scheduler.Status{Phase: tt.phase}, nil)

			var body map[string]string
			resp := mustGetJSON(t, ts.Client(), ts.URL+"/healthz", &body)

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status=%d want=%d", resp.StatusCode, tt.wantStatus)
			}
			if body["status"] != tt.wantBody {
				t.Fatalf("body.status=%q want=%q", body["status"], tt.wantBody)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	distance := 12.5
	st := scheduler.Status{
		Phase:          scheduler.PhaseRunning,
		LastSensorPoll: testNow,
		LastReading:    &telemetry.SensorReading{Distance: &distance, Timestamp: "2025-07-14 09:00:00"},
	}
	ts := newTestServer(t, st, nil)

	var body map[string]any
	resp := mustGetJSON(t, ts.Client(), ts.URL+"/api/v1/status", &body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusOK)
	}
	if body["phase"] != "running" {
		t.Errorf("phase=%v", body["phase"])
	}
	reading, ok := body["last_reading"].(map[string]any)
	if !ok {
		t.Fatalf("last_reading=%v", body["last_reading"])
	}
	if reading["distance"] != 12.5 {
		t.Errorf("distance=%v", reading["distance"])
	}
	if _, ok := reading["flow_rate"]; ok {
		t.Error("absent field serialised")
	}
	if _, ok := body["last_weather"]; ok {
		t.Error("last_weather should be omitted before the first fetch")
	}
	if _, ok := body["last_weather_poll"]; ok {
		t.Error("zero last_weather_poll should be omitted")
	}
}

func TestLatest(t *testing.T) {
	reader := &memReader{records: map[string]telemetry.Record{
		"flow_data@2025-07-14":    {"flow_rate": 3.2, "liters_per_minute": 5.1, "timestamp": "2025-07-14 08:59:55"},
		"weather_data@2025-07-13": {"temperature": 25.0},
	}}
	ts := newTestServer(t, scheduler.Status{Phase: scheduler.PhaseRunning}, reader)

	t.Run("defaults to today", func(t *testing.T) {
		var body map[string]any
		resp := mustGetJSON(t, ts.Client(), ts.URL+"/api/v1/latest/flow", &body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusOK)
		}
		if body["path"] != "flow_data" || body["date"] != "2025-07-14" {
			t.Errorf("body=%v", body)
		}
		rec := body["record"].(map[string]any)
		if rec["flow_rate"] != 3.2 {
			t.Errorf("record=%v", rec)
		}
	})

	t.Run("explicit date", func(t *testing.T) {
		var body map[string]any
		resp := mustGetJSON(t, ts.Client(), ts.URL+"/api/v1/latest/weather?date=2025-07-13", &body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusOK)
		}
	})

	errorCases := []struct {
		name string
		url  string
		want int
	}{
		{name: "unknown stream", url: "/api/v1/latest/rainfall", want: http.StatusNotFound},
		{name: "empty partition", url: "/api/v1/latest/sensor", want: http.StatusNotFound},
		{name: "bad date", url: "/api/v1/latest/flow?date=14-07-2025", want: http.StatusBadRequest},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			resp := mustGetJSON(t, ts.Client(), ts.URL+tt.url, &body)
			if resp.StatusCode != tt.want {
				t.Fatalf("status=%d want=%d", resp.StatusCode, tt.want)
			}
			if _, ok := body["message"]; !ok {
				t.Fatalf("expected message field, got %v", body)
			}
		})
	}
}

func TestLatest_ReaderUnavailableOrFailing(t *testing.T) {
	ts := newTestServer(t, scheduler.Status{}, nil)
	var body map[string]any
	if resp := mustGetJSON(t, ts.Client(), ts.URL+"/api/v1/latest/flow", &body); resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("status=%d want=%d", resp.StatusCode, http.StatusNotImplemented)
	}

	ts = newTestServer(t, scheduler.Status{}, &memReader{err: errors.New("disk I/O error")})
	if resp := mustGetJSON(t, ts.Client(), ts.URL+"/api/v1/latest/flow", &body); resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status=%d want=%d", resp.StatusCode, http.StatusInternalServerError)
	}
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t, scheduler.Status{}, nil)

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if !strings.Contains(string(b), `floodmon_frames_total{outcome="accepted"} 1`) {
		t.Errorf("metrics output missing frame counter:\n%s", b)
	}
}

func TestRouting(t *testing.T) {
	ts := newTestServer(t, scheduler.Status{}, nil)

	resp, err := ts.Client().Get(ts.URL + "/does-not-exist")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown route status=%d want=%d", resp.StatusCode, http.StatusNotFound)
	}

	resp, err = ts.Client().Post(ts.URL+"/healthz", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("wrong method status=%d want=%d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer("127.0.0.1:0", NewRouter(Options{Status: staticStatus{}}))

	done := make(chan error, 1)
	go func() { done <- Serve(ctx, srv, slog.New(slog.NewTextHandler(io.Discard, nil))) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
