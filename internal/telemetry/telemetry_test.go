package telemetry

import "testing"

func ptr[T any](v T) *T { return &v }

func TestSensorReading_Record_OnlyPresentFields(t *testing.T) {
	r := SensorReading{
		FloatTriggered: ptr(false),
		Distance:       ptr(12.5),
		Timestamp:      "2025-06-01 10:00:00",
	}
	rec := r.Record()

	if len(rec) != 3 {
		t.Fatalf("len(rec) = %d, want 3: %v", len(rec), rec)
	}
	if rec["float_triggered"] != false {
		t.Errorf("float_triggered = %v, want false", rec["float_triggered"])
	}
	if rec["distance"] != 12.5 {
		t.Errorf("distance = %v, want 12.5", rec["distance"])
	}
	if _, ok := rec["flow_rate"]; ok {
		t.Error("flow_rate present, want absent")
	}
}

func TestSensorReading_Flow(t *testing.T) {
	t.Run("both fields present", func(t *testing.T) {
		r := SensorReading{FlowRate: ptr(3.2), LitersPerMinute: ptr(5.1), Timestamp: "2025-06-01 10:00:00"}
		f, ok := r.Flow()
		if !ok {
			t.Fatal("Flow() ok = false, want true")
		}
		if f.FlowRate != 3.2 || f.LitersPerMinute != 5.1 {
			t.Errorf("Flow() = %+v", f)
		}
		if f.Timestamp != r.Timestamp {
			t.Errorf("Timestamp = %q, want %q", f.Timestamp, r.Timestamp)
		}
	})

	t.Run("one field missing", func(t *testing.T) {
		r := SensorReading{FlowRate: ptr(3.2)}
		if _, ok := r.Flow(); ok {
			t.Fatal("Flow() ok = true, want false")
		}
	})
}

func TestWeatherSnapshot_Record(t *testing.T) {
	w := WeatherSnapshot{
		Temperature: 28.1,
		Humidity:    80,
		Pressure:    1008,
		Description: "light rain",
		WindSpeed:   3.4,
		Timestamp:   "2025-06-01 10:00:00",
	}
	rec := w.Record()
	for _, key := range []string{"temperature", "humidity", "pressure", "weather", "wind_speed", "precipitation", "timestamp"} {
		if _, ok := rec[key]; !ok {
			t.Errorf("record missing %q", key)
		}
	}
	if rec["precipitation"] != 0.0 {
		t.Errorf("precipitation = %v, want 0", rec["precipitation"])
	}
}
