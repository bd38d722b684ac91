// Package telemetry holds the records produced by the gateway: device sensor
// readings, the derived flow samples and weather snapshots.
package telemetry

import "time"

// TimestampLayout is the capture time format stored with every record.
const TimestampLayout = "2006-01-02 15:04:05"

// FormatTimestamp renders t at second precision in the local zone.
func FormatTimestamp(t time.Time) string {
	return t.Local().Format(TimestampLayout)
}

// Record is the object appended to the store. Keys match the stored wire names.
type Record map[string]any

// SensorReading is one parsed device frame. Nil fields were absent from the frame.
type SensorReading struct {
	FloatTriggered  *bool    `json:"float_triggered,omitempty"`
	Distance        *float64 `json:"distance,omitempty"`
	FlowRate        *float64 `json:"flow_rate,omitempty"`
	LitersPerMinute *float64 `json:"liters_per_minute,omitempty"`
	Timestamp       string   `json:"timestamp"`
}

// HasFlow reports whether both flow fields are present.
func (r SensorReading) HasFlow() bool {
	return r.FlowRate != nil && r.LitersPerMinute != nil
}

// Flow returns the flow part of the reading. ok is false unless both flow
// fields are present.
func (r SensorReading) Flow() (FlowSample, bool) {
	if !r.HasFlow() {
		return FlowSample{}, false
	}
	return FlowSample{
		FlowRate:        *r.FlowRate,
		LitersPerMinute: *r.LitersPerMinute,
		Timestamp:       r.Timestamp,
	}, true
}

func (r SensorReading) Record() Record {
	rec := Record{"timestamp": r.Timestamp}
	if r.FloatTriggered != nil {
		rec["float_triggered"] = *r.FloatTriggered
	}
	if r.Distance != nil {
		rec["distance"] = *r.Distance
	}
	if r.FlowRate != nil {
		rec["flow_rate"] = *r.FlowRate
	}
	if r.LitersPerMinute != nil {
		rec["liters_per_minute"] = *r.LitersPerMinute
	}
	return rec
}

// FlowSample is the flow_data view of an accepted reading.
type FlowSample struct {
	FlowRate        float64 `json:"flow_rate"`
	LitersPerMinute float64 `json:"liters_per_minute"`
	Timestamp       string  `json:"timestamp"`
}

func (f FlowSample) Record() Record {
	return Record{
		"flow_rate":         f.FlowRate,
		"liters_per_minute": f.LitersPerMinute,
		"timestamp":         f.Timestamp,
	}
}

// WeatherSnapshot is the current conditions reported by the weather provider.
type WeatherSnapshot struct {
	Temperature           float64 `json:"temperature"`
	Humidity              float64 `json:"humidity"`
	Pressure              float64 `json:"pressure"`
	Description           string  `json:"weather"`
	WindSpeed             float64 `json:"wind_speed"`
	PrecipitationLastHour float64 `json:"precipitation"`
	Timestamp             string  `json:"timestamp"`
}

func (w WeatherSnapshot) Record() Record {
	return Record{
		"temperature":   w.Temperature,
		"humidity":      w.Humidity,
		"pressure":      w.Pressure,
		"weather":       w.Description,
		"wind_speed":    w.WindSpeed,
		"precipitation": w.PrecipitationLastHour,
		"timestamp":     w.Timestamp,
	}
}
