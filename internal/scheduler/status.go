package scheduler

import (
	"time"

	"floodmon-gateway/internal/telemetry"
)

type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseBooting Phase = "booting"
	PhaseRunning Phase = "running"
	PhaseStopped Phase = "stopped"
)

// Status is a snapshot of the loop for readers on other goroutines.
type Status struct {
	Phase           Phase                      `json:"phase"`
	LastSensorPoll  time.Time                  `json:"last_sensor_poll,omitzero"`
	LastWeatherPoll time.Time                  `json:"last_weather_poll,omitzero"`
	LastReading     *telemetry.SensorReading   `json:"last_reading,omitempty"`
	LastWeather     *telemetry.WeatherSnapshot `json:"last_weather,omitempty"`
}

// Status is safe to call from any goroutine.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.status
	if out.LastReading != nil {
		r := *out.LastReading
		out.LastReading = &r
	}
	if out.LastWeather != nil {
		w := *out.LastWeather
		out.LastWeather = &w
	}
	return out
}

func (s *Scheduler) setPhase(p Phase) {
	s.mu.Lock()
	s.status.Phase = p
	s.mu.Unlock()
}

func (s *Scheduler) publishTimers() {
	s.mu.Lock()
	s.status.LastSensorPoll = s.state.LastSensorPoll
	s.status.LastWeatherPoll = s.state.LastWeatherPoll
	s.mu.Unlock()
}

func (s *Scheduler) publishReading(r telemetry.SensorReading) {
	s.mu.Lock()
	s.status.LastReading = &r
	s.mu.Unlock()
}

func (s *Scheduler) publishWeather(w telemetry.WeatherSnapshot) {
	s.mu.Lock()
	s.status.LastWeather = &w
	s.mu.Unlock()
}
