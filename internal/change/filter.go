// Package change suppresses device readings that repeat the last stored state.
package change

import "floodmon-gateway/internal/telemetry"

type Decision int

const (
	Accept Decision = iota + 1
	Suppress
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Suppress:
		return "suppress"
	default:
		return "unknown"
	}
}

// Filter remembers the last accepted reading. It is not safe for concurrent use;
// the scheduler loop is its only caller.
type Filter struct {
	last *telemetry.SensorReading
}

func NewFilter() *Filter {
	return &Filter{}
}

// Decide compares next with the last accepted reading on the float switch,
// distance and both flow fields. Absent and present are different states.
// Nothing else is compared, so the capture timestamp never counts as a change.
func (f *Filter) Decide(next telemetry.SensorReading) Decision {
	if f.last == nil {
		return Accept
	}
	prev := f.last
	if equal(prev.FloatTriggered, next.FloatTriggered) &&
		equal(prev.Distance, next.Distance) &&
		equal(prev.FlowRate, next.FlowRate) &&
		equal(prev.LitersPerMinute, next.LitersPerMinute) {
		return Suppress
	}
	return Accept
}

// Accept records r as the last accepted reading. Call it only after Decide returned Accept.
func (f *Filter) Accept(r telemetry.SensorReading) {
	f.last = &r
}

// Last returns the last accepted reading, or nil when none has been accepted yet.
func (f *Filter) Last() *telemetry.SensorReading {
	if f.last == nil {
		return nil
	}
	r := *f.last
	return &r
}

func equal[T comparable](a, b *T) bool {
	switch {
	case a == nil && b == nil:
		return true
	case a == nil || b == nil:
		return false
	default:
		return *a == *b
	}
}
