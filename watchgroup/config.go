// Copyright 2026 The DSA Historian Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package watchgroup

import "github.com/juju/errors"

// LoggingType selects which updates a WatchGroup persists (spec.md §4.D).
type LoggingType int

const (
	// AllData persists every non-null update.
	AllData LoggingType = iota
	// Interval persists one sampled value per Watch per scheduler tick.
	Interval
	// PointChange persists an update only when it differs from the
	// Watch's last observed value.
	PointChange
)

// String returns the roConfig "lt" spelling for t.
func (t LoggingType) String() string {
	switch t {
	case AllData:
		return "ALL_DATA"
	case Interval:
		return "INTERVAL"
	case PointChange:
		return "POINT_CHANGE"
	default:
		return "unknown"
	}
}

// ParseLoggingType parses the roConfig "lt" spelling.
func ParseLoggingType(s string) (LoggingType, error) {
	switch s {
	case "ALL_DATA":
		return AllData, nil
	case "INTERVAL":
		return Interval, nil
	case "POINT_CHANGE":
		return PointChange, nil
	default:
		return 0, errors.NotValidf("logging type %q", s)
	}
}

// Config is a WatchGroup's policy parameters, swapped as a single
// immutable snapshot under reconfiguration rather than as separate
// mutable fields (spec.md §9, "shared mutable policy fields →
// configuration snapshot").
type Config struct {
	LoggingType LoggingType

	// IntervalSeconds is the interval sampler's period. Only meaningful
	// when LoggingType == Interval; zero (or negative, before
	// Normalize) disables the sampler entirely.
	IntervalSeconds int

	// BufferFlushSeconds is the buffer flush task's period. Zero (or
	// negative, before Normalize) disables buffering: writes go direct.
	BufferFlushSeconds int
}

// DefaultConfig matches the roConfig fallback values from spec.md §6.
var DefaultConfig = Config{
	LoggingType:        AllData,
	IntervalSeconds:    5,
	BufferFlushSeconds: 5,
}

// Normalize clamps negative periods to zero (spec.md §4.D "negative
// inputs"). A negative IntervalSeconds is treated as "disabled", the same
// as zero, rather than "tick as fast as possible" — the source leaves this
// ambiguous; see DESIGN.md.
func (c Config) Normalize() Config {
	if c.IntervalSeconds < 0 {
		c.IntervalSeconds = 0
	}
	if c.BufferFlushSeconds < 0 {
		c.BufferFlushSeconds = 0
	}
	return c
}

// needsFlushTask reports whether c requires a running buffer-flush
// scheduler.
func (c Config) needsFlushTask() bool {
	return c.BufferFlushSeconds > 0
}

// needsIntervalTask reports whether c requires a running interval
// sampler.
func (c Config) needsIntervalTask() bool {
	return c.LoggingType == Interval && c.IntervalSeconds > 0
}
