package repository

import "time"

// Timeframe represents bar resolution.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	return tf.Duration() > 0
}

// DefaultTimeframe returns the default timeframe.
func DefaultTimeframe() Timeframe { return TF1h }

// NormalizeTimeframe converts raw string to a valid timeframe (or default).
func NormalizeTimeframe(s string) Timeframe {
	tf := Timeframe(s)
	if IsValidTimeframe(tf) {
		return tf
	}
	return DefaultTimeframe()
}

// Duration is the bar length, or 0 for an unknown timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF1m:
		return time.Minute
	case TF5m:
		return 5 * time.Minute
	case TF15m:
		return 15 * time.Minute
	case TF1h:
		return time.Hour
	case TF4h:
		return 4 * time.Hour
	case TF1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// BarsPerYear is the number of bars in a 365-day year, used to annualise ratios.
func (tf Timeframe) BarsPerYear() float64 {
	d := tf.Duration()
	if d <= 0 {
		d = DefaultTimeframe().Duration()
	}
	return float64(365*24*time.Hour) / float64(d)
}
