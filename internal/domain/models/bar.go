package models

import (
	"sort"
	"time"
)

// Bar is one OHLCV record for a symbol. Bars are immutable once loaded.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Series is the ascending bar history of a single symbol.
type Series []Bar

// Last returns the most recent bar, or false for an empty series.
func (s Series) Last() (Bar, bool) {
	if len(s) == 0 {
		return Bar{}, false
	}
	return s[len(s)-1], true
}

// UpTo returns the prefix of s whose timestamps are <= t.
// The returned slice shares the backing array; its capacity is clipped so
// appends by a caller can never expose later bars.
func (s Series) UpTo(t time.Time) Series {
	n := sort.Search(len(s), func(i int) bool { return s[i].Timestamp.After(t) })
	return s[:n:n]
}

// Between returns bars with start <= ts < end.
func (s Series) Between(start, end time.Time) Series {
	lo := sort.Search(len(s), func(i int) bool { return !s[i].Timestamp.Before(start) })
	hi := sort.Search(len(s), func(i int) bool { return !s[i].Timestamp.Before(end) })
	if hi < lo {
		hi = lo
	}
	return s[lo:hi:hi]
}

// Closes extracts close prices.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i := range s {
		out[i] = s[i].Close
	}
	return out
}
