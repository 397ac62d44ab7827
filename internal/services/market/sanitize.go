// Package market validates raw bars before they reach the scheduler.
package market

import (
	"math"
	"sort"

	"QuantSim/internal/domain/models"
)

// Violation reasons.
const (
	ViolationNonFinite   = "non_finite"
	ViolationNonPositive = "non_positive_price"
	ViolationHighLow     = "high_below_low"
	ViolationOHLC        = "ohlc_outside_range"
	ViolationVolume      = "negative_volume"
	ViolationDuplicate   = "duplicate_timestamp"
	ViolationSymbol      = "symbol_mismatch"
	ViolationZeroTime    = "zero_timestamp"
)

// Report counts dropped bars by reason.
type Report struct {
	Input      int            `json:"input"`
	Kept       int            `json:"kept"`
	Violations map[string]int `json:"violations,omitempty"`
}

// Dropped is the total number of rejected bars.
func (r Report) Dropped() int { return r.Input - r.Kept }

func (r *Report) add(reason string) {
	if r.Violations == nil {
		r.Violations = make(map[string]int)
	}
	r.Violations[reason]++
}

// Sanitize returns bars sorted ascending by timestamp, with malformed bars and
// repeated timestamps removed. The first bar seen for a timestamp wins. When
// symbol is non-empty, bars for other symbols are dropped. The input slice is
// not modified.
func Sanitize(symbol string, bars []models.Bar) ([]models.Bar, Report) {
	rep := Report{Input: len(bars)}
	out := make([]models.Bar, 0, len(bars))
	for _, b := range bars {
		if reason := check(symbol, b); reason != "" {
			rep.add(reason)
			continue
		}
		out = append(out, b)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	dedup := out[:0]
	for i, b := range out {
		if i > 0 && b.Timestamp.Equal(dedup[len(dedup)-1].Timestamp) {
			rep.add(ViolationDuplicate)
			continue
		}
		dedup = append(dedup, b)
	}
	rep.Kept = len(dedup)
	return dedup, rep
}

func check(symbol string, b models.Bar) string {
	switch {
	case symbol != "" && b.Symbol != symbol:
		return ViolationSymbol
	case b.Timestamp.IsZero():
		return ViolationZeroTime
	case !finite(b.Open, b.High, b.Low, b.Close, b.Volume):
		return ViolationNonFinite
	case b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0:
		return ViolationNonPositive
	case b.High < b.Low:
		return ViolationHighLow
	case b.Open > b.High || b.Open < b.Low || b.Close > b.High || b.Close < b.Low:
		return ViolationOHLC
	case b.Volume < 0:
		return ViolationVolume
	}
	return ""
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
