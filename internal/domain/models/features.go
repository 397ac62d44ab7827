package models

import "time"

// VolatilityRegime buckets realized volatility relative to its own recent history.
type VolatilityRegime string

const (
	RegimeUnknown VolatilityRegime = "unknown"
	RegimeLow     VolatilityRegime = "low"
	RegimeNormal  VolatilityRegime = "normal"
	RegimeHigh    VolatilityRegime = "high"
)

// Well-known feature names.
const (
	FeatureLogReturn  = "log_return"
	FeatureVolatility = "volatility"
	FeatureVPIN       = "vpin"
	FeatureOFI        = "ofi"
	FeatureATR        = "atr"
)

// FeatureSnapshot is the derived per-symbol state for one timestep. It is
// rebuilt every timestep and never persisted.
type FeatureSnapshot struct {
	Symbol    string
	Timestamp time.Time
	Regime    VolatilityRegime
	Values    map[string]float64
}

// Get returns a named feature.
func (f FeatureSnapshot) Get(name string) (float64, bool) {
	v, ok := f.Values[name]
	return v, ok
}

// Float returns a named feature or def when missing.
func (f FeatureSnapshot) Float(name string, def float64) float64 {
	if v, ok := f.Values[name]; ok {
		return v
	}
	return def
}

// MarketContext is what the risk gate sees alongside a signal.
type MarketContext struct {
	Timestamp        time.Time
	Symbol           string
	VPIN             float64
	Volatility       float64
	VolatilityRegime VolatilityRegime
	OpenPositions    int
	Equity           float64
}
