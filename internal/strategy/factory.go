// Package strategy holds the reference strategies and the factory that
// builds them from calibration parameters.
package strategy

import (
	"fmt"
	"sort"
	"strings"

	"QuantSim/internal/domain/models"
	"QuantSim/internal/domain/service"
)

// Strategy IDs.
const (
	EMACross      = "ema_cross"
	Breakout      = "breakout"
	MeanReversion = "mean_reversion"
)

type entry struct {
	defaults models.Params
	ranges   map[string][]float64
	build    func(id string, p models.Params) (service.Strategy, error)
}

var catalogue = map[string]entry{
	EMACross: {
		defaults: models.Params{"fast": 12, "slow": 26, "atr_mult": 1.5, "rr": 2},
		ranges:   map[string][]float64{"fast": {8, 12}, "slow": {26, 50}, "rr": {1.5, 2, 3}},
		build:    newEMACross,
	},
	Breakout: {
		defaults: models.Params{"lookback": 20, "atr_mult": 1.5, "rr": 2},
		ranges:   map[string][]float64{"lookback": {10, 20, 55}, "atr_mult": {1, 1.5, 2}},
		build:    newBreakout,
	},
	MeanReversion: {
		defaults: models.Params{"window": 20, "z_entry": 2, "atr_mult": 1.5, "max_vpin": 0.7},
		ranges:   map[string][]float64{"window": {20, 50}, "z_entry": {1.5, 2, 2.5}},
		build:    newMeanReversion,
	},
}

// Build returns the strategy registered under id, with params laid over its
// defaults.
func Build(id string, params models.Params) (service.Strategy, error) {
	key := Normalize(id)
	e, ok := catalogue[key]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", id)
	}
	return e.build(key, e.defaults.Merge(params))
}

// Normalize folds case and surrounding blanks: " EMA_Cross " is ema_cross.
func Normalize(id string) string { return strings.ToLower(strings.TrimSpace(id)) }

// IDs lists every registered strategy, sorted.
func IDs() []string {
	out := make([]string, 0, len(catalogue))
	for id := range catalogue {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Known reports whether id is registered.
func Known(id string) bool {
	_, ok := catalogue[Normalize(id)]
	return ok
}

// Defaults returns a copy of a strategy's baseline parameters.
func Defaults(id string) models.Params {
	e, ok := catalogue[Normalize(id)]
	if !ok {
		return models.Params{}
	}
	return e.defaults.Clone()
}

// DefaultRanges returns the built-in calibration grid of a strategy.
func DefaultRanges(id string) map[string][]float64 {
	e, ok := catalogue[Normalize(id)]
	if !ok {
		return nil
	}
	out := make(map[string][]float64, len(e.ranges))
	for k, v := range e.ranges {
		out[k] = append([]float64(nil), v...)
	}
	return out
}
