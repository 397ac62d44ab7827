// Package calibration grid-searches strategy parameters across walk-forward
// folds and validates the winner on a later hold-out period.
package calibration

import (
	"sort"

	"QuantSim/internal/domain/models"
)

// Ranges names the candidate values of each parameter.
type Ranges map[string][]float64

// GenerateGrid returns the Cartesian product of ranges. Keys are sorted; the
// first key is outermost and the last varies fastest. No ranges yields one
// empty combination, so the strategy runs with its defaults.
func GenerateGrid(ranges Ranges) []models.Params {
	keys := make([]string, 0, len(ranges))
	for k := range ranges {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []models.Params{{}}
	for _, k := range keys {
		values := ranges[k]
		next := make([]models.Params, 0, len(out)*len(values))
		for _, p := range out {
			for _, v := range values {
				q := p.Clone()
				q[k] = v
				next = append(next, q)
			}
		}
		out = next
	}
	return out
}

// GridSize is len(GenerateGrid(ranges)) without building it.
func GridSize(ranges Ranges) int {
	n := 1
	for _, v := range ranges {
		n *= len(v)
	}
	return n
}
