package features

import (
	"math"

	"QuantSim/internal/domain/models"
)

// normCDF is the standard normal cumulative distribution.
func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// BuyFraction classifies a bar's volume with bulk volume classification:
// the buy share is Phi(dP / sigma) where sigma is the std of recent price changes.
func BuyFraction(priceChange, sigma float64) float64 {
	if sigma <= 0 {
		switch {
		case priceChange > 0:
			return 1
		case priceChange < 0:
			return 0
		default:
			return 0.5
		}
	}
	return normCDF(priceChange / sigma)
}

// CloseLocation is ((C-L)-(H-C))/(H-L) in [-1, 1], 0 for a flat bar.
func CloseLocation(b models.Bar) float64 {
	rng := b.High - b.Low
	if rng <= 0 {
		return 0
	}
	return ((b.Close - b.Low) - (b.High - b.Close)) / rng
}

// TrueRange of b given the previous close; prevClose <= 0 means no previous bar.
func TrueRange(b models.Bar, prevClose float64) float64 {
	tr := b.High - b.Low
	if prevClose > 0 {
		tr = math.Max(tr, math.Abs(b.High-prevClose))
		tr = math.Max(tr, math.Abs(b.Low-prevClose))
	}
	return tr
}

// VPIN over a bar history: sum |V_buy - V_sell| / sum V across the last
// window bars, with buy volume from bulk volume classification.
func VPIN(bars []models.Bar, window int) float64 {
	if len(bars) < 2 || window < 1 {
		return 0
	}
	start := len(bars) - window
	if start < 1 {
		start = 1
	}
	changes := make([]float64, 0, len(bars)-start)
	for i := start; i < len(bars); i++ {
		changes = append(changes, bars[i].Close-bars[i-1].Close)
	}
	sigma := stdDev(changes)

	imbalance, total := 0.0, 0.0
	for i := start; i < len(bars); i++ {
		v := bars[i].Volume
		buy := v * BuyFraction(bars[i].Close-bars[i-1].Close, sigma)
		imbalance += math.Abs(2*buy - v)
		total += v
	}
	if total == 0 {
		return 0
	}
	return imbalance / total
}

func stdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := 0.0
	for _, x := range xs {
		m += x
	}
	m /= float64(len(xs))
	ss := 0.0
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
