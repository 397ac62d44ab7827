package calibration

import (
	"math"
	"sort"

	"QuantSim/internal/domain/models"
)

const (
	minCalmarFactor  = 0.1
	tradeShortfallPx = 0.01
)

// ObjectiveConfig weights the overfitting penalties.
type ObjectiveConfig struct {
	StabilityPenaltyWeight float64
	MinTradesRequired      int
}

// Objective scores aggregated fold metrics:
//
//	sharpe_mean*max(calmar_mean, 0.1) - w*(sharpe_std+calmar_std) - max(0, min_trades-total_trades)*0.01
//
// floored at 0. It depends only on its arguments.
func Objective(r models.CalibrationResult, cfg ObjectiveConfig) float64 {
	score := r.SharpeMean * math.Max(r.CalmarMean, minCalmarFactor)
	score -= cfg.StabilityPenaltyWeight * (r.SharpeStd + r.CalmarStd)
	if short := cfg.MinTradesRequired - r.TotalTrades; short > 0 {
		score -= float64(short) * tradeShortfallPx
	}
	if score < 0 || math.IsNaN(score) {
		return 0
	}
	return score
}

// Aggregate summarises per-fold metrics with means and population standard
// deviations and scores the result.
func Aggregate(strategyID string, params models.Params, folds []models.FoldMetrics, cfg ObjectiveConfig) models.CalibrationResult {
	sharpes := make([]float64, len(folds))
	calmars := make([]float64, len(folds))
	r := models.CalibrationResult{StrategyID: strategyID, Params: params, Folds: folds}
	for i, f := range folds {
		sharpes[i] = f.Sharpe
		calmars[i] = f.Calmar
		r.TotalTrades += f.TotalTrades
	}
	r.SharpeMean, r.SharpeStd = meanStd(sharpes)
	r.CalmarMean, r.CalmarStd = meanStd(calmars)
	r.ObjectiveScore = Objective(r, cfg)
	return r
}

func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		std += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(std / float64(len(xs)))
}

// Rank sorts results by objective, highest first. Ties keep their order.
func Rank(results []models.CalibrationResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].ObjectiveScore > results[j].ObjectiveScore
	})
}
