package calibration

import (
	"context"
	"math"
	"time"

	"QuantSim/internal/domain/errs"
	"QuantSim/internal/domain/models"
)

// Verdict thresholds. Improvements are fractions: 0.10 is 10%.
const (
	adoptImprovement = 0.10
	adoptMinSharpe   = 1.5
	adoptMaxDDPct    = 15.0
	rejectWorsening  = -0.05
	rejectMinSharpe  = 1.0
	rejectMaxDDPct   = 25.0
	baselineEpsilon  = 1e-9
)

// Improvement is the relative change from baseline to calibrated. A baseline
// of zero gives 0 when both are equal and +/-1 otherwise.
func Improvement(baseline, calibrated float64) float64 {
	if math.Abs(baseline) < baselineEpsilon {
		switch {
		case math.Abs(calibrated) < baselineEpsilon:
			return 0
		case calibrated > 0:
			return 1
		default:
			return -1
		}
	}
	return (calibrated - baseline) / math.Abs(baseline)
}

// Classify applies the adoption rules. REJECT wins over ADOPT.
func Classify(sharpeImp, calmarImp, calSharpe, calMaxDDPct float64) models.Verdict {
	switch {
	case sharpeImp < rejectWorsening || calmarImp < rejectWorsening ||
		calSharpe < rejectMinSharpe || calMaxDDPct > rejectMaxDDPct:
		return models.VerdictReject
	case sharpeImp > adoptImprovement && calmarImp > adoptImprovement &&
		calSharpe > adoptMinSharpe && calMaxDDPct < adoptMaxDDPct:
		return models.VerdictAdopt
	default:
		return models.VerdictPilot
	}
}

// HoldOut reruns baseline and calibrated parameters on a period after every
// calibration fold. Each call is independent.
type HoldOut struct {
	eval Evaluator
}

func NewHoldOut(eval Evaluator) *HoldOut { return &HoldOut{eval: eval} }

// Validate compares both parameter sets over [start, end). The period must
// start at or after the last fold's test end.
func (h *HoldOut) Validate(ctx context.Context, strategyID string, baseline, calibrated models.Params, folds []models.Fold, start, end time.Time, warmup Period) (models.HoldOutReport, error) {
	rep := models.HoldOutReport{
		StrategyID:       strategyID,
		Start:            start,
		End:              end,
		BaselineParams:   baseline,
		CalibratedParams: calibrated,
	}
	if !start.Before(end) {
		return rep, errs.Setupf("holdout", "start %s not before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	if last := LastTestEnd(folds); start.Before(last) {
		return rep, errs.Setupf("holdout", "hold-out start %s overlaps calibration folds ending %s",
			start.Format(time.RFC3339), last.Format(time.RFC3339))
	}

	window := models.Fold{Index: -1, TrainStart: warmup.SubFrom(start), TrainEnd: start, TestStart: start, TestEnd: end}
	base, err := h.eval.EvaluateFold(ctx, Unit{StrategyID: strategyID, Params: baseline, Fold: window})
	if err != nil {
		return rep, err
	}
	cal, err := h.eval.EvaluateFold(ctx, Unit{StrategyID: strategyID, Params: calibrated, Fold: window})
	if err != nil {
		return rep, err
	}

	rep.Baseline, rep.Calibrated = base.PerformanceMetrics, cal.PerformanceMetrics
	rep.SharpeImprovement = Improvement(base.Sharpe, cal.Sharpe)
	rep.CalmarImprovement = Improvement(base.Calmar, cal.Calmar)
	rep.Verdict = Classify(rep.SharpeImprovement, rep.CalmarImprovement, cal.Sharpe, cal.MaxDrawdownPct)
	return rep, nil
}
