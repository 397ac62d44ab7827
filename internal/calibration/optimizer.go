package calibration

import (
	"context"
	"sort"
	"time"

	"QuantSim/internal/domain/errs"
	"QuantSim/internal/domain/models"
	"QuantSim/internal/domain/repository"
	"QuantSim/pkg/logger"
	"QuantSim/pkg/metrics"
)

// Optimizer grid-searches one strategy at a time across folds.
type Optimizer struct {
	exec      Executor
	cfg       ObjectiveConfig
	symbols   []string
	timeframe repository.Timeframe
	log       *logger.Logger
	metrics   repository.Metrics
}

type OptimizerOption func(*Optimizer)

func WithOptimizerLogger(l *logger.Logger) OptimizerOption {
	return func(o *Optimizer) {
		if l != nil {
			o.log = l
		}
	}
}

func WithOptimizerMetrics(m repository.Metrics) OptimizerOption {
	return func(o *Optimizer) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithUniverse tags units with the data they run on, for remote workers.
func WithUniverse(symbols []string, tf repository.Timeframe) OptimizerOption {
	return func(o *Optimizer) {
		o.symbols = append([]string(nil), symbols...)
		o.timeframe = tf
	}
}

func NewOptimizer(exec Executor, cfg ObjectiveConfig, opts ...OptimizerOption) *Optimizer {
	o := &Optimizer{exec: exec, cfg: cfg, log: logger.Nop(), metrics: metrics.Nop{}}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Optimizer) units(strategyID string, grid []models.Params, folds []models.Fold) []Unit {
	units := make([]Unit, 0, len(grid)*len(folds))
	for _, p := range grid {
		for _, f := range folds {
			units = append(units, Unit{StrategyID: strategyID, Params: p, Fold: f, Symbols: o.symbols, Timeframe: o.timeframe})
		}
	}
	return units
}

// EvaluateParams runs params over every fold and scores the aggregate.
func (o *Optimizer) EvaluateParams(ctx context.Context, strategyID string, params models.Params, folds []models.Fold) (models.CalibrationResult, error) {
	results, err := o.evaluate(ctx, strategyID, []models.Params{params}, folds)
	if err != nil {
		return models.CalibrationResult{}, err
	}
	return results[0], nil
}

// Calibrate evaluates the full grid and returns every result ranked by
// objective, best first.
func (o *Optimizer) Calibrate(ctx context.Context, strategyID string, ranges Ranges, folds []models.Fold) ([]models.CalibrationResult, error) {
	grid := GenerateGrid(ranges)
	if len(grid) == 0 {
		return nil, errs.Setupf("calibrate", "empty parameter grid for %s", strategyID)
	}
	began := time.Now()
	o.log.Info("calibration started",
		logger.String("strategy", strategyID),
		logger.Int("combinations", len(grid)),
		logger.Int("folds", len(folds)))

	results, err := o.evaluate(ctx, strategyID, grid, folds)
	if err != nil {
		return nil, err
	}
	Rank(results)

	best := results[0]
	o.metrics.RecordObjective(strategyID, best.ObjectiveScore)
	o.metrics.RecordLatency("calibrate", time.Since(began).Seconds())
	o.log.Info("calibration finished",
		logger.String("strategy", strategyID),
		logger.String("best_params", best.Params.Key()),
		logger.Float("best_objective", best.ObjectiveScore),
		logger.Duration("elapsed", time.Since(began)))
	return results, nil
}

func (o *Optimizer) evaluate(ctx context.Context, strategyID string, grid []models.Params, folds []models.Fold) ([]models.CalibrationResult, error) {
	if len(folds) == 0 {
		return nil, errs.Setupf("calibrate", "no folds")
	}
	metricsByUnit, err := o.exec.Execute(ctx, o.units(strategyID, grid, folds))
	if err != nil {
		return nil, err
	}
	results := make([]models.CalibrationResult, len(grid))
	for i, p := range grid {
		fm := metricsByUnit[i*len(folds) : (i+1)*len(folds)]
		results[i] = Aggregate(strategyID, p, append([]models.FoldMetrics(nil), fm...), o.cfg)
	}
	return results, nil
}

// Sweep is the outcome of calibrating several strategies. A failing
// strategy is recorded by name and does not stop the others.
type Sweep struct {
	Results  map[string][]models.CalibrationResult `json:"results"`
	Failures map[string]string                     `json:"failures,omitempty"`
}

// Succeeded lists calibrated strategies in name order.
func (s Sweep) Succeeded() []string {
	out := make([]string, 0, len(s.Results))
	for id := range s.Results {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CalibrateAll calibrates each strategy in turn. Only cancellation aborts
// the sweep.
func (o *Optimizer) CalibrateAll(ctx context.Context, strategies []string, ranges map[string]Ranges, folds []models.Fold) (Sweep, error) {
	sweep := Sweep{Results: make(map[string][]models.CalibrationResult), Failures: make(map[string]string)}
	for _, id := range strategies {
		if err := ctx.Err(); err != nil {
			return sweep, err
		}
		res, err := o.Calibrate(ctx, id, ranges[id], folds)
		if err != nil {
			if ctx.Err() != nil {
				return sweep, ctx.Err()
			}
			o.log.Error("strategy calibration failed", logger.String("strategy", id), logger.Error(err))
			kind := string(errs.KindOf(err))
			if kind == "" {
				kind = "calibration"
			}
			o.metrics.RecordError(kind)
			sweep.Failures[id] = err.Error()
			continue
		}
		sweep.Results[id] = res
	}
	return sweep, nil
}
