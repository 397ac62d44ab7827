package calibration

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"QuantSim/internal/domain/errs"
	"QuantSim/internal/domain/models"
	"QuantSim/internal/domain/repository"
	"QuantSim/internal/domain/service"
	"QuantSim/internal/engine"
	"QuantSim/pkg/logger"
)

// Unit is one (parameter set, fold) simulation. Symbols and Timeframe let a
// remote worker load the same data it would see locally.
type Unit struct {
	StrategyID string               `json:"strategy_id"`
	Params     models.Params        `json:"params"`
	Fold       models.Fold          `json:"fold"`
	Symbols    []string             `json:"symbols,omitempty"`
	Timeframe  repository.Timeframe `json:"timeframe,omitempty"`
}

// RunID is derived from the unit so repeated evaluations share an id.
func (u Unit) RunID() string {
	name := u.StrategyID + "|" + u.Params.Key() + "|" + strconv.Itoa(u.Fold.Index) + "|" +
		u.Fold.TestStart.UTC().Format(time.RFC3339) + "|" + u.Fold.TestEnd.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// Evaluator runs one unit and returns its out-of-sample metrics.
type Evaluator interface {
	EvaluateFold(ctx context.Context, u Unit) (models.FoldMetrics, error)
}

// Builder constructs a strategy instance from parameters.
type Builder func(id string, params models.Params) (service.Strategy, error)

// RunnerEvaluator simulates units against a preloaded dataset. Train window
// bars only warm up features; metrics cover the test window.
type RunnerEvaluator struct {
	runner *engine.Runner
	build  Builder
}

func NewRunnerEvaluator(runner *engine.Runner, build Builder) *RunnerEvaluator {
	return &RunnerEvaluator{runner: runner, build: build}
}

func (e *RunnerEvaluator) EvaluateFold(ctx context.Context, u Unit) (models.FoldMetrics, error) {
	return evaluate(ctx, e.runner, e.build, u)
}

func evaluate(ctx context.Context, runner *engine.Runner, build Builder, u Unit) (models.FoldMetrics, error) {
	st, err := build(u.StrategyID, u.Params)
	if err != nil {
		return models.FoldMetrics{}, errs.Setup("build "+u.StrategyID, err)
	}
	res, err := runner.Run(ctx, engine.RunSpec{
		RunID:      u.RunID(),
		Strategies: []service.Strategy{st},
		WarmupFrom: u.Fold.TrainStart,
		Start:      u.Fold.TestStart,
		// test windows are half-open
		End: u.Fold.TestEnd.Add(-time.Nanosecond),
	})
	if err != nil {
		return models.FoldMetrics{}, err
	}
	return models.FoldMetrics{Fold: u.Fold.Index, PerformanceMetrics: res.Stats.Performance}, nil
}

// SourceEvaluator loads each unit's window from a data source before
// simulating it. Workers use it since they hold no preloaded dataset.
type SourceEvaluator struct {
	src   repository.MarketDataSource
	cfg   engine.RunnerConfig
	build Builder
	opts  []engine.RunnerOption
	log   *logger.Logger
}

func NewSourceEvaluator(src repository.MarketDataSource, cfg engine.RunnerConfig, build Builder, l *logger.Logger, opts ...engine.RunnerOption) *SourceEvaluator {
	if l == nil {
		l = logger.Nop()
	}
	return &SourceEvaluator{src: src, cfg: cfg, build: build, opts: opts, log: l}
}

func (e *SourceEvaluator) EvaluateFold(ctx context.Context, u Unit) (models.FoldMetrics, error) {
	tf := u.Timeframe
	if tf == "" {
		tf = repository.DefaultTimeframe()
	}
	data, err := engine.LoadDataset(ctx, e.src, tf, u.Symbols, u.Fold.TrainStart, u.Fold.TestEnd)
	if err != nil {
		return models.FoldMetrics{}, err
	}
	e.log.Debug("unit dataset loaded",
		logger.String("strategy", u.StrategyID),
		logger.Int("fold", u.Fold.Index),
		logger.Strings("symbols", data.Symbols()))
	return evaluate(ctx, engine.NewRunner(data, e.cfg, e.opts...), e.build, u)
}
