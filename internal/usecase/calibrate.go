package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"QuantSim/internal/calibration"
	"QuantSim/internal/domain/errs"
	"QuantSim/internal/domain/models"
	domrepo "QuantSim/internal/domain/repository"
	"QuantSim/internal/engine"
	"QuantSim/internal/strategy"
	"QuantSim/pkg/cache"
	"QuantSim/pkg/logger"
)

// ErrNoCalibration means no stored calibration exists for a strategy.
var ErrNoCalibration = errors.New("no calibration stored")

// CalibrationSettings are the walk-forward and objective knobs.
type CalibrationSettings struct {
	Train     calibration.Period
	Test      calibration.Period
	HoldOut   calibration.Period
	Objective calibration.ObjectiveConfig
	Workers   int
	Symbols   []string
	Timeframe domrepo.Timeframe
	Ranges    map[string]calibration.Ranges
	Baselines map[string]models.Params
	CacheTTL  time.Duration
}

// CalibrateRequest selects a strategy, or "all", and the calibration range.
type CalibrateRequest struct {
	Strategy string
	From     time.Time
	To       time.Time
	Symbols  []string
}

// CalibrationOutcome is a finished sweep with the folds it used.
type CalibrationOutcome struct {
	Folds []models.Fold     `json:"folds"`
	Sweep calibration.Sweep `json:"sweep"`
}

// HoldOutRequest calibrates over [From, To) and validates the winner over
// [To, To+hold-out window) unless HoldOutEnd is set.
type HoldOutRequest struct {
	Strategy   string
	From       time.Time
	To         time.Time
	HoldOutEnd time.Time
	Symbols    []string
}

// CalibrateUsecase drives calibration sweeps and hold-out validation.
type CalibrateUsecase struct {
	src     domrepo.MarketDataSource
	run     engine.RunnerConfig
	set     CalibrationSettings
	build   calibration.Builder
	remote  calibration.Executor
	cache   cache.Service
	log     *logger.Logger
	metrics domrepo.Metrics
}

type CalibrateOption func(*CalibrateUsecase)

// WithRemoteExecutor sends units to queue workers instead of local goroutines.
func WithRemoteExecutor(x calibration.Executor) CalibrateOption {
	return func(u *CalibrateUsecase) { u.remote = x }
}

// WithResultCache memoizes fold metrics and stores the latest ranking per strategy.
func WithResultCache(c cache.Service) CalibrateOption {
	return func(u *CalibrateUsecase) { u.cache = c }
}

func NewCalibrateUsecase(
	src domrepo.MarketDataSource,
	run engine.RunnerConfig,
	set CalibrationSettings,
	build calibration.Builder,
	log *logger.Logger,
	metrics domrepo.Metrics,
	opts ...CalibrateOption,
) *CalibrateUsecase {
	if set.Timeframe == "" {
		set.Timeframe = domrepo.DefaultTimeframe()
	}
	u := &CalibrateUsecase{src: src, run: run, set: set, build: build, log: log, metrics: metrics}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *CalibrateUsecase) strategies(id string) ([]string, error) {
	id = strategy.Normalize(id)
	if id == "" || id == "all" {
		return strategy.IDs(), nil
	}
	if !strategy.Known(id) {
		return nil, errs.Setupf("calibrate", "unknown strategy %q", id)
	}
	return []string{id}, nil
}

func (u *CalibrateUsecase) ranges(ids []string) map[string]calibration.Ranges {
	out := make(map[string]calibration.Ranges, len(ids))
	for _, id := range ids {
		if r, ok := u.set.Ranges[id]; ok {
			out[id] = r
			continue
		}
		out[id] = strategy.DefaultRanges(id)
	}
	return out
}

func (u *CalibrateUsecase) symbols(req []string) ([]string, error) {
	if len(req) > 0 {
		return req, nil
	}
	if len(u.set.Symbols) > 0 {
		return u.set.Symbols, nil
	}
	return nil, errs.Setupf("calibrate", "no symbols configured")
}

// evaluator loads [from, to) once and simulates units against it, through
// the result cache when one is configured.
func (u *CalibrateUsecase) evaluator(ctx context.Context, symbols []string, from, to time.Time) (calibration.Evaluator, error) {
	data, err := engine.LoadDataset(ctx, u.src, u.set.Timeframe, symbols, from, to)
	if err != nil {
		return nil, err
	}
	runner := engine.NewRunner(data, u.run, engine.WithRunnerMetrics(u.metrics))
	var eval calibration.Evaluator = calibration.NewRunnerEvaluator(runner, u.build)
	if u.cache != nil {
		ns := cache.HashKey(fmt.Sprintf("%v|%s|%d|%d|%+v", data.Symbols(), u.set.Timeframe, from.Unix(), to.Unix(), u.run))
		eval = calibration.NewCachedEvaluator(eval, u.cache, ns, u.set.CacheTTL, u.log)
	}
	return eval, nil
}

func (u *CalibrateUsecase) optimizer(ctx context.Context, symbols []string, from, to time.Time) (*calibration.Optimizer, error) {
	opts := []calibration.OptimizerOption{
		calibration.WithOptimizerLogger(u.log),
		calibration.WithOptimizerMetrics(u.metrics),
		calibration.WithUniverse(symbols, u.set.Timeframe),
	}
	if u.remote != nil {
		return calibration.NewOptimizer(u.remote, u.set.Objective, opts...), nil
	}
	eval, err := u.evaluator(ctx, symbols, from, to)
	if err != nil {
		return nil, err
	}
	return calibration.NewOptimizer(calibration.NewLocalExecutor(eval, u.set.Workers), u.set.Objective, opts...), nil
}

// Calibrate sweeps the requested strategies. Strategies that fail are listed
// in the sweep's failures; the rest are ranked and stored.
func (u *CalibrateUsecase) Calibrate(ctx context.Context, req CalibrateRequest) (CalibrationOutcome, error) {
	ids, err := u.strategies(req.Strategy)
	if err != nil {
		return CalibrationOutcome{}, err
	}
	symbols, err := u.symbols(req.Symbols)
	if err != nil {
		return CalibrationOutcome{}, err
	}
	folds, err := calibration.GenerateFolds(req.From, req.To, u.set.Train, u.set.Test)
	if err != nil {
		return CalibrationOutcome{}, err
	}
	opt, err := u.optimizer(ctx, symbols, req.From, req.To)
	if err != nil {
		return CalibrationOutcome{}, err
	}

	sweep, err := opt.CalibrateAll(ctx, ids, u.ranges(ids), folds)
	out := CalibrationOutcome{Folds: folds, Sweep: sweep}
	if err != nil {
		return out, err
	}
	for _, id := range sweep.Succeeded() {
		u.store(ctx, id, sweep.Results[id])
	}
	if len(sweep.Results) == 0 {
		return out, errs.Setupf("calibrate", "every strategy failed: %v", sweep.Failures)
	}
	return out, nil
}

func latestKey(id string) string { return cache.Key("calibration", "latest", id) }

func (u *CalibrateUsecase) store(ctx context.Context, id string, results []models.CalibrationResult) {
	if u.cache == nil {
		return
	}
	if err := u.cache.Set(ctx, latestKey(id), results, u.set.CacheTTL); err != nil {
		u.log.Warn("store calibration failed", logger.String("strategy", id), logger.Error(err))
	}
}

// Latest returns the most recent ranking stored for id.
func (u *CalibrateUsecase) Latest(ctx context.Context, id string) ([]models.CalibrationResult, error) {
	if u.cache == nil {
		return nil, ErrNoCalibration
	}
	var out []models.CalibrationResult
	if err := u.cache.Get(ctx, latestKey(strategy.Normalize(id)), &out); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, ErrNoCalibration
		}
		return nil, err
	}
	return out, nil
}

func (u *CalibrateUsecase) baseline(id string) models.Params {
	if p, ok := u.set.Baselines[id]; ok {
		return strategy.Defaults(id).Merge(p)
	}
	return strategy.Defaults(id)
}

// HoldOut calibrates one strategy and classifies its best parameters against
// the baseline on the later hold-out period.
func (u *CalibrateUsecase) HoldOut(ctx context.Context, req HoldOutRequest) (models.HoldOutReport, error) {
	req.Strategy = strategy.Normalize(req.Strategy)
	if req.Strategy == "" || req.Strategy == "all" {
		return models.HoldOutReport{}, errs.Setupf("holdout", "a single strategy is required")
	}
	out, err := u.Calibrate(ctx, CalibrateRequest{Strategy: req.Strategy, From: req.From, To: req.To, Symbols: req.Symbols})
	if err != nil {
		return models.HoldOutReport{}, err
	}
	results, ok := out.Sweep.Results[req.Strategy]
	if !ok || len(results) == 0 {
		return models.HoldOutReport{}, errs.Setupf("holdout", "calibration of %s failed: %s", req.Strategy, out.Sweep.Failures[req.Strategy])
	}

	end := req.HoldOutEnd
	if end.IsZero() {
		end = u.set.HoldOut.AddTo(req.To)
	}
	symbols, _ := u.symbols(req.Symbols)
	eval, err := u.evaluator(ctx, symbols, u.set.Train.SubFrom(req.To), end)
	if err != nil {
		return models.HoldOutReport{}, err
	}
	rep, err := calibration.NewHoldOut(eval).Validate(ctx, req.Strategy,
		u.baseline(req.Strategy), results[0].Params, out.Folds, req.To, end, u.set.Train)
	if err != nil {
		return rep, err
	}
	u.log.Info("hold-out classified",
		logger.String("strategy", req.Strategy),
		logger.String("verdict", string(rep.Verdict)),
		logger.Float("sharpe_improvement", rep.SharpeImprovement),
		logger.Float("calmar_improvement", rep.CalmarImprovement),
		logger.Float("calibrated_sharpe", rep.Calibrated.Sharpe),
		logger.Float("calibrated_max_dd_pct", rep.Calibrated.MaxDrawdownPct))
	return rep, nil
}
