package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"QuantSim/internal/calibration"
	"QuantSim/internal/domain/errs"
	"QuantSim/internal/domain/models"
	domrepo "QuantSim/internal/domain/repository"
	"QuantSim/internal/domain/service"
	"QuantSim/internal/engine"
	"QuantSim/pkg/logger"
)

// BacktestRequest is one historical replay.
type BacktestRequest struct {
	RunID      string
	Symbols    []string
	Strategies []string
	Params     map[string]models.Params
	From       time.Time
	To         time.Time
	Timeframe  domrepo.Timeframe
	// Warmup bars before From warm up features without being traded.
	Warmup time.Duration
}

// BacktestReport is the outcome of a replay.
type BacktestReport struct {
	RunID     string            `json:"run_id"`
	Stats     models.RunStats   `json:"stats"`
	Positions []models.Position `json:"positions"`
}

// BacktestUsecase loads data, builds strategies and runs one scheduler.
type BacktestUsecase struct {
	src     domrepo.MarketDataSource
	cfg     engine.RunnerConfig
	sinks   engine.SinkFactory
	build   calibration.Builder
	log     *logger.Logger
	metrics domrepo.Metrics
}

func NewBacktestUsecase(
	src domrepo.MarketDataSource,
	cfg engine.RunnerConfig,
	sinks engine.SinkFactory,
	build calibration.Builder,
	log *logger.Logger,
	metrics domrepo.Metrics,
) *BacktestUsecase {
	return &BacktestUsecase{src: src, cfg: cfg, sinks: sinks, build: build, log: log, metrics: metrics}
}

// Run executes req. Setup problems are returned before any timestep runs;
// the report carries counters even when the run fails part way.
func (u *BacktestUsecase) Run(ctx context.Context, req BacktestRequest) (BacktestReport, error) {
	if len(req.Symbols) == 0 || len(req.Strategies) == 0 {
		return BacktestReport{}, errs.Setupf("backtest", "symbols and strategies are required")
	}
	if !req.From.Before(req.To) {
		return BacktestReport{}, errs.Setupf("backtest", "from %s not before to %s", req.From.Format(time.RFC3339), req.To.Format(time.RFC3339))
	}
	tf := req.Timeframe
	if tf == "" {
		tf = domrepo.DefaultTimeframe()
	}
	if !domrepo.IsValidTimeframe(tf) {
		return BacktestReport{}, errs.Setupf("backtest", "unsupported timeframe %q", tf)
	}

	strategies := make([]service.Strategy, 0, len(req.Strategies))
	for _, id := range req.Strategies {
		st, err := u.build(id, req.Params[id])
		if err != nil {
			return BacktestReport{}, errs.Setup("build "+id, err)
		}
		strategies = append(strategies, st)
	}

	warmFrom := req.From.Add(-req.Warmup)
	data, err := engine.LoadDataset(ctx, u.src, tf, req.Symbols, warmFrom, req.To)
	if err != nil {
		return BacktestReport{}, err
	}

	runID := req.RunID
	if runID == "" {
		runID = deriveRunID(req, tf)
	}
	l := u.log.With(logger.String("run_id", runID))
	l.Info("backtest started",
		logger.Strings("symbols", data.Symbols()),
		logger.Strings("strategies", req.Strategies),
		logger.Time("from", req.From),
		logger.Time("to", req.To),
		logger.String("timeframe", string(tf)))

	runner := engine.NewRunner(data, u.cfg,
		engine.WithRunnerLogger(u.log),
		engine.WithRunnerMetrics(u.metrics),
		engine.WithSinks(u.sinks))
	res, err := runner.Run(ctx, engine.RunSpec{
		RunID:      runID,
		Strategies: strategies,
		WarmupFrom: warmFrom,
		Start:      req.From,
		End:        req.To,
	})
	rep := BacktestReport{RunID: runID, Stats: res.Stats, Positions: res.Positions}
	if err != nil {
		l.Error("backtest failed", logger.Error(err))
		u.metrics.RecordError(kindLabel(err))
		return rep, err
	}
	return rep, nil
}

func kindLabel(err error) string {
	if k := errs.KindOf(err); k != "" {
		return string(k)
	}
	return "unclassified"
}

// deriveRunID names a replay by its inputs so identical requests stamp
// identical events.
func deriveRunID(req BacktestRequest, tf domrepo.Timeframe) string {
	var b strings.Builder
	fmt.Fprintf(&b, "backtest|%s|%s|%s|%s|%s|%s",
		strings.Join(req.Symbols, ","),
		strings.Join(req.Strategies, ","),
		req.From.UTC().Format(time.RFC3339Nano),
		req.To.UTC().Format(time.RFC3339Nano),
		tf, req.Warmup)
	for _, id := range req.Strategies {
		if p, ok := req.Params[id]; ok {
			fmt.Fprintf(&b, "|%s=%s", id, p.Key())
		}
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(b.String())).String()
}
