package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantSim/internal/calibration"
	"QuantSim/internal/domain/errs"
	"QuantSim/internal/domain/models"
	domrepo "QuantSim/internal/domain/repository"
	"QuantSim/internal/engine"
	"QuantSim/internal/repository"
	"QuantSim/internal/services/eventlog"
	"QuantSim/internal/strategy"
	"QuantSim/pkg/cache"
	"QuantSim/pkg/logger"
	"QuantSim/pkg/metrics"
)

var jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type sinkRecorder struct {
	mu    sync.Mutex
	sinks map[string]*eventlog.MemorySink
}

func (r *sinkRecorder) factory(runID string) (domrepo.EventSink, domrepo.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sinks == nil {
		r.sinks = make(map[string]*eventlog.MemorySink)
	}
	s := eventlog.NewMemorySink()
	r.sinks[runID] = s
	return s, nil
}

func (r *sinkRecorder) events(runID string) []models.TradeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sinks[runID].Events()
}

func synthetic() *repository.SyntheticSource {
	return repository.NewSyntheticSource(repository.SyntheticConfig{Seed: 11, Volatility: 0.02})
}

func newBacktests(rec *sinkRecorder) *BacktestUsecase {
	return NewBacktestUsecase(synthetic(), engine.DefaultRunnerConfig(), rec.factory, strategy.Build, logger.Nop(), metrics.Nop{})
}

func TestBacktestRunsOverSyntheticData(t *testing.T) {
	rec := &sinkRecorder{}
	uc := newBacktests(rec)
	req := BacktestRequest{
		RunID:      "bt-1",
		Symbols:    []string{"BTC", "ETH"},
		Strategies: []string{strategy.EMACross, strategy.Breakout},
		From:       jan1,
		To:         jan1.Add(10 * 24 * time.Hour),
		Timeframe:  domrepo.TF1h,
		Warmup:     50 * time.Hour,
	}
	rep, err := uc.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "bt-1", rep.RunID)
	assert.Equal(t, 241, rep.Stats.Timestamps)
	assert.Equal(t, rep.Stats.TotalSignals, rep.Stats.SignalsApproved+rep.Stats.SignalsRejected)
	assert.Zero(t, rep.Stats.StrategyFaults)

	first := rec.events("bt-1")
	for _, ev := range first {
		assert.Equal(t, "bt-1", ev.RunID)
		assert.False(t, ev.Timestamp.Before(jan1), "no event during warmup")
	}

	rep2, err := uc.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, rep.Stats, rep2.Stats)
	assert.Equal(t, first, rec.events("bt-1"), "replays are deterministic")
}

func TestBacktestDerivesRunIDFromRequest(t *testing.T) {
	rec := &sinkRecorder{}
	uc := newBacktests(rec)
	req := BacktestRequest{
		Symbols:    []string{"BTC"},
		Strategies: []string{strategy.EMACross},
		From:       jan1,
		To:         jan1.Add(3 * 24 * time.Hour),
		Timeframe:  domrepo.TF1h,
	}
	a, err := uc.Run(context.Background(), req)
	require.NoError(t, err)
	b, err := uc.Run(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, a.RunID)
	assert.Equal(t, a.RunID, b.RunID)

	req.To = req.To.Add(time.Hour)
	c, err := uc.Run(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, a.RunID, c.RunID)
}

func TestBacktestSetupFailures(t *testing.T) {
	uc := newBacktests(&sinkRecorder{})
	base := BacktestRequest{Symbols: []string{"BTC"}, Strategies: []string{strategy.EMACross}, From: jan1, To: jan1.Add(24 * time.Hour)}

	cases := map[string]func(r *BacktestRequest){
		"no symbols":       func(r *BacktestRequest) { r.Symbols = nil },
		"unknown strategy": func(r *BacktestRequest) { r.Strategies = []string{"nope"} },
		"inverted range":   func(r *BacktestRequest) { r.From, r.To = r.To, r.From },
		"bad timeframe":    func(r *BacktestRequest) { r.Timeframe = "7m" },
		"bad params":       func(r *BacktestRequest) { r.Params = map[string]models.Params{strategy.EMACross: {"fast": 30, "slow": 10}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := base
			mutate(&req)
			_, err := uc.Run(context.Background(), req)
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.KindSetup), err.Error())
		})
	}
}

func calibrationSettings() CalibrationSettings {
	return CalibrationSettings{
		Train:     calibration.Period{Months: 2},
		Test:      calibration.Period{Months: 1},
		HoldOut:   calibration.Period{Months: 1},
		Objective: calibration.ObjectiveConfig{StabilityPenaltyWeight: 0.5, MinTradesRequired: 1},
		Workers:   2,
		Symbols:   []string{"BTC"},
		Timeframe: domrepo.TF1d,
		Ranges: map[string]calibration.Ranges{
			strategy.EMACross: {"fast": {5, 8}, "slow": {20}},
		},
		CacheTTL: time.Hour,
	}
}

func TestCalibrateStoresLatestRanking(t *testing.T) {
	c := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	defer c.Close()
	uc := NewCalibrateUsecase(synthetic(), engine.DefaultRunnerConfig(), calibrationSettings(), strategy.Build,
		logger.Nop(), metrics.Nop{}, WithResultCache(c))
	ctx := context.Background()

	_, err := uc.Latest(ctx, strategy.EMACross)
	assert.ErrorIs(t, err, ErrNoCalibration)

	out, err := uc.Calibrate(ctx, CalibrateRequest{Strategy: strategy.EMACross, From: jan1, To: jan1.AddDate(0, 6, 0)})
	require.NoError(t, err)
	require.Len(t, out.Folds, 3)
	results := out.Sweep.Results[strategy.EMACross]
	require.Len(t, results, 2)
	assert.GreaterOrEqual(t, results[0].ObjectiveScore, results[1].ObjectiveScore)
	for _, r := range results {
		assert.Len(t, r.Folds, 3)
	}

	latest, err := uc.Latest(ctx, strategy.EMACross)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, results[0].Params, latest[0].Params)
	assert.Equal(t, results[0].ObjectiveScore, latest[0].ObjectiveScore)
}

func TestCalibrateRejectsUnknownStrategy(t *testing.T) {
	uc := NewCalibrateUsecase(synthetic(), engine.DefaultRunnerConfig(), calibrationSettings(), strategy.Build, logger.Nop(), metrics.Nop{})
	_, err := uc.Calibrate(context.Background(), CalibrateRequest{Strategy: "nope", From: jan1, To: jan1.AddDate(0, 6, 0)})
	assert.True(t, errs.Is(err, errs.KindSetup))
}

func TestHoldOutValidatesAfterCalibration(t *testing.T) {
	uc := NewCalibrateUsecase(synthetic(), engine.DefaultRunnerConfig(), calibrationSettings(), strategy.Build, logger.Nop(), metrics.Nop{})
	to := jan1.AddDate(0, 6, 0)
	rep, err := uc.HoldOut(context.Background(), HoldOutRequest{Strategy: strategy.EMACross, From: jan1, To: to})
	require.NoError(t, err)

	assert.Equal(t, strategy.EMACross, rep.StrategyID)
	assert.Equal(t, to, rep.Start)
	assert.Equal(t, to.AddDate(0, 1, 0), rep.End)
	assert.Contains(t, []models.Verdict{models.VerdictAdopt, models.VerdictPilot, models.VerdictReject}, rep.Verdict)
	assert.Equal(t, strategy.Defaults(strategy.EMACross), rep.BaselineParams)

	_, err = uc.HoldOut(context.Background(), HoldOutRequest{Strategy: "all", From: jan1, To: to})
	assert.True(t, errs.Is(err, errs.KindSetup))
}

func TestEventAuditHandler(t *testing.T) {
	store := eventlog.NewMemorySink()
	h := NewEventAuditHandler("quantsim.trade_events", store, metrics.Nop{})
	assert.Equal(t, "quantsim.trade_events", h.Topic())
	ctx := context.Background()

	ev := models.TradeEvent{RunID: "r1", Seq: 4, Kind: models.EventEntry, Symbol: "BTC", Timestamp: jan1}
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, h.Handle(ctx, b))
	require.Len(t, store.Events(), 1)
	assert.Equal(t, "r1", store.Events()[0].RunID)

	err = h.Handle(ctx, []byte(`{"seq":1}`))
	assert.True(t, errs.Is(err, errs.KindDataQuality))

	assert.Error(t, h.Handle(ctx, []byte(`{`)))

	store.Fail = errors.New("clickhouse down")
	err = h.Handle(ctx, b)
	assert.True(t, errs.Is(err, errs.KindPersistence))
	assert.Len(t, store.Events(), 1)
}
