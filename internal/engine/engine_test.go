package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantSim/internal/domain/errs"
	"QuantSim/internal/domain/models"
	"QuantSim/internal/domain/repository"
	"QuantSim/internal/domain/service"
	"QuantSim/internal/services/eventlog"
	"QuantSim/internal/services/ledger"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func series(sym string, n int, every time.Duration) models.Series {
	out := make(models.Series, n)
	for i := range out {
		c := 100 + float64(i)
		out[i] = models.Bar{
			Symbol:    sym,
			Timestamp: t0.Add(time.Duration(i) * every),
			Open:      c - 0.2, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 10,
		}
	}
	return out
}

type approveAll struct{}

func (approveAll) EvaluateSignal(sig models.Signal, _ models.MarketContext) models.RiskDecision {
	return models.RiskDecision{SignalID: sig.ID, Approved: true, PositionSize: 1}
}

type rejectAll struct{}

func (rejectAll) EvaluateSignal(sig models.Signal, _ models.MarketContext) models.RiskDecision {
	return models.RiskDecision{SignalID: sig.ID, RejectionReason: "no"}
}

// longEvery emits one wide-bracket long on every bar.
type longEvery struct {
	id    string
	calls int
}

func (s *longEvery) ID() string { return s.id }

func (s *longEvery) Evaluate(h models.Series, _ models.FeatureSnapshot) ([]models.Signal, error) {
	s.calls++
	b, _ := h.Last()
	return []models.Signal{{Direction: models.Long, EntryPrice: b.Close, StopLoss: b.Close - 50, TakeProfit: b.Close + 50}}, nil
}

type recorder struct {
	violations int
	clipped    bool
	calls      int
}

func (r *recorder) ID() string { return "recorder" }

func (r *recorder) Evaluate(h models.Series, f models.FeatureSnapshot) ([]models.Signal, error) {
	r.calls++
	for _, b := range h {
		if b.Timestamp.After(f.Timestamp) {
			r.violations++
		}
	}
	if last, ok := h.Last(); !ok || !last.Timestamp.Equal(f.Timestamp) {
		r.violations++
	}
	r.clipped = cap(h) == len(h)
	return nil, nil
}

type panicker struct{}

func (panicker) ID() string { return "panicker" }

func (panicker) Evaluate(models.Series, models.FeatureSnapshot) ([]models.Signal, error) {
	panic("boom")
}

type failing struct{}

func (failing) ID() string { return "failing" }

func (failing) Evaluate(models.Series, models.FeatureSnapshot) ([]models.Signal, error) {
	return nil, errors.New("bad input")
}

func newScheduler(t *testing.T, gate service.Gate, sink *eventlog.MemorySink, cfg Config, strategies ...service.Strategy) *Scheduler {
	t.Helper()
	reg, err := NewRegistry(strategies...)
	require.NoError(t, err)
	return New(reg, gate, ledger.New(ledger.DefaultConfig()), eventlog.NewBuffered(sink, eventlog.WithThreshold(1000)), cfg)
}

func TestCausality(t *testing.T) {
	rec := &recorder{}
	s := newScheduler(t, approveAll{}, eventlog.NewMemorySink(), Config{}, rec)
	require.NoError(t, s.Load(map[string]models.Series{
		"AAA": series("AAA", 30, time.Hour),
		"BBB": series("BBB", 15, 2*time.Hour),
	}))

	stats, err := s.Run(context.Background(), t0, t0.Add(29*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 30, stats.Timestamps)
	assert.Equal(t, 45, rec.calls)
	assert.Zero(t, rec.violations)
	assert.True(t, rec.clipped)
}

func TestWarmupBarsAreNotSimulated(t *testing.T) {
	rec := &recorder{}
	s := newScheduler(t, approveAll{}, eventlog.NewMemorySink(), Config{}, rec)
	require.NoError(t, s.Load(map[string]models.Series{"AAA": series("AAA", 20, time.Hour)}))

	stats, err := s.Run(context.Background(), t0.Add(10*time.Hour), t0.Add(19*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Timestamps)
	assert.Equal(t, 10, rec.calls)
	assert.Zero(t, rec.violations)
}

func TestIsolation(t *testing.T) {
	good := &longEvery{id: "good"}
	s := newScheduler(t, approveAll{}, eventlog.NewMemorySink(), Config{}, panicker{}, failing{}, good)
	require.NoError(t, s.Load(map[string]models.Series{"AAA": series("AAA", 10, time.Hour)}))

	stats, err := s.Run(context.Background(), t0, t0.Add(9*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 10, good.calls)
	assert.Equal(t, 10, stats.TotalSignals)
	assert.Equal(t, 10, stats.SignalsApproved)
	assert.Equal(t, 20, stats.StrategyFaults)
	assert.Equal(t, 10, stats.FaultsByID["panicker"])
	assert.Equal(t, 10, stats.FaultsByID["failing"])
}

func TestRejectionsAreLogged(t *testing.T) {
	sink := eventlog.NewMemorySink()
	s := newScheduler(t, rejectAll{}, sink, Config{}, &longEvery{id: "a"})
	require.NoError(t, s.Load(map[string]models.Series{"AAA": series("AAA", 5, time.Hour)}))

	stats, err := s.Run(context.Background(), t0, t0.Add(4*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 5, stats.SignalsRejected)
	assert.Zero(t, stats.SignalsApproved)
	events := sink.Events()
	require.Len(t, events, 5)
	for _, ev := range events {
		assert.Equal(t, models.EventRejection, ev.Kind)
	}
}

func TestRegistrationOrder(t *testing.T) {
	sink := eventlog.NewMemorySink()
	s := newScheduler(t, rejectAll{}, sink, Config{}, &longEvery{id: "zeta"}, &longEvery{id: "alpha"})
	require.NoError(t, s.Load(map[string]models.Series{"AAA": series("AAA", 3, time.Hour)}))

	_, err := s.Run(context.Background(), t0, t0.Add(2*time.Hour))
	require.NoError(t, err)
	events := sink.Events()
	require.Len(t, events, 6)
	for i := 0; i < len(events); i += 2 {
		assert.Equal(t, "zeta", events[i].StrategyID)
		assert.Equal(t, "alpha", events[i+1].StrategyID)
	}
}

func TestDeterminism(t *testing.T) {
	data := NewDataset(repository.TF1h, map[string]models.Series{
		"AAA": series("AAA", 48, time.Hour),
		"BBB": series("BBB", 24, 2*time.Hour),
	})
	run := func() ([]models.TradeEvent, models.RunStats) {
		sink := eventlog.NewMemorySink()
		r := NewRunner(data, DefaultRunnerConfig(), WithSinks(func(string) (repository.EventSink, repository.EventSink) {
			return sink, nil
		}))
		res, err := r.Run(context.Background(), RunSpec{
			RunID:      "fixed",
			Strategies: []service.Strategy{&longEvery{id: "a"}, &longEvery{id: "b"}},
			Start:      t0,
			End:        t0.Add(47 * time.Hour),
		})
		require.NoError(t, err)
		return sink.Events(), res.Stats
	}

	ev1, st1 := run()
	ev2, st2 := run()
	require.NotEmpty(t, ev1)
	assert.Equal(t, ev1, ev2)
	assert.Equal(t, st1, st2)
}

func TestCancellationFlushesEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := eventlog.NewMemorySink()
	s := newScheduler(t, rejectAll{}, sink, Config{}, &cancelAfter{n: 3, cancel: cancel})
	require.NoError(t, s.Load(map[string]models.Series{"AAA": series("AAA", 10, time.Hour)}))

	stats, err := s.Run(ctx, t0, t0.Add(9*time.Hour))
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, stats.Cancelled)
	assert.Equal(t, 3, stats.Timestamps)
	assert.Len(t, sink.Events(), 3)
}

type cancelAfter struct {
	n      int
	calls  int
	cancel context.CancelFunc
}

func (c *cancelAfter) ID() string { return "cancel" }

func (c *cancelAfter) Evaluate(h models.Series, _ models.FeatureSnapshot) ([]models.Signal, error) {
	c.calls++
	if c.calls == c.n {
		c.cancel()
	}
	b, _ := h.Last()
	return []models.Signal{{Direction: models.Long, EntryPrice: b.Close, StopLoss: b.Close - 1, TakeProfit: b.Close + 2}}, nil
}

func TestOrderingViolationIsSetupFailure(t *testing.T) {
	s := newScheduler(t, approveAll{}, eventlog.NewMemorySink(), Config{}, &longEvery{id: "a"})
	bars := series("AAA", 3, time.Hour)
	bars[1], bars[2] = bars[2], bars[1]

	err := s.Load(map[string]models.Series{"AAA": bars})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindSetup))
}

func TestRunSetupFailures(t *testing.T) {
	s := newScheduler(t, approveAll{}, eventlog.NewMemorySink(), Config{})
	require.NoError(t, s.Load(map[string]models.Series{"AAA": series("AAA", 3, time.Hour)}))
	_, err := s.Run(context.Background(), t0, t0.Add(2*time.Hour))
	assert.True(t, errs.Is(err, errs.KindSetup), "empty registry")

	s = newScheduler(t, approveAll{}, eventlog.NewMemorySink(), Config{}, &longEvery{id: "a"})
	require.NoError(t, s.Load(map[string]models.Series{"AAA": series("AAA", 3, time.Hour)}))
	_, err = s.Run(context.Background(), t0.Add(48*time.Hour), t0.Add(72*time.Hour))
	assert.True(t, errs.Is(err, errs.KindSetup), "no bars in range")

	_, err = s.Run(context.Background(), t0, t0.Add(2*time.Hour))
	assert.True(t, errs.Is(err, errs.KindSetup), "single use")
}

func TestArbiterDropsSameSymbolCandidates(t *testing.T) {
	sink := eventlog.NewMemorySink()
	reg, err := NewRegistry(&longEvery{id: "a"}, &longEvery{id: "b"})
	require.NoError(t, err)
	s := New(reg, rejectAll{}, ledger.New(ledger.DefaultConfig()), eventlog.NewBuffered(sink), Config{}, WithArbiter(FirstArbiter{}))
	require.NoError(t, s.Load(map[string]models.Series{"AAA": series("AAA", 4, time.Hour)}))

	stats, err := s.Run(context.Background(), t0, t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalSignals)
	assert.Equal(t, 4, stats.ArbiterDropped)

	var arb int
	for _, ev := range sink.Events() {
		if ev.Kind == models.EventArbiterDecision {
			arb++
		}
		if ev.Kind == models.EventRejection {
			assert.Equal(t, "a", ev.StrategyID)
		}
	}
	assert.Equal(t, 4, arb)
}

type once struct{ fired bool }

func (o *once) ID() string { return "once" }

func (o *once) Evaluate(h models.Series, _ models.FeatureSnapshot) ([]models.Signal, error) {
	if o.fired {
		return nil, nil
	}
	o.fired = true
	b, _ := h.Last()
	return []models.Signal{{Direction: models.Long, EntryPrice: b.Close, StopLoss: b.Close - 50, TakeProfit: b.Close + 500}}, nil
}

func TestFinalizeLeavesPositionsOpenByDefault(t *testing.T) {
	s := newScheduler(t, approveAll{}, eventlog.NewMemorySink(), Config{}, &once{})
	require.NoError(t, s.Load(map[string]models.Series{"AAA": series("AAA", 5, time.Hour)}))

	stats, err := s.Run(context.Background(), t0, t0.Add(4*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.OpenAtEnd)
	assert.Zero(t, stats.ForcedExits)
}

func TestFinalizeForceClose(t *testing.T) {
	sink := eventlog.NewMemorySink()
	s := newScheduler(t, approveAll{}, sink, Config{ForceCloseOnFinalize: true}, &once{})
	require.NoError(t, s.Load(map[string]models.Series{"AAA": series("AAA", 5, time.Hour)}))

	stats, err := s.Run(context.Background(), t0, t0.Add(4*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, stats.OpenAtEnd)
	assert.Equal(t, 1, stats.ForcedExits)
	assert.Equal(t, 1, stats.Performance.TotalTrades)

	events := sink.Events()
	last := events[len(events)-1]
	assert.Equal(t, models.EventExit, last.Kind)
	assert.Equal(t, models.ExitEndOfRun, last.Reason)
	assert.Equal(t, 104.0, last.Price)
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(&longEvery{id: "a"}, &longEvery{id: "b"})
	require.NoError(t, err)
	assert.Error(t, reg.Register(&longEvery{id: "a"}))
	assert.True(t, reg.SetEnabled("a", false))
	assert.False(t, reg.SetEnabled("missing", false))
	require.Len(t, reg.Enabled(), 1)
	assert.Equal(t, "b", reg.Enabled()[0].ID())
	assert.Equal(t, []string{"a", "b"}, reg.IDs())
}

func TestDatasetWindowIsInclusive(t *testing.T) {
	d := NewDataset(repository.TF1h, map[string]models.Series{"AAA": series("AAA", 10, time.Hour), "EMPTY": nil})
	assert.Equal(t, []string{"AAA"}, d.Symbols())
	w := d.Window(t0.Add(2*time.Hour), t0.Add(5*time.Hour))
	require.Len(t, w["AAA"], 4)
	first, last := d.Bounds()
	assert.Equal(t, t0, first)
	assert.Equal(t, t0.Add(9*time.Hour), last)
}
