package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantSim/internal/domain/models"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func longSignal() models.Signal {
	return models.Signal{
		ID:         "sig-1",
		Timestamp:  t0,
		Symbol:     "BTC",
		StrategyID: "s",
		Direction:  models.Long,
		EntryPrice: 100,
		StopLoss:   95,
		TakeProfit: 115,
	}
}

func bar(step int, open, high, low, close float64) map[string]models.Bar {
	return map[string]models.Bar{"BTC": {
		Symbol:    "BTC",
		Timestamp: t0.Add(time.Duration(step) * time.Hour),
		Open:      open, High: high, Low: low, Close: close, Volume: 1,
	}}
}

func TestEntryFillsImmediately(t *testing.T) {
	l := New(DefaultConfig())
	p, err := l.AddPosition("p1", longSignal(), 2)
	require.NoError(t, err)
	assert.Equal(t, models.PositionOpen, p.State)
	assert.Equal(t, 1, l.OpenCount())

	_, err = l.AddPosition("p1", longSignal(), 2)
	assert.Error(t, err)
}

func TestOpeningBarDoesNotUpdate(t *testing.T) {
	l := New(DefaultConfig())
	_, _ = l.AddPosition("p1", longSignal(), 1)
	events := l.UpdatePositions(bar(0, 100, 120, 90, 100))
	assert.Empty(t, events)
}

func TestStopHasPriorityOverTarget(t *testing.T) {
	l := New(Config{InitialEquity: 1000})
	_, _ = l.AddPosition("p1", longSignal(), 1)
	events := l.UpdatePositions(bar(1, 100, 120, 90, 100))
	require.Len(t, events, 1)
	assert.Equal(t, models.EventExit, events[0].Kind)
	assert.Equal(t, models.ExitStopLoss, events[0].Reason)
	assert.Equal(t, 95.0, events[0].Price)
	assert.InDelta(t, -5.0, events[0].PnL, 1e-9)
	assert.Equal(t, 0, l.OpenCount())
	assert.InDelta(t, 995.0, l.Equity(nil), 1e-9)
}

func TestGapThroughStopFillsAtOpen(t *testing.T) {
	l := New(Config{InitialEquity: 1000})
	_, _ = l.AddPosition("p1", longSignal(), 1)
	events := l.UpdatePositions(bar(1, 90, 92, 88, 91))
	require.Len(t, events, 1)
	assert.Equal(t, 90.0, events[0].Price)
}

func TestPartialMovesStopToBreakEvenThenTrails(t *testing.T) {
	l := New(Config{InitialEquity: 1000, PartialAtR: 1, PartialFraction: 0.5, TrailingPct: 0.06})
	_, _ = l.AddPosition("p1", longSignal(), 2)

	events := l.UpdatePositions(bar(1, 101, 106, 100.5, 105))
	require.Len(t, events, 2)
	assert.Equal(t, models.EventPartial, events[0].Kind)
	assert.Equal(t, 105.0, events[0].Price)
	assert.InDelta(t, 5.0, events[0].PnL, 1e-9)
	assert.Equal(t, models.EventSLAdjusted, events[1].Kind)
	assert.Equal(t, 95.0, events[1].OldStop)
	assert.Equal(t, 100.0, events[1].NewStop)
	assert.Equal(t, models.PositionPartial, events[0].Position.State)
	assert.Equal(t, models.PositionPartial, events[1].Position.State)
	assert.Equal(t, 100.0, events[1].Position.StopLoss)

	events = l.UpdatePositions(bar(2, 106, 110, 105.5, 109))
	require.Len(t, events, 1)
	assert.Equal(t, models.EventSLAdjusted, events[0].Kind)
	assert.InDelta(t, 103.4, events[0].NewStop, 1e-9)
	assert.Equal(t, models.PositionTrailing, events[0].Position.State)

	events = l.UpdatePositions(bar(3, 108, 108, 103, 103))
	require.Len(t, events, 1)
	assert.Equal(t, models.ExitTrailingStop, events[0].Reason)
	assert.InDelta(t, 3.4, events[0].PnL, 1e-9)

	all := l.AllPositions()
	require.Len(t, all, 1)
	assert.InDelta(t, 8.4, all[0].RealizedPnL, 1e-9)
	assert.InDelta(t, 0.84, all[0].RMultiple(), 1e-9)
}

func TestShortTakeProfit(t *testing.T) {
	l := New(Config{InitialEquity: 1000})
	sig := longSignal()
	sig.Direction = models.Short
	sig.StopLoss = 105
	sig.TakeProfit = 90
	_, _ = l.AddPosition("p1", sig, 1)

	events := l.UpdatePositions(bar(1, 99, 101, 89, 92))
	require.Len(t, events, 1)
	assert.Equal(t, models.ExitTakeProfit, events[0].Reason)
	assert.InDelta(t, 10.0, events[0].PnL, 1e-9)
}

func TestEquityMarksOpenPositions(t *testing.T) {
	l := New(Config{InitialEquity: 1000})
	_, _ = l.AddPosition("p1", longSignal(), 3)
	assert.InDelta(t, 1006.0, l.Equity(map[string]float64{"BTC": 102}), 1e-9)
	assert.InDelta(t, 1000.0, l.Equity(nil), 1e-9)

	ev, ok := l.ClosePosition("p1", t0.Add(time.Hour), 102, models.ExitEndOfRun)
	require.True(t, ok)
	assert.Equal(t, models.ExitEndOfRun, ev.Reason)
	_, ok = l.ClosePosition("p1", t0.Add(time.Hour), 102, models.ExitEndOfRun)
	assert.False(t, ok)
}
