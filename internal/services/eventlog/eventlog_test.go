package eventlog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantSim/internal/domain/errs"
	"QuantSim/internal/domain/models"
)

var ts = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sig(id string) models.Signal {
	return models.Signal{ID: id, Timestamp: ts, Symbol: "BTC", StrategyID: "s", Direction: models.Long,
		EntryPrice: 100, StopLoss: 95, TakeProfit: 110}
}

func TestOrderAndThresholdFlush(t *testing.T) {
	sink := NewMemorySink()
	log := NewBuffered(sink, WithThreshold(3), WithRunID("run-1"))

	log.LogDecision(sig("a"), models.RiskDecision{SignalID: "a", Approved: true, PositionSize: 1})
	log.LogEntry(models.Position{ID: "p-a", SignalID: "a", Symbol: "BTC", EntryPrice: 100}, ts)
	assert.Empty(t, sink.Events())
	assert.Equal(t, 2, log.Pending())

	log.LogRejection(sig("b"), models.RiskDecision{SignalID: "b", RejectionReason: "vpin_above_max"})
	events := sink.Events()
	require.Len(t, events, 3)
	assert.Equal(t, 0, log.Pending())

	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, "run-1", ev.RunID)
	}
	assert.Equal(t, models.EventDecision, events[0].Kind)
	assert.Equal(t, models.EventEntry, events[1].Kind)
	assert.Equal(t, models.EventRejection, events[2].Kind)
	assert.Equal(t, "vpin_above_max", events[2].Reason)
}

func TestSinkFailureDegradesToJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fallback", "events.jsonl")
	primary := NewMemorySink()
	primary.Fail = errors.New("broker down")
	log := NewBuffered(primary, WithFallback(NewJSONLSink(path)), WithThreshold(100))

	log.LogArbiterDecision(ts, "BTC", []models.Signal{sig("a")}, []models.Signal{sig("b"), sig("c")})
	log.LogExit(models.PositionEvent{Kind: models.EventExit, Timestamp: ts.Add(time.Hour), Price: 110,
		Position: models.Position{ID: "p", Symbol: "BTC", EntryPrice: 100, InitialStop: 95, Size: 1, RealizedPnL: 10}})

	require.NoError(t, log.Close(context.Background()))
	_, degraded, lost := log.Stats()
	assert.Equal(t, 2, degraded)
	assert.Equal(t, 0, lost)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"timestamp":"2024-05-01T12:00:00Z"`)
	assert.Equal(t, 2, strings.Count(string(raw), "\n"))

	events, err := ReadJSONL(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "b,c", events[0].Details["dropped"])
	assert.Equal(t, "2", events[1].Details["r_multiple"])
	assert.True(t, events[1].Timestamp.Equal(ts.Add(time.Hour)))
}

func TestCloseFailsWhenEventsAreLost(t *testing.T) {
	primary := NewMemorySink()
	primary.Fail = errors.New("disk full")
	log := NewBuffered(primary, WithThreshold(1))

	log.LogDecision(sig("a"), models.RiskDecision{SignalID: "a", Approved: true})
	err := log.Close(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindPersistence))
	_, _, lost := log.Stats()
	assert.Equal(t, 1, lost)
}
