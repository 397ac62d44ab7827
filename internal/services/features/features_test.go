package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantSim/internal/domain/models"
)

func bars(closes ...float64) []models.Bar {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Bar, len(closes))
	for i, c := range closes {
		out[i] = models.Bar{
			Symbol:    "BTC",
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    100,
		}
	}
	return out
}

func TestRingEvictsOldest(t *testing.T) {
	r := NewRing(3)
	for _, v := range []float64{1, 2, 3} {
		_, evicted := r.Push(v)
		assert.False(t, evicted)
	}
	old, evicted := r.Push(4)
	require.True(t, evicted)
	assert.Equal(t, 1.0, old)
	assert.Equal(t, []float64{2, 3, 4}, r.Values())
	assert.Equal(t, 3.0, r.Mean())
	assert.Equal(t, 3.0, r.Median())
	last, _ := r.Last()
	assert.Equal(t, 4.0, last)
}

func TestComputeLogReturns(t *testing.T) {
	rs := ComputeLogReturns(bars(100, 110, 0, 121))
	require.Len(t, rs, 3)
	assert.InDelta(t, math.Log(1.1), rs[0], 1e-12)
	assert.Equal(t, 0.0, rs[1])
	assert.Equal(t, 0.0, rs[2])
	assert.Nil(t, ComputeLogReturns(bars(1)))
}

func TestRealizedVolatilityNeedsFullWindow(t *testing.T) {
	assert.Equal(t, 0.0, RealizedVolatility([]float64{0.01}, 5, 365))
	assert.Greater(t, RealizedVolatility([]float64{0.01, -0.02, 0.03}, 3, 365), 0.0)
}

func TestVPINOneSidedFlowIsToxic(t *testing.T) {
	rising := bars(100, 101, 102, 103, 104, 105)
	assert.InDelta(t, 1.0, VPIN(rising, 5), 1e-9)

	flat := bars(100, 100, 100, 100)
	assert.InDelta(t, 0.0, VPIN(flat, 3), 1e-9)
}

func TestTrackerIsCausal(t *testing.T) {
	history := bars(100, 102, 101, 105, 103, 108, 107, 111, 110, 115)
	full := NewTracker(Config{Window: 4, RegimeWindow: 10})
	var snaps []models.FeatureSnapshot
	for _, b := range history {
		snaps = append(snaps, full.Update(b))
	}

	prefix := NewTracker(Config{Window: 4, RegimeWindow: 10})
	var last models.FeatureSnapshot
	for _, b := range history[:6] {
		last = prefix.Update(b)
	}
	assert.Equal(t, snaps[5], last)
}

func TestTrackerRegimeDetectsVolatilitySpike(t *testing.T) {
	tr := NewTracker(Config{Window: 3, RegimeWindow: 20})
	closes := []float64{100, 100.1, 100, 100.1, 100, 100.1, 100, 100.1, 100, 100.1}
	var snap models.FeatureSnapshot
	for _, b := range bars(closes...) {
		snap = tr.Update(b)
	}
	assert.Equal(t, models.RegimeNormal, snap.Regime)

	for _, b := range bars(100, 110, 95, 112)[1:] {
		b.Timestamp = b.Timestamp.Add(24 * time.Hour)
		snap = tr.Update(b)
	}
	assert.Equal(t, models.RegimeHigh, snap.Regime)
	assert.Greater(t, snap.Float(models.FeatureATR, 0), 2.0)
}

func TestBankKeepsSymbolsApart(t *testing.T) {
	bank := NewBank(Config{Window: 3})
	a := bars(100, 101)
	b := bars(50)
	b[0].Symbol = "ETH"
	bank.Update(a[0])
	bank.Update(b[0])
	bank.Update(a[1])

	snap, ok := bank.Snapshot("BTC")
	require.True(t, ok)
	_, hasReturn := snap.Get(models.FeatureLogReturn)
	assert.True(t, hasReturn)

	eth, ok := bank.Snapshot("ETH")
	require.True(t, ok)
	_, hasReturn = eth.Get(models.FeatureLogReturn)
	assert.False(t, hasReturn)
}
