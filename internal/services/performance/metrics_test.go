package performance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"QuantSim/internal/domain/models"
)

func curve(values ...float64) []Point {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]Point, len(values))
	for i, v := range values {
		out[i] = Point{Time: t0.Add(time.Duration(i) * time.Hour), Equity: v}
	}
	return out
}

func closed(pnl, risk float64) models.Position {
	return models.Position{
		State:       models.PositionClosed,
		EntryPrice:  100,
		InitialStop: 100 - risk,
		Size:        1,
		RealizedPnL: pnl,
	}
}

func TestMaxDrawdownPct(t *testing.T) {
	assert.InDelta(t, 20.0, MaxDrawdownPct(curve(100, 120, 96, 130)), 1e-9)
	assert.Equal(t, 0.0, MaxDrawdownPct(curve(100, 101, 102)))
}

func TestComputeTradeStats(t *testing.T) {
	positions := []models.Position{
		closed(20, 10),
		closed(-10, 10),
		closed(10, 10),
		{State: models.PositionOpen, RealizedPnL: 50},
	}
	m := Compute(curve(100, 110, 105, 115), positions, 365)

	assert.Equal(t, 3, m.TotalTrades)
	assert.InDelta(t, 2.0/3.0, m.WinRate, 1e-9)
	assert.InDelta(t, 3.0, m.ProfitFactor, 1e-9)
	assert.InDelta(t, (2.0-1.0+1.0)/3.0, m.ExpectancyR, 1e-9)
	assert.InDelta(t, 15.0, m.TotalReturnPct, 1e-9)
	assert.Greater(t, m.Sharpe, 0.0)
}

func TestProfitFactorWithoutLosses(t *testing.T) {
	m := Compute(curve(100, 110), []models.Position{closed(10, 5)}, 365)
	assert.Equal(t, float64(profitFactorCap), m.ProfitFactor)
	assert.Equal(t, float64(ratioCap), m.Calmar)
}

func TestFlatCurveHasZeroRatios(t *testing.T) {
	m := Compute(curve(100, 100, 100), nil, 365)
	assert.Equal(t, 0.0, m.Sharpe)
	assert.Equal(t, 0.0, m.Sortino)
	assert.Equal(t, 0.0, m.Calmar)
	assert.Equal(t, 0, m.TotalTrades)
	assert.Equal(t, 0.0, m.ProfitFactor)
}

func TestCalmarSignFollowsReturn(t *testing.T) {
	up := Returns(curve(100, 90, 120))
	down := Returns(curve(100, 110, 80))
	assert.Greater(t, Calmar(up, 10, 365), 0.0)
	assert.Less(t, Calmar(down, 27, 365), 0.0)
}
