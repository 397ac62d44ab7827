package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantSim/internal/domain/models"
	"QuantSim/internal/domain/service"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func bars(closes ...float64) models.Series {
	out := make(models.Series, len(closes))
	for i, c := range closes {
		out[i] = models.Bar{Symbol: "AAA", Timestamp: t0.Add(time.Duration(i) * time.Hour), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1}
	}
	return out
}

func snap(b models.Bar, vpin float64) models.FeatureSnapshot {
	return models.FeatureSnapshot{Symbol: b.Symbol, Timestamp: b.Timestamp, Values: map[string]float64{
		models.FeatureATR: 1, models.FeatureVPIN: vpin,
	}}
}

// replay feeds s one bar at a time and collects every signal.
func replay(t *testing.T, s service.Strategy, h models.Series, vpin float64) []models.Signal {
	t.Helper()
	var out []models.Signal
	for i := range h {
		sigs, err := s.Evaluate(h[:i+1], snap(h[i], vpin))
		require.NoError(t, err)
		out = append(out, sigs...)
	}
	return out
}

func TestBuild(t *testing.T) {
	assert.Equal(t, []string{Breakout, EMACross, MeanReversion}, IDs())
	for _, id := range IDs() {
		s, err := Build(id, nil)
		require.NoError(t, err, id)
		assert.Equal(t, id, s.ID())
		assert.NotEmpty(t, DefaultRanges(id))
		assert.NotEmpty(t, Defaults(id))
	}
	s, err := Build(" EMA_Cross ", nil)
	require.NoError(t, err)
	assert.Equal(t, EMACross, s.ID())

	_, err = Build("nope", nil)
	assert.Error(t, err)
	_, err = Build(EMACross, models.Params{"fast": 30, "slow": 20})
	assert.Error(t, err)
	_, err = Build(Breakout, models.Params{"lookback": 1})
	assert.Error(t, err)
	assert.False(t, Known("nope"))
}

func TestEMACrossLongOnUpturn(t *testing.T) {
	var closes []float64
	for i := 0; i < 40; i++ {
		closes = append(closes, 140-float64(i))
	}
	for i := 1; i <= 20; i++ {
		closes = append(closes, 101+3*float64(i))
	}
	s, err := Build(EMACross, nil)
	require.NoError(t, err)

	sigs := replay(t, s, bars(closes...), 0)
	require.Len(t, sigs, 1)
	sig := sigs[0]
	assert.Equal(t, models.Long, sig.Direction)
	assert.Less(t, sig.StopLoss, sig.EntryPrice)
	assert.InDelta(t, 2.0, sig.RewardRisk(), 1e-9)
}

func TestBreakoutChannel(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 100
	}
	closes = append(closes, 105)
	s, err := Build(Breakout, nil)
	require.NoError(t, err)

	sigs := replay(t, s, bars(closes...), 0)
	require.Len(t, sigs, 1)
	assert.Equal(t, models.Long, sigs[0].Direction)
	assert.Equal(t, 105.0, sigs[0].EntryPrice)
	assert.Equal(t, "101.0000", sigs[0].Metadata["channel_high"])
}

func TestMeanReversionFadesAndRespectsVPIN(t *testing.T) {
	var closes []float64
	for i := 0; i < 30; i++ {
		closes = append(closes, 100+float64(i%2))
	}
	closes = append(closes, 90)
	h := bars(closes...)

	s, err := Build(MeanReversion, nil)
	require.NoError(t, err)
	sigs := replay(t, s, h, 0.2)
	require.Len(t, sigs, 1)
	assert.Equal(t, models.Long, sigs[0].Direction)
	assert.Greater(t, sigs[0].TakeProfit, sigs[0].EntryPrice)

	toxic, err := Build(MeanReversion, nil)
	require.NoError(t, err)
	assert.Empty(t, replay(t, toxic, h, 0.95))
}

func TestFreshOnlyReturnsUnseenBars(t *testing.T) {
	h := bars(1, 2, 3, 4)
	sn := seen{}
	assert.Len(t, sn.fresh("AAA", h[:2]), 2)
	assert.Len(t, sn.fresh("AAA", h), 2)
	assert.Empty(t, sn.fresh("AAA", h))
}
