package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantSim/internal/domain/errs"
)

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "csv", c.Data.Mode)
	assert.Equal(t, "1h", c.Data.Timeframe)
	assert.False(t, c.Engine.ForceCloseOnFinalize)
	assert.Equal(t, 0.5, c.Calibration.StabilityPenaltyWeight)
	assert.Equal(t, 30, c.Calibration.MinTradesRequired)
	assert.Equal(t, "2mo", c.Calibration.TrainWindow)
	assert.Equal(t, 10*time.Minute, c.Calibration.ResultTimeout)
}

func TestParseRejectsInvalidMode(t *testing.T) {
	_, err := Parse([]byte("data:\n  mode: ftp\n"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindSetup))
}

func TestKafkaSinkRequiresBrokers(t *testing.T) {
	_, err := Parse([]byte("event_log:\n  sink: kafka\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka.brokers")
}

func TestParseRanges(t *testing.T) {
	doc := `
calibration:
  ranges:
    ema_cross:
      fast: [5, 10]
      slow: [20, 50]
`
	c, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 10}, c.Calibration.Ranges["ema_cross"]["fast"])
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment: test\n"), 0o644))

	t.Setenv("QUANTSIM_SYMBOLS", "BTCUSDT, ETHUSDT")
	t.Setenv("QUANTSIM_DATA_MODE", "synthetic")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, c.Data.Symbols)
	assert.Equal(t, "synthetic", c.Data.Mode)
}

func TestLoadMissingFileIsSetupFailure(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindSetup))
}
