package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantSim/internal/domain/repository"
)

var (
	_ repository.Metrics = (*Recorder)(nil)
	_ repository.Metrics = Nop{}
)

func TestRecorderCounts(t *testing.T) {
	r := New()
	r.RecordSignal("ema_cross", "approved")
	r.RecordSignal("ema_cross", "approved")
	r.RecordSignal("ema_cross", "rejected")
	r.RecordFault("breakout")
	r.RecordEventsFlushed("jsonl", 12)
	r.RecordObjective("ema_cross", 1.75)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.signalsTotal.WithLabelValues("ema_cross", "approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.signalsTotal.WithLabelValues("ema_cross", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.faultsTotal.WithLabelValues("breakout")))
	assert.Equal(t, 12.0, testutil.ToFloat64(r.eventsFlushed.WithLabelValues("jsonl")))
	assert.Equal(t, 1.75, testutil.ToFloat64(r.objective.WithLabelValues("ema_cross")))
}

func TestRecordersDoNotShareRegistries(t *testing.T) {
	a, b := New(), New()
	a.RecordError("SETUP_FAILURE")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.errorsTotal.WithLabelValues("SETUP_FAILURE")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.RecordFault("mean_reversion")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `quantsim_strategy_faults_total{strategy="mean_reversion"} 1`))
}
