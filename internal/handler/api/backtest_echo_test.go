package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantSim/internal/domain/errs"
	"QuantSim/internal/domain/models"
	domrepo "QuantSim/internal/domain/repository"
	"QuantSim/internal/strategy"
	"QuantSim/internal/usecase"
	xlogger "QuantSim/pkg/logger"
)

type stubBacktester struct {
	got usecase.BacktestRequest
	err error
}

func (s *stubBacktester) Run(_ context.Context, req usecase.BacktestRequest) (usecase.BacktestReport, error) {
	s.got = req
	if s.err != nil {
		return usecase.BacktestReport{}, s.err
	}
	return usecase.BacktestReport{RunID: "run-1", Stats: models.RunStats{RunID: "run-1", TotalSignals: 3}}, nil
}

type stubCalibrations map[string][]models.CalibrationResult

func (s stubCalibrations) Latest(_ context.Context, id string) ([]models.CalibrationResult, error) {
	r, ok := s[id]
	if !ok {
		return nil, usecase.ErrNoCalibration
	}
	return r, nil
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func serve(t *testing.T, h *BacktestEchoHandler, method, path, body string) (int, envelope) {
	t.Helper()
	e := echo.New()
	h.RegisterRoutes(e)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestBacktestAppliesDefaults(t *testing.T) {
	bt := &stubBacktester{}
	h := NewBacktestEchoHandler(xlogger.Nop(), bt, stubCalibrations{}, nil)

	code, env := serve(t, h, http.MethodPost, "/api/backtests",
		`{"symbols":["BTC"],"strategies":["ema_cross"],"from":"2024-01-01T00:00:00Z","to":"2024-02-01T00:00:00Z"}`)
	require.Equal(t, http.StatusOK, code)

	var rep usecase.BacktestReport
	require.NoError(t, json.Unmarshal(env.Data, &rep))
	assert.Equal(t, "run-1", rep.RunID)
	assert.Equal(t, 3, rep.Stats.TotalSignals)

	assert.Equal(t, domrepo.TF1h, bt.got.Timeframe)
	assert.Equal(t, 100*time.Hour, bt.got.Warmup)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), bt.got.From)
}

func TestBacktestValidation(t *testing.T) {
	h := NewBacktestEchoHandler(xlogger.Nop(), &stubBacktester{}, stubCalibrations{}, nil)

	code, _ := serve(t, h, http.MethodPost, "/api/backtests",
		`{"symbols":["BTC"],"strategies":["ema_cross"],"from":"2024-02-01T00:00:00Z","to":"2024-01-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = serve(t, h, http.MethodPost, "/api/backtests",
		`{"symbols":["BTC"],"strategies":["nope"],"from":"2024-01-01T00:00:00Z","to":"2024-02-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = serve(t, h, http.MethodPost, "/api/backtests", `{"strategies":["ema_cross"]}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestBacktestMapsSetupFailure(t *testing.T) {
	bt := &stubBacktester{err: errs.Setupf("load", "no bars")}
	h := NewBacktestEchoHandler(xlogger.Nop(), bt, stubCalibrations{}, nil)
	code, _ := serve(t, h, http.MethodPost, "/api/backtests",
		`{"symbols":["BTC"],"strategies":["breakout"],"from":"2024-01-01T00:00:00Z","to":"2024-02-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestCalibrationLookup(t *testing.T) {
	calib := stubCalibrations{
		strategy.EMACross: {
			{StrategyID: strategy.EMACross, Params: models.Params{"fast": 8}, ObjectiveScore: 2},
			{StrategyID: strategy.EMACross, Params: models.Params{"fast": 12}, ObjectiveScore: 1},
		},
	}
	h := NewBacktestEchoHandler(xlogger.Nop(), &stubBacktester{}, calib, nil)

	code, env := serve(t, h, http.MethodGet, "/api/calibrations/ema_cross?limit=1", "")
	require.Equal(t, http.StatusOK, code)
	var resp calibrationResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, 2.0, resp.Best.ObjectiveScore)
	assert.Len(t, resp.Results, 1)

	code, _ = serve(t, h, http.MethodGet, "/api/calibrations/breakout", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = serve(t, h, http.MethodGet, "/api/calibrations/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStrategiesCatalogue(t *testing.T) {
	h := NewBacktestEchoHandler(xlogger.Nop(), &stubBacktester{}, stubCalibrations{}, nil)
	code, env := serve(t, h, http.MethodGet, "/api/strategies", "")
	require.Equal(t, http.StatusOK, code)
	var out []strategyInfo
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.Len(t, out, len(strategy.IDs()))
	assert.Equal(t, strategy.IDs()[0], out[0].ID)
	assert.NotEmpty(t, out[0].Defaults)
}

type stubEvents []models.TradeEvent

func (s stubEvents) RunEvents(_ context.Context, runID string) ([]models.TradeEvent, error) {
	var out []models.TradeEvent
	for _, ev := range s {
		if ev.RunID == runID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func TestRunEventsRouteOnlyWithReader(t *testing.T) {
	h := NewBacktestEchoHandler(xlogger.Nop(), &stubBacktester{}, stubCalibrations{}, stubEvents{{RunID: "r1", Seq: 1, Kind: models.EventEntry}})
	code, env := serve(t, h, http.MethodGet, "/api/runs/r1/events", "")
	require.Equal(t, http.StatusOK, code)
	var evs []models.TradeEvent
	require.NoError(t, json.Unmarshal(env.Data, &evs))
	assert.Len(t, evs, 1)

	code, _ = serve(t, h, http.MethodGet, "/api/runs/r2/events", "")
	assert.Equal(t, http.StatusNotFound, code)
}
