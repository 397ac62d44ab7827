package api

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"

	"QuantSim/internal/domain/models"
	domrepo "QuantSim/internal/domain/repository"
	"QuantSim/internal/strategy"
	"QuantSim/internal/usecase"
	xhttp "QuantSim/pkg/http"
	xlogger "QuantSim/pkg/logger"
)

// Backtester runs one replay.
type Backtester interface {
	Run(ctx context.Context, req usecase.BacktestRequest) (usecase.BacktestReport, error)
}

// CalibrationReader returns the latest stored ranking of a strategy.
type CalibrationReader interface {
	Latest(ctx context.Context, strategyID string) ([]models.CalibrationResult, error)
}

// EventReader returns the audit trail of a run.
type EventReader interface {
	RunEvents(ctx context.Context, runID string) ([]models.TradeEvent, error)
}

type backtestRequest struct {
	Symbols    []string                 `json:"symbols" validate:"required,min=1,dive,required"`
	Strategies []string                 `json:"strategies" validate:"required,min=1,dive,required"`
	Params     map[string]models.Params `json:"params"`
	From       time.Time                `json:"from" validate:"required"`
	To         time.Time                `json:"to" validate:"required,gtfield=From"`
	Timeframe  string                   `json:"timeframe" default:"1h" validate:"oneof=1m 5m 15m 1h 4h 1d"`
	WarmupBars int                      `json:"warmup_bars" default:"100" validate:"gte=0,lte=10000"`
}

type calibrationResponse struct {
	Strategy string                     `json:"strategy"`
	Best     models.CalibrationResult   `json:"best"`
	Results  []models.CalibrationResult `json:"results"`
}

type strategyInfo struct {
	ID       string               `json:"id"`
	Defaults models.Params        `json:"defaults"`
	Ranges   map[string][]float64 `json:"ranges"`
}

// BacktestEchoHandler serves backtests, calibration results and run audits.
type BacktestEchoHandler struct {
	logger *xlogger.Logger
	runs   Backtester
	calib  CalibrationReader
	events EventReader
}

func NewBacktestEchoHandler(logger *xlogger.Logger, runs Backtester, calib CalibrationReader, events EventReader) *BacktestEchoHandler {
	return &BacktestEchoHandler{logger: logger, runs: runs, calib: calib, events: events}
}

func (h *BacktestEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/backtests", h.Backtest)
	g.GET("/calibrations/:strategy", h.Calibration)
	g.GET("/strategies", h.Strategies)
	if h.events != nil {
		g.GET("/runs/:id/events", h.RunEvents)
	}
}

func (h *BacktestEchoHandler) Backtest(c echo.Context) error {
	req := &backtestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.ValidationResponse(c, verr)
	}
	for _, id := range req.Strategies {
		if !strategy.Known(id) {
			return xhttp.ErrorResponse(c, xhttp.BadRequestErrorf("unknown strategy %q", id).WithParam("strategy", id))
		}
	}
	tf := domrepo.NormalizeTimeframe(req.Timeframe)

	rep, err := h.runs.Run(c.Request().Context(), usecase.BacktestRequest{
		Symbols:    req.Symbols,
		Strategies: req.Strategies,
		Params:     req.Params,
		From:       req.From.UTC(),
		To:         req.To.UTC(),
		Timeframe:  tf,
		Warmup:     time.Duration(req.WarmupBars) * tf.Duration(),
	})
	if err != nil {
		h.logger.Error("backtest usecase error", xlogger.String("run_id", rep.RunID), xlogger.Error(err))
		return xhttp.ErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, rep)
}

func (h *BacktestEchoHandler) Calibration(c echo.Context) error {
	id := c.Param("strategy")
	if !strategy.Known(id) {
		return xhttp.ErrorResponse(c, xhttp.NotFoundErrorf("unknown strategy %q", id))
	}
	results, err := h.calib.Latest(c.Request().Context(), id)
	switch {
	case errors.Is(err, usecase.ErrNoCalibration):
		return xhttp.ErrorResponse(c, xhttp.NotFoundErrorf("no calibration for %s", id))
	case err != nil:
		h.logger.Error("calibration read error", xlogger.String("strategy", id), xlogger.Error(err))
		return xhttp.ErrorResponse(c, err)
	case len(results) == 0:
		return xhttp.ErrorResponse(c, xhttp.NotFoundErrorf("no calibration for %s", id))
	}
	if limit := xhttp.QueryInt(c, "limit", len(results)); limit > 0 && limit < len(results) {
		results = results[:limit]
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, calibrationResponse{Strategy: id, Best: results[0], Results: results})
}

func (h *BacktestEchoHandler) Strategies(c echo.Context) error {
	ids := strategy.IDs()
	out := make([]strategyInfo, len(ids))
	for i, id := range ids {
		out[i] = strategyInfo{ID: id, Defaults: strategy.Defaults(id), Ranges: strategy.DefaultRanges(id)}
	}
	return xhttp.SuccessResponse(c, out)
}

func (h *BacktestEchoHandler) RunEvents(c echo.Context) error {
	id := c.Param("id")
	events, err := h.events.RunEvents(c.Request().Context(), id)
	if err != nil {
		h.logger.Error("run events read error", xlogger.String("run_id", id), xlogger.Error(err))
		return xhttp.ErrorResponse(c, err)
	}
	if len(events) == 0 {
		return xhttp.ErrorResponse(c, xhttp.NotFoundErrorf("no events for run %s", id))
	}
	return xhttp.SuccessResponse(c, events)
}
