package repository

import (
	"context"
	"time"

	"QuantSim/internal/domain/models"
)

// MarketDataSource loads ascending, de-duplicated, OHLC-consistent bars.
// Malformed bars are dropped by the source and never surface to callers.
type MarketDataSource interface {
	Load(ctx context.Context, symbol string, tf Timeframe, start, end time.Time) ([]models.Bar, error)
}

// EventSink durably stores batches of trade events.
type EventSink interface {
	Name() string
	WriteEvents(ctx context.Context, events []models.TradeEvent) error
	Close() error
}

// EventLog is the buffered, append-only decision record of a run.
type EventLog interface {
	LogEntry(p models.Position, ts time.Time)
	LogExit(ev models.PositionEvent)
	LogPartial(ev models.PositionEvent)
	LogSLAdjustment(ev models.PositionEvent)
	LogRejection(sig models.Signal, d models.RiskDecision)
	LogDecision(sig models.Signal, d models.RiskDecision)
	LogArbiterDecision(ts time.Time, symbol string, kept, dropped []models.Signal)
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// Metrics records run-level telemetry.
type Metrics interface {
	RecordSignal(strategyID, outcome string)
	RecordFault(strategyID string)
	RecordEventsFlushed(sink string, n int)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordObjective(strategyID string, score float64)
}
