package service

import (
	"time"

	"QuantSim/internal/domain/models"
)

// Strategy maps bar history and a feature snapshot to zero or more signals.
// History is ascending and ends at the current bar. An empty result declines
// to signal; a non-nil error is reserved for implementation faults.
type Strategy interface {
	ID() string
	Evaluate(history models.Series, features models.FeatureSnapshot) ([]models.Signal, error)
}

// Gate scores a signal and decides whether and how large to trade it.
type Gate interface {
	EvaluateSignal(sig models.Signal, mc models.MarketContext) models.RiskDecision
}

// Ledger tracks positions. Only the scheduler mutates it, in timestamp order.
type Ledger interface {
	AddPosition(id string, sig models.Signal, size float64) (models.Position, error)
	UpdatePositions(bars map[string]models.Bar) []models.PositionEvent
	ClosePosition(id string, ts time.Time, price float64, reason string) (models.PositionEvent, bool)
	AllPositions() []models.Position
	OpenCount() int
	Equity(marks map[string]float64) float64
}

// Arbiter resolves several candidates for the same symbol at the same
// timestamp. Candidates arrive in strategy registration order.
type Arbiter interface {
	Arbitrate(ts time.Time, symbol string, candidates []models.Signal) []models.Signal
}
