package models

import "time"

// PositionState follows PENDING -> OPEN -> {PARTIAL, TRAILING}* -> CLOSED.
type PositionState string

const (
	PositionPending  PositionState = "PENDING"
	PositionOpen     PositionState = "OPEN"
	PositionPartial  PositionState = "PARTIAL"
	PositionTrailing PositionState = "TRAILING"
	PositionClosed   PositionState = "CLOSED"
)

// Exit reasons.
const (
	ExitStopLoss     = "stop_loss"
	ExitTakeProfit   = "take_profit"
	ExitTrailingStop = "trailing_stop"
	ExitBreakEven    = "break_even"
	ExitEndOfRun     = "end_of_run"
)

// Position is owned by the ledger; it is created on approval and archived on close.
type Position struct {
	ID          string        `json:"position_id"`
	SignalID    string        `json:"signal_id"`
	Symbol      string        `json:"symbol"`
	StrategyID  string        `json:"strategy_id"`
	Direction   Direction     `json:"direction"`
	State       PositionState `json:"state"`
	EntryTime   time.Time     `json:"entry_time"`
	EntryPrice  float64       `json:"entry_price"`
	InitialStop float64       `json:"initial_stop"`
	StopLoss    float64       `json:"stop_loss"`
	TakeProfit  float64       `json:"take_profit"`
	Size        float64       `json:"size"`
	Remaining   float64       `json:"remaining"`
	BestPrice   float64       `json:"best_price"`
	RealizedPnL float64       `json:"realized_pnl"`
	ExitTime    time.Time     `json:"exit_time,omitempty"`
	ExitPrice   float64       `json:"exit_price,omitempty"`
	ExitReason  string        `json:"exit_reason,omitempty"`
}

// IsOpen reports whether the position still carries exposure.
func (p *Position) IsOpen() bool {
	return p.State != PositionClosed && p.State != PositionPending
}

// RiskPerUnit is the initial entry-to-stop distance.
func (p *Position) RiskPerUnit() float64 {
	d := p.EntryPrice - p.InitialStop
	if d < 0 {
		d = -d
	}
	return d
}

// RMultiple is realized PnL expressed in units of initial risk.
func (p *Position) RMultiple() float64 {
	risk := p.RiskPerUnit() * p.Size
	if risk == 0 {
		return 0
	}
	return p.RealizedPnL / risk
}

// UnrealizedPnL marks the remaining size at price.
func (p *Position) UnrealizedPnL(price float64) float64 {
	if !p.IsOpen() {
		return 0
	}
	return (price - p.EntryPrice) * p.Remaining * p.Direction.Sign()
}

// PositionEvent is a ledger state transition reported back to the scheduler.
type PositionEvent struct {
	Kind      EventKind
	Position  Position
	Timestamp time.Time
	Price     float64
	Size      float64
	PnL       float64
	Reason    string
	OldStop   float64
	NewStop   float64
}
