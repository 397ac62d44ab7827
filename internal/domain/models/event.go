package models

import "time"

// EventKind classifies audit log records.
type EventKind string

const (
	EventEntry           EventKind = "ENTRY"
	EventExit            EventKind = "EXIT"
	EventPartial         EventKind = "PARTIAL"
	EventSLAdjusted      EventKind = "SL_ADJUSTED"
	EventRejection       EventKind = "REJECTION"
	EventDecision        EventKind = "DECISION"
	EventArbiterDecision EventKind = "ARBITER_DECISION"
)

// TradeEvent is a write-once audit record. Seq is assigned by the event log
// and gives the causal order within a run.
type TradeEvent struct {
	Seq        uint64            `json:"seq"`
	RunID      string            `json:"run_id"`
	Kind       EventKind         `json:"kind"`
	Timestamp  time.Time         `json:"timestamp"`
	Symbol     string            `json:"symbol"`
	StrategyID string            `json:"strategy_id,omitempty"`
	SignalID   string            `json:"signal_id,omitempty"`
	PositionID string            `json:"position_id,omitempty"`
	Direction  Direction         `json:"direction,omitempty"`
	Price      float64           `json:"price,omitempty"`
	Size       float64           `json:"size,omitempty"`
	PnL        float64           `json:"pnl,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}
