package models

import (
	"math"
	"time"
)

// Direction of a trade.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Sign returns +1 for long and -1 for short.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// Signal is a candidate trade produced by a strategy. It is consumed once by
// the risk gate and never mutated afterwards.
type Signal struct {
	ID         string            `json:"signal_id"`
	Timestamp  time.Time         `json:"timestamp"`
	Symbol     string            `json:"symbol"`
	StrategyID string            `json:"strategy_id"`
	Direction  Direction         `json:"direction"`
	EntryPrice float64           `json:"entry_price"`
	StopLoss   float64           `json:"stop_loss"`
	TakeProfit float64           `json:"take_profit"`
	SizingHint float64           `json:"sizing_hint"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// RiskPerUnit is the absolute entry-to-stop distance.
func (s Signal) RiskPerUnit() float64 {
	return math.Abs(s.EntryPrice - s.StopLoss)
}

// RewardRisk is the target distance divided by the stop distance.
func (s Signal) RewardRisk() float64 {
	risk := s.RiskPerUnit()
	if risk == 0 {
		return 0
	}
	return math.Abs(s.TakeProfit-s.EntryPrice) / risk
}

// RiskDecision is the gate's verdict on exactly one signal.
type RiskDecision struct {
	SignalID        string  `json:"signal_id"`
	Approved        bool    `json:"approved"`
	PositionSize    float64 `json:"position_size"`
	QualityScore    float64 `json:"quality_score"`
	RejectionReason string  `json:"rejection_reason,omitempty"`
}
