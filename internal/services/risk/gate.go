package risk

import (
	"math"

	"QuantSim/internal/domain/models"
)

// Rejection reasons.
const (
	ReasonInvalidLevels = "invalid_levels"
	ReasonRewardRisk    = "reward_risk_below_min"
	ReasonMaxConcurrent = "max_concurrent_positions"
	ReasonToxicFlow     = "vpin_above_max"
	ReasonLowQuality    = "quality_below_min"
	ReasonZeroSize      = "zero_size"
)

// Config defines the gate limits.
type Config struct {
	MinRewardRisk     float64
	MaxConcurrent     int
	MaxVPIN           float64
	RiskPerTrade      float64
	HighVolSizeFactor float64
	MinQuality        float64
}

func DefaultConfig() Config {
	return Config{
		MinRewardRisk:     1.5,
		MaxConcurrent:     5,
		MaxVPIN:           0.8,
		RiskPerTrade:      0.01,
		HighVolSizeFactor: 0.5,
		MinQuality:        0.3,
	}
}

// Gate is the reference quality and risk gate. It is a pure function of its
// inputs, so replays are deterministic.
type Gate struct {
	cfg Config
}

func NewGate(cfg Config) *Gate {
	return &Gate{cfg: cfg}
}

// EvaluateSignal applies the checks in order and returns at the first failure.
func (g *Gate) EvaluateSignal(sig models.Signal, mc models.MarketContext) models.RiskDecision {
	d := models.RiskDecision{SignalID: sig.ID}

	if !validLevels(sig) {
		d.RejectionReason = ReasonInvalidLevels
		return d
	}

	rr := sig.RewardRisk()
	d.QualityScore = Quality(rr, mc.VPIN, mc.VolatilityRegime)

	if g.cfg.MinRewardRisk > 0 && rr < g.cfg.MinRewardRisk {
		d.RejectionReason = ReasonRewardRisk
		return d
	}
	if g.cfg.MaxConcurrent > 0 && mc.OpenPositions >= g.cfg.MaxConcurrent {
		d.RejectionReason = ReasonMaxConcurrent
		return d
	}
	if g.cfg.MaxVPIN > 0 && mc.VPIN > g.cfg.MaxVPIN {
		d.RejectionReason = ReasonToxicFlow
		return d
	}
	if d.QualityScore < g.cfg.MinQuality {
		d.RejectionReason = ReasonLowQuality
		return d
	}

	size := g.size(sig, mc)
	if size <= 0 || math.IsNaN(size) || math.IsInf(size, 0) {
		d.RejectionReason = ReasonZeroSize
		return d
	}
	d.Approved = true
	d.PositionSize = size
	return d
}

// size risks RiskPerTrade of equity over the stop distance.
func (g *Gate) size(sig models.Signal, mc models.MarketContext) float64 {
	size := mc.Equity * g.cfg.RiskPerTrade / sig.RiskPerUnit()
	if sig.SizingHint > 0 && sig.SizingHint < 1 {
		size *= sig.SizingHint
	}
	if mc.VolatilityRegime == models.RegimeHigh && g.cfg.HighVolSizeFactor > 0 {
		size *= g.cfg.HighVolSizeFactor
	}
	return size
}

// Quality blends reward:risk and order-flow toxicity into [0, 1].
func Quality(rewardRisk, vpin float64, regime models.VolatilityRegime) float64 {
	rrScore := math.Min(rewardRisk/3, 1)
	flowScore := 1 - math.Min(math.Max(vpin, 0), 1)
	q := 0.6*rrScore + 0.4*flowScore
	if regime == models.RegimeHigh {
		q *= 0.8
	}
	return q
}

func validLevels(sig models.Signal) bool {
	if sig.EntryPrice <= 0 || sig.StopLoss <= 0 {
		return false
	}
	switch sig.Direction {
	case models.Long:
		return sig.StopLoss < sig.EntryPrice && (sig.TakeProfit == 0 || sig.TakeProfit > sig.EntryPrice)
	case models.Short:
		return sig.StopLoss > sig.EntryPrice && (sig.TakeProfit == 0 || sig.TakeProfit < sig.EntryPrice)
	default:
		return false
	}
}
