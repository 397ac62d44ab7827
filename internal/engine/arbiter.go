package engine

import (
	"time"

	"QuantSim/internal/domain/errs"
	"QuantSim/internal/domain/models"
	"QuantSim/internal/domain/service"
)

// Arbiter names accepted by NewArbiter.
const (
	ArbiterFirst  = "first"
	ArbiterBestRR = "best_rr"
)

// NewArbiter returns nil for an empty name: every candidate reaches the gate.
func NewArbiter(name string) (service.Arbiter, error) {
	switch name {
	case "":
		return nil, nil
	case ArbiterFirst:
		return FirstArbiter{}, nil
	case ArbiterBestRR:
		return BestRewardRisk{}, nil
	default:
		return nil, errs.Setupf("new arbiter", "unknown arbiter %q", name)
	}
}

// FirstArbiter keeps the candidate of the earliest registered strategy.
type FirstArbiter struct{}

func (FirstArbiter) Arbitrate(_ time.Time, _ string, candidates []models.Signal) []models.Signal {
	if len(candidates) == 0 {
		return nil
	}
	return candidates[:1]
}

// BestRewardRisk keeps the candidate with the highest reward:risk. Ties go
// to registration order.
type BestRewardRisk struct{}

func (BestRewardRisk) Arbitrate(_ time.Time, _ string, candidates []models.Signal) []models.Signal {
	if len(candidates) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(candidates); i++ {
		if candidates[i].RewardRisk() > candidates[best].RewardRisk() {
			best = i
		}
	}
	return candidates[best : best+1]
}
