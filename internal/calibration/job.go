package calibration

import (
	"context"
	"encoding/json"

	"QuantSim/pkg/queue"
)

// FoldJobType is the queue message type of a calibration unit.
const FoldJobType = "calibration.fold"

// FoldJob evaluates queued units on a worker.
type FoldJob struct {
	eval Evaluator
}

func NewFoldJob(eval Evaluator) *FoldJob { return &FoldJob{eval: eval} }

func (j *FoldJob) Name() string { return "calibration-fold" }
func (j *FoldJob) Type() string { return FoldJobType }

func (j *FoldJob) Handle(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	u, err := queue.Decode[Unit](payload)
	if err != nil {
		return nil, err
	}
	return j.eval.EvaluateFold(ctx, *u)
}
