package calibration

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"QuantSim/internal/domain/models"
	"QuantSim/pkg/logger"
	"QuantSim/pkg/queue"
)

// Executor evaluates a batch of units. Result i always belongs to unit i.
type Executor interface {
	Execute(ctx context.Context, units []Unit) ([]models.FoldMetrics, error)
}

// LocalExecutor fans units out to a bounded goroutine pool. Each unit owns
// its scheduler, so the only shared state is the result slice, written by index.
type LocalExecutor struct {
	eval    Evaluator
	workers int
}

func NewLocalExecutor(eval Evaluator, workers int) *LocalExecutor {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &LocalExecutor{eval: eval, workers: workers}
}

func (x *LocalExecutor) Execute(ctx context.Context, units []Unit) ([]models.FoldMetrics, error) {
	out := make([]models.FoldMetrics, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.workers)
	for i := range units {
		g.Go(func() error {
			fm, err := x.eval.EvaluateFold(gctx, units[i])
			if err != nil {
				return fmt.Errorf("%s fold %d: %w", units[i].StrategyID, units[i].Fold.Index, err)
			}
			out[i] = fm
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// QueueExecutor publishes units to the job queue and waits for the replies
// on a per-batch list.
type QueueExecutor struct {
	q       *queue.Queue
	timeout time.Duration
	log     *logger.Logger
}

func NewQueueExecutor(q *queue.Queue, timeout time.Duration, l *logger.Logger) *QueueExecutor {
	if l == nil {
		l = logger.Nop()
	}
	return &QueueExecutor{q: q, timeout: timeout, log: l}
}

func (x *QueueExecutor) Execute(ctx context.Context, units []Unit) ([]models.FoldMetrics, error) {
	if x.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}
	batch := uuid.NewString()
	replyTo := x.q.ReplyKey(batch)
	slot := make(map[string]int, len(units))
	for i, u := range units {
		id, err := x.q.Enqueue(ctx, FoldJobType, u, queue.WithReplyTo(replyTo))
		if err != nil {
			return nil, fmt.Errorf("enqueue unit %d: %w", i, err)
		}
		slot[id] = i
	}
	x.log.Info("calibration batch published", logger.String("batch", batch), logger.Int("units", len(units)))

	replies, err := x.q.Await(ctx, replyTo, len(units))
	if err != nil {
		return nil, fmt.Errorf("await batch %s (%d/%d replies): %w", batch, len(replies), len(units), err)
	}
	out := make([]models.FoldMetrics, len(units))
	for _, r := range replies {
		i, ok := slot[r.ID]
		if !ok {
			x.log.Warn("reply for unknown unit", logger.String("id", r.ID))
			continue
		}
		if r.Error != "" {
			return nil, fmt.Errorf("%s fold %d: %s", units[i].StrategyID, units[i].Fold.Index, r.Error)
		}
		fm, err := queue.Decode[models.FoldMetrics](r.Result)
		if err != nil {
			return nil, err
		}
		out[i] = *fm
	}
	return out, nil
}
