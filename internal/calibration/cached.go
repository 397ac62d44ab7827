package calibration

import (
	"context"
	"errors"
	"time"

	"QuantSim/internal/domain/models"
	"QuantSim/pkg/cache"
	"QuantSim/pkg/logger"
)

// CachedEvaluator memoizes fold metrics. The namespace must change whenever
// the underlying data or engine settings change.
type CachedEvaluator struct {
	inner     Evaluator
	cache     cache.Service
	ttl       time.Duration
	namespace string
	log       *logger.Logger
}

func NewCachedEvaluator(inner Evaluator, c cache.Service, namespace string, ttl time.Duration, l *logger.Logger) *CachedEvaluator {
	if l == nil {
		l = logger.Nop()
	}
	return &CachedEvaluator{inner: inner, cache: c, ttl: ttl, namespace: namespace, log: l}
}

func (e *CachedEvaluator) key(u Unit) string {
	return cache.Key("calibration", u.StrategyID, cache.HashKey(cache.Key(
		e.namespace, u.Params.Key(), u.Fold.TrainStart.Unix(), u.Fold.TestStart.Unix(), u.Fold.TestEnd.Unix())))
}

func (e *CachedEvaluator) EvaluateFold(ctx context.Context, u Unit) (models.FoldMetrics, error) {
	key := e.key(u)
	var fm models.FoldMetrics
	err := e.cache.Get(ctx, key, &fm)
	if err == nil {
		fm.Fold = u.Fold.Index
		return fm, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		e.log.Warn("calibration cache read failed", logger.String("key", key), logger.Error(err))
	}

	fm, err = e.inner.EvaluateFold(ctx, u)
	if err != nil {
		return fm, err
	}
	if err := e.cache.Set(ctx, key, fm, e.ttl); err != nil {
		e.log.Warn("calibration cache write failed", logger.String("key", key), logger.Error(err))
	}
	return fm, nil
}
