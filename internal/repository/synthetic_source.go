package repository

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"QuantSim/internal/domain/errs"
	"QuantSim/internal/domain/models"
	domrepo "QuantSim/internal/domain/repository"
)

// SyntheticConfig parameterises the random walk.
type SyntheticConfig struct {
	Seed       int64
	StartPrice float64
	Volatility float64
	Drift      float64
	BaseVolume float64
	// Origin anchors the walk so a bar at a given timestamp is the same for every requested window.
	Origin time.Time
}

// SyntheticSource generates a seeded random walk per symbol. The output is a
// pure function of (seed, symbol, timeframe, origin).
type SyntheticSource struct {
	cfg SyntheticConfig
}

func NewSyntheticSource(cfg SyntheticConfig) *SyntheticSource {
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = 100
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.01
	}
	if cfg.BaseVolume <= 0 {
		cfg.BaseVolume = 1000
	}
	if cfg.Origin.IsZero() {
		cfg.Origin = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &SyntheticSource{cfg: cfg}
}

func (s *SyntheticSource) Load(ctx context.Context, symbol string, tf domrepo.Timeframe, start, end time.Time) ([]models.Bar, error) {
	step := tf.Duration()
	if step <= 0 {
		return nil, errs.Setupf("load synthetic", "unsupported timeframe %q", tf)
	}
	if end.Before(start) {
		return nil, errs.Setupf("load synthetic", "end %s before start %s", end, start)
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	_, _ = h.Write([]byte(tf))
	r := rand.New(rand.NewSource(s.cfg.Seed ^ int64(h.Sum64())))

	price := s.cfg.StartPrice
	out := make([]models.Bar, 0, int(end.Sub(start)/step)+1)
	for ts, i := s.cfg.Origin, 0; !ts.After(end); ts, i = ts.Add(step), i+1 {
		if i%8192 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		open := price
		ret := s.cfg.Drift + r.NormFloat64()*s.cfg.Volatility
		closePx := open * math.Exp(ret)
		high := math.Max(open, closePx) * (1 + r.Float64()*s.cfg.Volatility*0.5)
		low := math.Min(open, closePx) * (1 - r.Float64()*s.cfg.Volatility*0.5)
		vol := s.cfg.BaseVolume * (0.5 + r.Float64())
		price = closePx

		if ts.Before(start) {
			continue
		}
		out = append(out, models.Bar{
			Symbol:    symbol,
			Timestamp: ts,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePx,
			Volume:    vol,
		})
	}
	return out, nil
}
