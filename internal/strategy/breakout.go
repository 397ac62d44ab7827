package strategy

import (
	"fmt"
	"strconv"

	"QuantSim/internal/domain/models"
	"QuantSim/internal/domain/service"
	"QuantSim/internal/services/features"
)

// breakout enters when the close leaves the high/low channel of the
// previous lookback bars.
type breakout struct {
	id       string
	lookback int
	atrMult  float64
	rr       float64

	seen  seen
	highs map[string]*features.Ring
	lows  map[string]*features.Ring
}

func newBreakout(id string, p models.Params) (service.Strategy, error) {
	s := &breakout{
		id:       id,
		lookback: p.Int("lookback", 20),
		atrMult:  p.Float("atr_mult", 1.5),
		rr:       p.Float("rr", 2),
		seen:     seen{},
		highs:    make(map[string]*features.Ring),
		lows:     make(map[string]*features.Ring),
	}
	if s.lookback < 2 {
		return nil, fmt.Errorf("breakout: lookback must be >= 2, got %d", s.lookback)
	}
	if s.atrMult <= 0 || s.rr <= 0 {
		return nil, fmt.Errorf("breakout: atr_mult and rr must be positive")
	}
	return s, nil
}

func (s *breakout) ID() string { return s.id }

func (s *breakout) Evaluate(h models.Series, f models.FeatureSnapshot) ([]models.Signal, error) {
	hi, lo := s.highs[f.Symbol], s.lows[f.Symbol]
	if hi == nil {
		hi, lo = features.NewRing(s.lookback), features.NewRing(s.lookback)
		s.highs[f.Symbol], s.lows[f.Symbol] = hi, lo
	}
	fresh := s.seen.fresh(f.Symbol, h)
	if len(fresh) == 0 {
		return nil, nil
	}
	// channel excludes the current bar
	for _, b := range fresh[:len(fresh)-1] {
		hi.Push(b.High)
		lo.Push(b.Low)
	}
	bar := fresh[len(fresh)-1]
	full := hi.Full()
	upper, lower := hi.Max(), lo.Min()
	hi.Push(bar.High)
	lo.Push(bar.Low)

	atr := f.Float(models.FeatureATR, 0)
	if !full || atr <= 0 {
		return nil, nil
	}
	var dir models.Direction
	switch {
	case bar.Close > upper:
		dir = models.Long
	case bar.Close < lower:
		dir = models.Short
	default:
		return nil, nil
	}
	stop, target := bracket(dir, bar.Close, atr, s.atrMult, s.rr)
	return signal(dir, bar, stop, target, map[string]string{
		"channel_high": strconv.FormatFloat(upper, 'f', 4, 64),
		"channel_low":  strconv.FormatFloat(lower, 'f', 4, 64),
	}), nil
}
