package strategy

import (
	"fmt"
	"strconv"

	"QuantSim/internal/domain/models"
	"QuantSim/internal/domain/service"
	"QuantSim/internal/services/features"
)

// meanReversion fades closes more than z_entry standard deviations from the
// rolling mean, targeting the mean. Toxic flow (high VPIN) is skipped.
type meanReversion struct {
	id      string
	window  int
	zEntry  float64
	atrMult float64
	maxVPIN float64

	seen   seen
	closes map[string]*features.Ring
}

func newMeanReversion(id string, p models.Params) (service.Strategy, error) {
	s := &meanReversion{
		id:      id,
		window:  p.Int("window", 20),
		zEntry:  p.Float("z_entry", 2),
		atrMult: p.Float("atr_mult", 1.5),
		maxVPIN: p.Float("max_vpin", 0.7),
		seen:    seen{},
		closes:  make(map[string]*features.Ring),
	}
	if s.window < 3 {
		return nil, fmt.Errorf("mean_reversion: window must be >= 3, got %d", s.window)
	}
	if s.zEntry <= 0 || s.atrMult <= 0 {
		return nil, fmt.Errorf("mean_reversion: z_entry and atr_mult must be positive")
	}
	return s, nil
}

func (s *meanReversion) ID() string { return s.id }

func (s *meanReversion) Evaluate(h models.Series, f models.FeatureSnapshot) ([]models.Signal, error) {
	r := s.closes[f.Symbol]
	if r == nil {
		r = features.NewRing(s.window)
		s.closes[f.Symbol] = r
	}
	for _, b := range s.seen.fresh(f.Symbol, h) {
		r.Push(b.Close)
	}
	if !r.Full() {
		return nil, nil
	}
	mean, std := r.Mean(), r.Std()
	atr := f.Float(models.FeatureATR, 0)
	if std == 0 || atr <= 0 || f.Float(models.FeatureVPIN, 0) > s.maxVPIN {
		return nil, nil
	}

	bar, _ := h.Last()
	z := (bar.Close - mean) / std
	var dir models.Direction
	switch {
	case z <= -s.zEntry:
		dir = models.Long
	case z >= s.zEntry:
		dir = models.Short
	default:
		return nil, nil
	}
	stop, _ := bracket(dir, bar.Close, atr, s.atrMult, 1)
	return signal(dir, bar, stop, mean, map[string]string{
		"zscore": strconv.FormatFloat(z, 'f', 3, 64),
	}), nil
}
