package strategy

import (
	"fmt"
	"strconv"

	"QuantSim/internal/domain/models"
	"QuantSim/internal/domain/service"
)

// emaCross trades fast/slow EMA crossovers with ATR brackets.
type emaCross struct {
	id         string
	fast, slow int
	atrMult    float64
	rr         float64

	seen  seen
	state map[string]*emaState
}

type emaState struct {
	n                  int
	fast, slow         float64
	prevFast, prevSlow float64
}

func newEMACross(id string, p models.Params) (service.Strategy, error) {
	s := &emaCross{
		id:      id,
		fast:    p.Int("fast", 12),
		slow:    p.Int("slow", 26),
		atrMult: p.Float("atr_mult", 1.5),
		rr:      p.Float("rr", 2),
		seen:    seen{},
		state:   make(map[string]*emaState),
	}
	if s.fast < 1 || s.slow <= s.fast {
		return nil, fmt.Errorf("ema_cross: need 0 < fast < slow, got %d/%d", s.fast, s.slow)
	}
	if s.atrMult <= 0 || s.rr <= 0 {
		return nil, fmt.Errorf("ema_cross: atr_mult and rr must be positive")
	}
	return s, nil
}

func (s *emaCross) ID() string { return s.id }

func (s *emaCross) Evaluate(h models.Series, f models.FeatureSnapshot) ([]models.Signal, error) {
	st := s.state[f.Symbol]
	if st == nil {
		st = &emaState{}
		s.state[f.Symbol] = st
	}
	kf, ks := 2/float64(s.fast+1), 2/float64(s.slow+1)
	for _, b := range s.seen.fresh(f.Symbol, h) {
		st.prevFast, st.prevSlow = st.fast, st.slow
		if st.n == 0 {
			st.fast, st.slow = b.Close, b.Close
		} else {
			st.fast = b.Close*kf + st.fast*(1-kf)
			st.slow = b.Close*ks + st.slow*(1-ks)
		}
		st.n++
	}
	if st.n <= s.slow {
		return nil, nil
	}

	atr := f.Float(models.FeatureATR, 0)
	bar, _ := h.Last()
	if atr <= 0 {
		return nil, nil
	}
	var dir models.Direction
	switch {
	case st.prevFast <= st.prevSlow && st.fast > st.slow:
		dir = models.Long
	case st.prevFast >= st.prevSlow && st.fast < st.slow:
		dir = models.Short
	default:
		return nil, nil
	}
	stop, target := bracket(dir, bar.Close, atr, s.atrMult, s.rr)
	return signal(dir, bar, stop, target, map[string]string{
		"ema_fast": strconv.FormatFloat(st.fast, 'f', 4, 64),
		"ema_slow": strconv.FormatFloat(st.slow, 'f', 4, 64),
	}), nil
}
