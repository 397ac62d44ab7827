package engine

import (
	"QuantSim/internal/domain/errs"
	"QuantSim/internal/domain/service"
)

type registered struct {
	strategy service.Strategy
	enabled  bool
}

// Registry holds the strategies of one run in registration order. It is
// built per run and owned by the scheduler.
type Registry struct {
	entries []registered
	index   map[string]int
}

func NewRegistry(strategies ...service.Strategy) (*Registry, error) {
	r := &Registry{index: make(map[string]int)}
	for _, s := range strategies {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends s, enabled. IDs must be unique and non-empty.
func (r *Registry) Register(s service.Strategy) error {
	if s == nil || s.ID() == "" {
		return errs.Setupf("register strategy", "strategy without id")
	}
	if _, dup := r.index[s.ID()]; dup {
		return errs.Setupf("register strategy", "duplicate strategy id %q", s.ID())
	}
	r.index[s.ID()] = len(r.entries)
	r.entries = append(r.entries, registered{strategy: s, enabled: true})
	return nil
}

// SetEnabled toggles a strategy; it reports false for unknown ids.
func (r *Registry) SetEnabled(id string, enabled bool) bool {
	i, ok := r.index[id]
	if ok {
		r.entries[i].enabled = enabled
	}
	return ok
}

// Enabled returns enabled strategies in registration order.
func (r *Registry) Enabled() []service.Strategy {
	out := make([]service.Strategy, 0, len(r.entries))
	for _, e := range r.entries {
		if e.enabled {
			out = append(out, e.strategy)
		}
	}
	return out
}

func (r *Registry) IDs() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.strategy.ID()
	}
	return out
}

func (r *Registry) Len() int { return len(r.entries) }
