package eventlog

import (
	"context"
	"sync"

	"QuantSim/internal/domain/models"
)

// MemorySink keeps events in memory. Used by the HTTP surface and tests.
type MemorySink struct {
	mu     sync.Mutex
	events []models.TradeEvent
	// Fail, when set, is returned by WriteEvents instead of storing.
	Fail error
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Name() string { return "memory" }

func (s *MemorySink) WriteEvents(_ context.Context, events []models.TradeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	s.events = append(s.events, events...)
	return nil
}

func (s *MemorySink) Events() []models.TradeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TradeEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *MemorySink) Close() error { return nil }

// NopSink drops everything. Calibration units only need run statistics.
type NopSink struct{}

func (NopSink) Name() string                                          { return "nop" }
func (NopSink) WriteEvents(context.Context, []models.TradeEvent) error { return nil }
func (NopSink) Close() error                                          { return nil }
