// Package ledger is the reference position ledger used by backtests and calibration runs.
package ledger

import (
	"fmt"
	"math"
	"time"

	"QuantSim/internal/domain/models"
)

// Config controls the position lifecycle.
type Config struct {
	InitialEquity float64
	// PartialAtR takes a partial profit once price moves this many R in favour. 0 disables.
	PartialAtR float64
	// PartialFraction of the original size closed at the partial, in (0, 1).
	PartialFraction float64
	// TrailingPct trails the stop this far behind the best price after the partial. 0 disables.
	TrailingPct float64
}

func DefaultConfig() Config {
	return Config{InitialEquity: 100000, PartialAtR: 1, PartialFraction: 0.5, TrailingPct: 0.02}
}

// Ledger fills entries immediately at the signal's entry price and resolves
// exits against bar extremes, stop before target when both are touched.
// It is not safe for concurrent use; the scheduler is its only writer.
type Ledger struct {
	cfg       Config
	positions map[string]*models.Position
	order     []string
	realized  float64
	open      int
}

func New(cfg Config) *Ledger {
	if cfg.PartialFraction <= 0 || cfg.PartialFraction >= 1 {
		cfg.PartialAtR = 0
	}
	return &Ledger{cfg: cfg, positions: make(map[string]*models.Position)}
}

// AddPosition opens a position for an approved signal.
func (l *Ledger) AddPosition(id string, sig models.Signal, size float64) (models.Position, error) {
	if _, exists := l.positions[id]; exists {
		return models.Position{}, fmt.Errorf("add position: duplicate id %s", id)
	}
	if size <= 0 || math.IsNaN(size) {
		return models.Position{}, fmt.Errorf("add position: invalid size %v", size)
	}
	if sig.RiskPerUnit() == 0 {
		return models.Position{}, fmt.Errorf("add position: stop equals entry for signal %s", sig.ID)
	}
	p := &models.Position{
		ID:          id,
		SignalID:    sig.ID,
		Symbol:      sig.Symbol,
		StrategyID:  sig.StrategyID,
		Direction:   sig.Direction,
		State:       models.PositionOpen,
		EntryTime:   sig.Timestamp,
		EntryPrice:  sig.EntryPrice,
		InitialStop: sig.StopLoss,
		StopLoss:    sig.StopLoss,
		TakeProfit:  sig.TakeProfit,
		Size:        size,
		Remaining:   size,
		BestPrice:   sig.EntryPrice,
	}
	l.positions[id] = p
	l.order = append(l.order, id)
	l.open++
	return *p, nil
}

// UpdatePositions applies one timestep of bars to every open position, in
// the order positions were opened. Positions are never updated by the bar
// they were opened on.
func (l *Ledger) UpdatePositions(bars map[string]models.Bar) []models.PositionEvent {
	var events []models.PositionEvent
	for _, id := range l.order {
		p := l.positions[id]
		if !p.IsOpen() {
			continue
		}
		bar, ok := bars[p.Symbol]
		if !ok || !bar.Timestamp.After(p.EntryTime) {
			continue
		}
		events = append(events, l.step(p, bar)...)
	}
	return events
}

func (l *Ledger) step(p *models.Position, bar models.Bar) []models.PositionEvent {
	long := p.Direction == models.Long

	if price, hit := stopTouched(p, bar, long); hit {
		return []models.PositionEvent{l.exit(p, bar.Timestamp, price, stopReason(p))}
	}
	if price, hit := targetTouched(p, bar, long); hit {
		return []models.PositionEvent{l.exit(p, bar.Timestamp, price, models.ExitTakeProfit)}
	}

	var events []models.PositionEvent
	if p.State == models.PositionOpen && l.cfg.PartialAtR > 0 {
		level := p.EntryPrice + p.Direction.Sign()*l.cfg.PartialAtR*p.RiskPerUnit()
		if (long && bar.High >= level) || (!long && bar.Low <= level) {
			p.State = models.PositionPartial
			events = append(events, l.partial(p, bar.Timestamp, level))
			events = append(events, l.moveStop(p, bar.Timestamp, p.EntryPrice, "break_even"))
		}
	}

	if long {
		p.BestPrice = math.Max(p.BestPrice, bar.High)
	} else {
		p.BestPrice = math.Min(p.BestPrice, bar.Low)
	}

	if l.cfg.TrailingPct > 0 && (p.State == models.PositionPartial || p.State == models.PositionTrailing) {
		trail := p.BestPrice * (1 - p.Direction.Sign()*l.cfg.TrailingPct)
		if (long && trail > p.StopLoss) || (!long && trail < p.StopLoss) {
			p.State = models.PositionTrailing
			events = append(events, l.moveStop(p, bar.Timestamp, trail, "trailing"))
		}
	}
	return events
}

func stopTouched(p *models.Position, bar models.Bar, long bool) (float64, bool) {
	if long && bar.Low <= p.StopLoss {
		return math.Min(bar.Open, p.StopLoss), true
	}
	if !long && bar.High >= p.StopLoss {
		return math.Max(bar.Open, p.StopLoss), true
	}
	return 0, false
}

func targetTouched(p *models.Position, bar models.Bar, long bool) (float64, bool) {
	if p.TakeProfit <= 0 {
		return 0, false
	}
	if long && bar.High >= p.TakeProfit {
		return math.Max(bar.Open, p.TakeProfit), true
	}
	if !long && bar.Low <= p.TakeProfit {
		return math.Min(bar.Open, p.TakeProfit), true
	}
	return 0, false
}

func stopReason(p *models.Position) string {
	switch {
	case p.State == models.PositionTrailing:
		return models.ExitTrailingStop
	case p.StopLoss == p.EntryPrice:
		return models.ExitBreakEven
	default:
		return models.ExitStopLoss
	}
}

func (l *Ledger) partial(p *models.Position, ts time.Time, price float64) models.PositionEvent {
	size := p.Size * l.cfg.PartialFraction
	pnl := (price - p.EntryPrice) * size * p.Direction.Sign()
	p.Remaining -= size
	p.RealizedPnL += pnl
	l.realized += pnl
	return models.PositionEvent{
		Kind:      models.EventPartial,
		Position:  *p,
		Timestamp: ts,
		Price:     price,
		Size:      size,
		PnL:       pnl,
		Reason:    fmt.Sprintf("partial_%gR", l.cfg.PartialAtR),
	}
}

func (l *Ledger) moveStop(p *models.Position, ts time.Time, stop float64, reason string) models.PositionEvent {
	old := p.StopLoss
	p.StopLoss = stop
	return models.PositionEvent{
		Kind:      models.EventSLAdjusted,
		Position:  *p,
		Timestamp: ts,
		Price:     stop,
		Reason:    reason,
		OldStop:   old,
		NewStop:   stop,
	}
}

func (l *Ledger) exit(p *models.Position, ts time.Time, price float64, reason string) models.PositionEvent {
	size := p.Remaining
	pnl := (price - p.EntryPrice) * size * p.Direction.Sign()
	p.RealizedPnL += pnl
	p.Remaining = 0
	p.State = models.PositionClosed
	p.ExitTime = ts
	p.ExitPrice = price
	p.ExitReason = reason
	l.realized += pnl
	l.open--
	return models.PositionEvent{
		Kind:      models.EventExit,
		Position:  *p,
		Timestamp: ts,
		Price:     price,
		Size:      size,
		PnL:       pnl,
		Reason:    reason,
	}
}

// ClosePosition force-closes an open position at price.
func (l *Ledger) ClosePosition(id string, ts time.Time, price float64, reason string) (models.PositionEvent, bool) {
	p, ok := l.positions[id]
	if !ok || !p.IsOpen() {
		return models.PositionEvent{}, false
	}
	return l.exit(p, ts, price, reason), true
}

// AllPositions returns copies of every position in opening order.
func (l *Ledger) AllPositions() []models.Position {
	out := make([]models.Position, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.positions[id])
	}
	return out
}

// OpenPositions returns copies of positions that still carry exposure.
func (l *Ledger) OpenPositions() []models.Position {
	out := make([]models.Position, 0, l.open)
	for _, id := range l.order {
		if p := l.positions[id]; p.IsOpen() {
			out = append(out, *p)
		}
	}
	return out
}

func (l *Ledger) OpenCount() int { return l.open }

// RealizedPnL is the sum of all closed legs.
func (l *Ledger) RealizedPnL() float64 { return l.realized }

// Equity marks open positions at marks; a position without a mark counts at entry.
func (l *Ledger) Equity(marks map[string]float64) float64 {
	eq := l.cfg.InitialEquity + l.realized
	for _, id := range l.order {
		p := l.positions[id]
		if !p.IsOpen() {
			continue
		}
		if px, ok := marks[p.Symbol]; ok {
			eq += p.UnrealizedPnL(px)
		}
	}
	return eq
}
