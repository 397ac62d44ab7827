// Package eventlog records every trading decision of a run, in causal order.
package eventlog

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"QuantSim/internal/domain/errs"
	"QuantSim/internal/domain/models"
	"QuantSim/internal/domain/repository"
	"QuantSim/pkg/logger"
)

const defaultThreshold = 256

type Option func(*Buffered)

func WithThreshold(n int) Option {
	return func(b *Buffered) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithFallback sets the sink used when the primary sink fails.
func WithFallback(s repository.EventSink) Option {
	return func(b *Buffered) { b.fallback = s }
}

func WithLogger(l *logger.Logger) Option {
	return func(b *Buffered) { b.log = l }
}

func WithMetrics(m repository.Metrics) Option {
	return func(b *Buffered) { b.metrics = m }
}

func WithRunID(id string) Option {
	return func(b *Buffered) { b.runID = id }
}

// Buffered is a FIFO event log that flushes to its sink once the buffer
// reaches the threshold. A failing sink degrades to the fallback sink; the
// failure only becomes fatal when events could not be stored anywhere by Close.
type Buffered struct {
	mu        sync.Mutex
	sink      repository.EventSink
	fallback  repository.EventSink
	log       *logger.Logger
	metrics   repository.Metrics
	runID     string
	threshold int
	seq       uint64
	buf       []models.TradeEvent

	flushed  int
	degraded int
	lost     int
	lastErr  error
}

func NewBuffered(sink repository.EventSink, opts ...Option) *Buffered {
	b := &Buffered{sink: sink, threshold: defaultThreshold, log: logger.Nop()}
	for _, o := range opts {
		o(b)
	}
	b.buf = make([]models.TradeEvent, 0, b.threshold)
	return b
}

func (b *Buffered) append(ev models.TradeEvent) {
	b.mu.Lock()
	b.seq++
	ev.Seq = b.seq
	ev.RunID = b.runID
	b.buf = append(b.buf, ev)
	full := len(b.buf) >= b.threshold
	b.mu.Unlock()

	if full {
		_ = b.Flush(context.Background())
	}
}

func (b *Buffered) LogEntry(p models.Position, ts time.Time) {
	b.append(models.TradeEvent{
		Kind:       models.EventEntry,
		Timestamp:  ts,
		Symbol:     p.Symbol,
		StrategyID: p.StrategyID,
		SignalID:   p.SignalID,
		PositionID: p.ID,
		Direction:  p.Direction,
		Price:      p.EntryPrice,
		Size:       p.Size,
		Details: map[string]string{
			"stop_loss":   ftoa(p.StopLoss),
			"take_profit": ftoa(p.TakeProfit),
		},
	})
}

func (b *Buffered) positionEvent(kind models.EventKind, ev models.PositionEvent, details map[string]string) {
	p := ev.Position
	b.append(models.TradeEvent{
		Kind:       kind,
		Timestamp:  ev.Timestamp,
		Symbol:     p.Symbol,
		StrategyID: p.StrategyID,
		SignalID:   p.SignalID,
		PositionID: p.ID,
		Direction:  p.Direction,
		Price:      ev.Price,
		Size:       ev.Size,
		PnL:        ev.PnL,
		Reason:     ev.Reason,
		Details:    details,
	})
}

func (b *Buffered) LogExit(ev models.PositionEvent) {
	b.positionEvent(models.EventExit, ev, map[string]string{
		"r_multiple":   ftoa(ev.Position.RMultiple()),
		"realized_pnl": ftoa(ev.Position.RealizedPnL),
	})
}

func (b *Buffered) LogPartial(ev models.PositionEvent) {
	b.positionEvent(models.EventPartial, ev, map[string]string{
		"remaining": ftoa(ev.Position.Remaining),
	})
}

func (b *Buffered) LogSLAdjustment(ev models.PositionEvent) {
	b.positionEvent(models.EventSLAdjusted, ev, map[string]string{
		"old_stop": ftoa(ev.OldStop),
		"new_stop": ftoa(ev.NewStop),
	})
}

func (b *Buffered) signalEvent(kind models.EventKind, sig models.Signal, d models.RiskDecision) {
	b.append(models.TradeEvent{
		Kind:       kind,
		Timestamp:  sig.Timestamp,
		Symbol:     sig.Symbol,
		StrategyID: sig.StrategyID,
		SignalID:   sig.ID,
		Direction:  sig.Direction,
		Price:      sig.EntryPrice,
		Size:       d.PositionSize,
		Reason:     d.RejectionReason,
		Details: map[string]string{
			"quality":     ftoa(d.QualityScore),
			"reward_risk": ftoa(sig.RewardRisk()),
		},
	})
}

func (b *Buffered) LogRejection(sig models.Signal, d models.RiskDecision) {
	b.signalEvent(models.EventRejection, sig, d)
}

func (b *Buffered) LogDecision(sig models.Signal, d models.RiskDecision) {
	b.signalEvent(models.EventDecision, sig, d)
}

func (b *Buffered) LogArbiterDecision(ts time.Time, symbol string, kept, dropped []models.Signal) {
	b.append(models.TradeEvent{
		Kind:      models.EventArbiterDecision,
		Timestamp: ts,
		Symbol:    symbol,
		Details: map[string]string{
			"kept":    signalIDs(kept),
			"dropped": signalIDs(dropped),
		},
	})
}

// Flush writes buffered events to the sink, or the fallback when the sink fails.
// When both fail the events are dropped and counted as lost.
func (b *Buffered) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) == 0 {
		return nil
	}
	batch := b.buf
	b.buf = make([]models.TradeEvent, 0, b.threshold)

	err := b.sink.WriteEvents(ctx, batch)
	if err == nil {
		b.flushed += len(batch)
		b.record(b.sink.Name(), len(batch))
		return nil
	}

	b.log.Warn("event sink failed, degrading to fallback",
		logger.String("sink", b.sink.Name()),
		logger.Int("events", len(batch)),
		logger.Error(err))
	if b.metrics != nil {
		b.metrics.RecordError(string(errs.KindPersistence))
	}

	if b.fallback != nil {
		ferr := b.fallback.WriteEvents(ctx, batch)
		if ferr == nil {
			b.degraded += len(batch)
			b.record(b.fallback.Name(), len(batch))
			return nil
		}
		err = ferr
	}

	b.lost += len(batch)
	b.lastErr = errs.Persistence("flush events", err)
	b.log.Error("events lost", logger.Int("events", len(batch)), logger.Error(err))
	return b.lastErr
}

func (b *Buffered) record(sink string, n int) {
	if b.metrics != nil {
		b.metrics.RecordEventsFlushed(sink, n)
	}
}

// Close flushes and closes both sinks. It fails if any event was lost during the run.
func (b *Buffered) Close(ctx context.Context) error {
	flushErr := b.Flush(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	var closeErr error
	if err := b.sink.Close(); err != nil {
		closeErr = errs.Persistence("close event sink", err)
	}
	if b.fallback != nil {
		if err := b.fallback.Close(); err != nil && closeErr == nil {
			closeErr = errs.Persistence("close fallback sink", err)
		}
	}
	switch {
	case flushErr != nil:
		return flushErr
	case b.lastErr != nil:
		return b.lastErr
	default:
		return closeErr
	}
}

// Stats reports how many events went to the primary sink, to the fallback, or nowhere.
func (b *Buffered) Stats() (flushed, degraded, lost int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushed, b.degraded, b.lost
}

// Pending is the number of buffered, unflushed events.
func (b *Buffered) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func signalIDs(sigs []models.Signal) string {
	ids := make([]string, len(sigs))
	for i, s := range sigs {
		ids[i] = s.ID
	}
	return strings.Join(ids, ",")
}
