// Package engine replays bars through strategies, the risk gate and the
// position ledger in strict timestamp order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"QuantSim/internal/domain/errs"
	"QuantSim/internal/domain/models"
	"QuantSim/internal/domain/repository"
	"QuantSim/internal/domain/service"
	"QuantSim/internal/services/features"
	"QuantSim/internal/services/performance"
	"QuantSim/pkg/logger"
	"QuantSim/pkg/metrics"
)

const (
	outcomeApproved = "approved"
	outcomeRejected = "rejected"

	// ReasonLedgerRefused marks an approved signal the ledger could not open.
	ReasonLedgerRefused = "ledger_refused"
)

// Config controls one scheduler run.
type Config struct {
	RunID string
	// ForceCloseOnFinalize liquidates open positions at the last close
	// instead of only warning about them.
	ForceCloseOnFinalize bool
	BarsPerYear          float64
	Features             features.Config
	FlushTimeout         time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(l *logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m repository.Metrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithArbiter resolves same-symbol candidates before they reach the gate.
func WithArbiter(a service.Arbiter) Option {
	return func(s *Scheduler) { s.arbiter = a }
}

// Scheduler is single-threaded and single-pass: one Load, one Run.
type Scheduler struct {
	cfg      Config
	registry *Registry
	gate     service.Gate
	ledger   service.Ledger
	events   repository.EventLog
	arbiter  service.Arbiter
	log      *logger.Logger
	metrics  repository.Metrics

	series  map[string]models.Series
	symbols []string
	cursor  map[string]int
	bank    *features.Bank
	marks   map[string]float64
	equity  []performance.Point
	last    time.Time
	stats   models.RunStats
	ran     bool
}

func New(reg *Registry, gate service.Gate, ledger service.Ledger, events repository.EventLog, cfg Config, opts ...Option) *Scheduler {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.BarsPerYear <= 0 {
		cfg.BarsPerYear = repository.DefaultTimeframe().BarsPerYear()
	}
	if cfg.Features.BarsPerYear <= 0 {
		cfg.Features.BarsPerYear = cfg.BarsPerYear
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 30 * time.Second
	}
	s := &Scheduler{
		cfg:      cfg,
		registry: reg,
		gate:     gate,
		ledger:   ledger,
		events:   events,
		log:      logger.Nop(),
		metrics:  metrics.Nop{},
		cursor:   make(map[string]int),
		marks:    make(map[string]float64),
		bank:     features.NewBank(cfg.Features),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.String("run_id", cfg.RunID))
	s.stats = models.RunStats{RunID: cfg.RunID, FaultsByID: make(map[string]int)}
	return s
}

// Load takes per-symbol series, already validated and ascending. Bars before
// the run start only warm up features.
func (s *Scheduler) Load(series map[string]models.Series) error {
	if len(series) == 0 {
		return errs.Setupf("load", "no market data")
	}
	s.series = make(map[string]models.Series, len(series))
	s.symbols = s.symbols[:0]
	for sym, bars := range series {
		if len(bars) == 0 {
			continue
		}
		for i := 1; i < len(bars); i++ {
			if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
				return s.orderViolation(sym, bars[i-1].Timestamp, bars[i].Timestamp)
			}
		}
		s.series[sym] = bars
		s.symbols = append(s.symbols, sym)
	}
	if len(s.symbols) == 0 {
		return errs.Setupf("load", "every series is empty")
	}
	sort.Strings(s.symbols)
	return nil
}

// Run replays every distinct timestamp in [start, end] and finalizes. On
// cancellation it flushes the event log and returns the context error along
// with the counters gathered so far.
func (s *Scheduler) Run(ctx context.Context, start, end time.Time) (models.RunStats, error) {
	if err := s.checkSetup(start, end); err != nil {
		return s.stats, err
	}
	s.ran = true
	s.stats.Start, s.stats.End = start, end

	s.warmup(start)
	timeline := s.timeline(start, end)
	if len(timeline) == 0 {
		return s.stats, errs.Setupf("run", "no bars between %s and %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	began := time.Now()
	for _, ts := range timeline {
		if err := ctx.Err(); err != nil {
			return s.cancel(ctx, err)
		}
		if err := s.step(ts); err != nil {
			return s.stats, err
		}
	}

	s.finalize(ctx)
	s.metrics.RecordLatency("run", time.Since(began).Seconds())
	s.log.Info("run complete",
		logger.Int("timestamps", s.stats.Timestamps),
		logger.Int("total_signals", s.stats.TotalSignals),
		logger.Int("approved", s.stats.SignalsApproved),
		logger.Int("rejected", s.stats.SignalsRejected),
		logger.Int("faults", s.stats.StrategyFaults),
		logger.Int("trades", s.stats.Performance.TotalTrades))
	return s.stats, nil
}

func (s *Scheduler) checkSetup(start, end time.Time) error {
	switch {
	case s.ran:
		return errs.Setupf("run", "scheduler already ran")
	case s.registry == nil || len(s.registry.Enabled()) == 0:
		return errs.Setupf("run", "no enabled strategies")
	case s.gate == nil || s.ledger == nil || s.events == nil:
		return errs.Setupf("run", "gate, ledger and event log are required")
	case len(s.symbols) == 0:
		return errs.Setupf("run", "no market data loaded")
	case end.Before(start):
		return errs.Setupf("run", "end %s before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return nil
}

// warmup feeds bars before start into the feature trackers.
func (s *Scheduler) warmup(start time.Time) {
	for _, sym := range s.symbols {
		bars := s.series[sym]
		i := 0
		for ; i < len(bars) && bars[i].Timestamp.Before(start); i++ {
			s.bank.Update(bars[i])
			s.marks[sym] = bars[i].Close
		}
		s.cursor[sym] = i
	}
}

// timeline is the ascending union of distinct timestamps in [start, end].
func (s *Scheduler) timeline(start, end time.Time) []time.Time {
	seen := make(map[int64]struct{})
	var out []time.Time
	for _, sym := range s.symbols {
		for _, b := range s.series[sym][s.cursor[sym]:] {
			if b.Timestamp.After(end) {
				break
			}
			k := b.Timestamp.UnixNano()
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				out = append(out, b.Timestamp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (s *Scheduler) orderViolation(sym string, prev, cur time.Time) error {
	err := errs.Setupf("run", "ordering violation for %s: %s after %s",
		sym, cur.Format(time.RFC3339Nano), prev.Format(time.RFC3339Nano))
	s.log.Error("ordering violation", logger.String("symbol", sym), logger.Error(err))
	s.metrics.RecordError(string(errs.KindSetup))
	return err
}

func (s *Scheduler) step(ts time.Time) error {
	// 1. symbols with a bar at ts
	bars := make(map[string]models.Bar)
	var active []string
	for _, sym := range s.symbols {
		series, i := s.series[sym], s.cursor[sym]
		if i >= len(series) {
			continue
		}
		b := series[i]
		if b.Timestamp.Before(ts) {
			prev := s.last
			if i > 0 {
				prev = series[i-1].Timestamp
			}
			return s.orderViolation(sym, prev, b.Timestamp)
		}
		if !b.Timestamp.Equal(ts) {
			continue
		}
		bars[sym] = b
		active = append(active, sym)
		s.cursor[sym] = i + 1
	}
	if len(active) == 0 {
		return nil
	}
	s.stats.Timestamps++
	s.last = ts

	// 2. features from bars <= ts
	snaps := make(map[string]models.FeatureSnapshot, len(active))
	for _, sym := range active {
		snaps[sym] = s.bank.Update(bars[sym])
		s.marks[sym] = bars[sym].Close
	}

	// 3. open positions against bars at ts
	for _, ev := range s.ledger.UpdatePositions(bars) {
		s.logPositionEvent(ev)
	}

	// 4. evaluate strategies, registration order then symbol order
	var candidates []models.Signal
	for _, st := range s.registry.Enabled() {
		for _, sym := range active {
			history := s.series[sym][:s.cursor[sym]:s.cursor[sym]]
			candidates = append(candidates, s.evaluate(st, sym, ts, history, snaps[sym])...)
		}
	}
	if s.arbiter != nil {
		candidates = s.arbitrate(ts, candidates)
	}

	// 5-6. gate, then ledger or rejection
	for _, sig := range candidates {
		s.route(sig, snaps[sig.Symbol])
	}

	s.equity = append(s.equity, performance.Point{Time: ts, Equity: s.ledger.Equity(s.marks)})
	return nil
}

// evaluate isolates one strategy call. Panics and errors become faults and
// the strategy contributes nothing for this timestamp.
func (s *Scheduler) evaluate(st service.Strategy, sym string, ts time.Time, history models.Series, snap models.FeatureSnapshot) (out []models.Signal) {
	id := st.ID()
	defer func() {
		if r := recover(); r != nil {
			s.fault(id, sym, ts, fmt.Errorf("panic: %v", r))
			out = nil
		}
	}()

	sigs, err := st.Evaluate(history, snap)
	if err != nil {
		s.fault(id, sym, ts, err)
		return nil
	}
	out = make([]models.Signal, 0, len(sigs))
	for i, sig := range sigs {
		if !sig.Timestamp.IsZero() && !sig.Timestamp.Equal(ts) {
			s.fault(id, sym, ts, fmt.Errorf("signal timestamp %s differs from current bar", sig.Timestamp.Format(time.RFC3339)))
			return nil
		}
		if sig.Symbol != "" && sig.Symbol != sym {
			s.fault(id, sym, ts, fmt.Errorf("signal for %s while evaluating %s", sig.Symbol, sym))
			return nil
		}
		sig.Timestamp, sig.Symbol, sig.StrategyID = ts, sym, id
		if sig.ID == "" {
			sig.ID = signalID(id, sym, ts, i)
		}
		out = append(out, sig)
	}
	return out
}

// signalID is a name-based UUID so identical replays produce identical ids.
func signalID(strategyID, symbol string, ts time.Time, n int) string {
	name := strategyID + "|" + symbol + "|" + strconv.FormatInt(ts.UnixNano(), 10) + "|" + strconv.Itoa(n)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

func (s *Scheduler) fault(id, sym string, ts time.Time, err error) {
	s.stats.StrategyFaults++
	s.stats.FaultsByID[id]++
	s.metrics.RecordFault(id)
	s.log.Warn("strategy fault",
		logger.String("strategy", id),
		logger.String("symbol", sym),
		logger.Time("ts", ts),
		logger.Error(errs.Fault("evaluate", err)))
}

// arbitrate hands each symbol's candidates to the arbiter and keeps the
// survivors in their original order.
func (s *Scheduler) arbitrate(ts time.Time, candidates []models.Signal) []models.Signal {
	bySymbol := make(map[string][]models.Signal)
	var order []string
	for _, c := range candidates {
		if _, ok := bySymbol[c.Symbol]; !ok {
			order = append(order, c.Symbol)
		}
		bySymbol[c.Symbol] = append(bySymbol[c.Symbol], c)
	}

	keep := make(map[string]bool, len(candidates))
	for _, sym := range order {
		group := bySymbol[sym]
		if len(group) < 2 {
			keep[group[0].ID] = true
			continue
		}
		kept := s.arbiter.Arbitrate(ts, sym, group)
		ids := make(map[string]bool, len(kept))
		for _, k := range kept {
			ids[k.ID] = true
			keep[k.ID] = true
		}
		var dropped []models.Signal
		for _, g := range group {
			if !ids[g.ID] {
				dropped = append(dropped, g)
			}
		}
		s.stats.ArbiterDropped += len(dropped)
		s.events.LogArbiterDecision(ts, sym, kept, dropped)
	}

	out := candidates[:0:0]
	for _, c := range candidates {
		if keep[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

func (s *Scheduler) route(sig models.Signal, snap models.FeatureSnapshot) {
	mc := models.MarketContext{
		Timestamp:        sig.Timestamp,
		Symbol:           sig.Symbol,
		VPIN:             snap.Float(models.FeatureVPIN, 0),
		Volatility:       snap.Float(models.FeatureVolatility, 0),
		VolatilityRegime: snap.Regime,
		OpenPositions:    s.ledger.OpenCount(),
		Equity:           s.ledger.Equity(s.marks),
	}
	d := s.gate.EvaluateSignal(sig, mc)
	d.SignalID = sig.ID
	s.stats.TotalSignals++

	if d.Approved {
		pos, err := s.ledger.AddPosition("pos-"+sig.ID, sig, d.PositionSize)
		if err == nil {
			s.stats.SignalsApproved++
			s.metrics.RecordSignal(sig.StrategyID, outcomeApproved)
			s.events.LogDecision(sig, d)
			s.events.LogEntry(pos, sig.Timestamp)
			return
		}
		s.log.Warn("ledger refused approved signal", logger.String("signal_id", sig.ID), logger.Error(err))
		d.Approved = false
		d.RejectionReason = ReasonLedgerRefused
	}
	s.stats.SignalsRejected++
	s.metrics.RecordSignal(sig.StrategyID, outcomeRejected)
	s.events.LogRejection(sig, d)
}

func (s *Scheduler) logPositionEvent(ev models.PositionEvent) {
	switch ev.Kind {
	case models.EventExit:
		s.events.LogExit(ev)
	case models.EventPartial:
		s.events.LogPartial(ev)
	case models.EventSLAdjusted:
		s.events.LogSLAdjustment(ev)
	}
}

// finalize settles open positions, computes performance and flushes events.
// A flush failure here is logged; it only becomes fatal when the log closes.
func (s *Scheduler) finalize(ctx context.Context) {
	for _, p := range s.ledger.AllPositions() {
		if !p.IsOpen() {
			continue
		}
		if !s.cfg.ForceCloseOnFinalize {
			s.log.Warn("position open at end of run",
				logger.String("position_id", p.ID),
				logger.String("symbol", p.Symbol),
				logger.String("strategy", p.StrategyID),
				logger.Float("remaining", p.Remaining))
			continue
		}
		if ev, ok := s.ledger.ClosePosition(p.ID, s.last, s.marks[p.Symbol], models.ExitEndOfRun); ok {
			s.events.LogExit(ev)
			s.stats.ForcedExits++
		}
	}
	if s.stats.ForcedExits > 0 && len(s.equity) > 0 {
		s.equity[len(s.equity)-1].Equity = s.ledger.Equity(s.marks)
	}
	s.stats.OpenAtEnd = s.ledger.OpenCount()
	s.stats.Performance = performance.Compute(s.equity, s.ledger.AllPositions(), s.cfg.BarsPerYear)
	if err := s.flush(ctx); err != nil {
		s.log.Warn("event log flush failed at finalize", logger.Error(err))
	}
}

func (s *Scheduler) cancel(ctx context.Context, cause error) (models.RunStats, error) {
	s.stats.Cancelled = true
	s.stats.OpenAtEnd = s.ledger.OpenCount()
	s.stats.Performance = performance.Compute(s.equity, s.ledger.AllPositions(), s.cfg.BarsPerYear)
	s.log.Warn("run cancelled", logger.Int("timestamps", s.stats.Timestamps), logger.Error(cause))
	if err := s.flush(ctx); err != nil {
		return s.stats, errors.Join(cause, err)
	}
	return s.stats, cause
}

// flush detaches from ctx so a cancelled run still drains its buffer.
func (s *Scheduler) flush(ctx context.Context) error {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FlushTimeout)
	defer cancel()
	return s.events.Flush(fctx)
}

// Stats returns the counters gathered so far.
func (s *Scheduler) Stats() models.RunStats { return s.stats }

// EquityCurve returns the marked-to-market equity after each timestamp.
func (s *Scheduler) EquityCurve() []performance.Point {
	return append([]performance.Point(nil), s.equity...)
}
