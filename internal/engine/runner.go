package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"QuantSim/internal/domain/errs"
	"QuantSim/internal/domain/models"
	"QuantSim/internal/domain/repository"
	"QuantSim/internal/domain/service"
	"QuantSim/internal/services/eventlog"
	"QuantSim/internal/services/ledger"
	"QuantSim/internal/services/risk"
	"QuantSim/pkg/logger"
	"QuantSim/pkg/metrics"
)

// Dataset is an immutable, preloaded set of series shared by many runs.
// Runs only ever read from it.
type Dataset struct {
	Timeframe repository.Timeframe
	series    map[string]models.Series
	symbols   []string
}

func NewDataset(tf repository.Timeframe, series map[string]models.Series) *Dataset {
	d := &Dataset{Timeframe: tf, series: make(map[string]models.Series, len(series))}
	for sym, bars := range series {
		if len(bars) == 0 {
			continue
		}
		d.series[sym] = bars
		d.symbols = append(d.symbols, sym)
	}
	sort.Strings(d.symbols)
	return d
}

// LoadDataset loads every symbol for [start, end]. Symbols without bars are
// skipped; a dataset with no bars at all is a setup failure.
func LoadDataset(ctx context.Context, src repository.MarketDataSource, tf repository.Timeframe, symbols []string, start, end time.Time) (*Dataset, error) {
	if len(symbols) == 0 {
		return nil, errs.Setupf("load dataset", "no symbols")
	}
	series := make(map[string]models.Series, len(symbols))
	for _, sym := range symbols {
		bars, err := src.Load(ctx, sym, tf, start, end)
		if err != nil {
			return nil, errs.Setup("load "+sym, err)
		}
		series[sym] = bars
	}
	d := NewDataset(tf, series)
	if len(d.symbols) == 0 {
		return nil, errs.Setupf("load dataset", "no bars for %v between %s and %s",
			symbols, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return d, nil
}

func (d *Dataset) Symbols() []string { return append([]string(nil), d.symbols...) }

// Bounds returns the earliest and latest timestamp across all symbols.
func (d *Dataset) Bounds() (first, last time.Time) {
	for _, bars := range d.series {
		if f := bars[0].Timestamp; first.IsZero() || f.Before(first) {
			first = f
		}
		if l := bars[len(bars)-1].Timestamp; l.After(last) {
			last = l
		}
	}
	return first, last
}

// Window returns the sub-series with timestamps in [from, to]. The slices
// alias the dataset.
func (d *Dataset) Window(from, to time.Time) map[string]models.Series {
	out := make(map[string]models.Series, len(d.series))
	for sym, bars := range d.series {
		w := bars.UpTo(to)
		lo := sort.Search(len(w), func(i int) bool { return !w[i].Timestamp.Before(from) })
		if lo < len(w) {
			out[sym] = w[lo:]
		}
	}
	return out
}

// SinkFactory returns the primary and fallback sinks of one run. The run's
// event log closes both; wrap long-lived sinks with eventlog.Shared.
type SinkFactory func(runID string) (primary, fallback repository.EventSink)

// NopSinks discards events. Calibration units use it.
func NopSinks(string) (repository.EventSink, repository.EventSink) {
	return eventlog.NopSink{}, nil
}

// RunnerConfig holds per-run component settings.
type RunnerConfig struct {
	Engine         Config
	Risk           risk.Config
	Ledger         ledger.Config
	Arbiter        string
	FlushThreshold int
}

// DefaultRunnerConfig uses the reference gate and ledger defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{Risk: risk.DefaultConfig(), Ledger: ledger.DefaultConfig()}
}

// RunSpec is one simulation request. Bars in [WarmupFrom, Start) only warm up
// features; zero WarmupFrom means no warmup.
type RunSpec struct {
	RunID      string
	Strategies []service.Strategy
	WarmupFrom time.Time
	Start      time.Time
	End        time.Time
}

// Result is a finished run.
type Result struct {
	Stats     models.RunStats
	Positions []models.Position
}

type RunnerOption func(*Runner)

func WithRunnerLogger(l *logger.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

func WithRunnerMetrics(m repository.Metrics) RunnerOption {
	return func(r *Runner) {
		if m != nil {
			r.metrics = m
		}
	}
}

func WithSinks(f SinkFactory) RunnerOption {
	return func(r *Runner) {
		if f != nil {
			r.sinks = f
		}
	}
}

// Runner builds a fresh registry, gate, ledger, event log and scheduler for
// every run. Runs share nothing but the read-only dataset, so a Runner is
// safe for concurrent use.
type Runner struct {
	data    *Dataset
	cfg     RunnerConfig
	log     *logger.Logger
	metrics repository.Metrics
	sinks   SinkFactory
}

func NewRunner(data *Dataset, cfg RunnerConfig, opts ...RunnerOption) *Runner {
	if cfg.Engine.BarsPerYear <= 0 && data != nil {
		cfg.Engine.BarsPerYear = data.Timeframe.BarsPerYear()
	}
	r := &Runner{data: data, cfg: cfg, log: logger.Nop(), metrics: metrics.Nop{}, sinks: NopSinks}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Dataset() *Dataset { return r.data }

// Run executes spec and closes its event log. A close failure means events
// were lost and is returned as a persistence failure alongside the stats.
func (r *Runner) Run(ctx context.Context, spec RunSpec) (Result, error) {
	if r.data == nil {
		return Result{}, errs.Setupf("run", "no dataset")
	}
	reg, err := NewRegistry(spec.Strategies...)
	if err != nil {
		return Result{}, err
	}
	arb, err := NewArbiter(r.cfg.Arbiter)
	if err != nil {
		return Result{}, err
	}
	runID := spec.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	primary, fallback := r.sinks(runID)
	events := eventlog.NewBuffered(primary,
		eventlog.WithFallback(fallback),
		eventlog.WithThreshold(r.cfg.FlushThreshold),
		eventlog.WithLogger(r.log),
		eventlog.WithMetrics(r.metrics),
		eventlog.WithRunID(runID))

	cfg := r.cfg.Engine
	cfg.RunID = runID
	book := ledger.New(r.cfg.Ledger)
	opts := []Option{WithLogger(r.log), WithMetrics(r.metrics)}
	if arb != nil {
		opts = append(opts, WithArbiter(arb))
	}
	sched := New(reg, risk.NewGate(r.cfg.Risk), book, events, cfg, opts...)

	from := spec.WarmupFrom
	if from.IsZero() || from.After(spec.Start) {
		from = spec.Start
	}
	if err := sched.Load(r.data.Window(from, spec.End)); err != nil {
		_ = events.Close(context.WithoutCancel(ctx))
		return Result{Stats: sched.Stats()}, err
	}

	stats, runErr := sched.Run(ctx, spec.Start, spec.End)
	closeErr := events.Close(context.WithoutCancel(ctx))
	res := Result{Stats: stats, Positions: book.AllPositions()}
	if runErr != nil {
		return res, errors.Join(runErr, closeErr)
	}
	return res, closeErr
}
