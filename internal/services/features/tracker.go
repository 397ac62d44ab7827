package features

import (
	"math"

	"QuantSim/internal/domain/models"
)

// Regime thresholds relative to the rolling median volatility.
const (
	highVolRatio      = 1.5
	lowVolRatio       = 0.67
	minRegimeSamples  = 5
	defaultWindow     = 50
	defaultRegimeSize = 100
)

// Config sizes the rolling windows of a Tracker.
type Config struct {
	Window       int
	RegimeWindow int
	BarsPerYear  float64
}

func (c Config) withDefaults() Config {
	if c.Window < 2 {
		c.Window = defaultWindow
	}
	if c.RegimeWindow < 2 {
		c.RegimeWindow = defaultRegimeSize
	}
	if c.BarsPerYear <= 0 {
		c.BarsPerYear = 365 * 24
	}
	return c
}

// Tracker folds one symbol's bars into features incrementally. It only ever
// sees bars it was given, in order, so a snapshot can never depend on the future.
type Tracker struct {
	cfg        Config
	returns    *Ring
	changes    *Ring
	volumes    *Ring
	imbalances *Ring
	flows      *Ring
	flowVols   *Ring
	ranges     *Ring
	vols       *Ring
	prevClose  float64
	seen       int
	last       models.FeatureSnapshot
}

func NewTracker(cfg Config) *Tracker {
	cfg = cfg.withDefaults()
	return &Tracker{
		cfg:        cfg,
		returns:    NewRing(cfg.Window),
		changes:    NewRing(cfg.Window),
		volumes:    NewRing(cfg.Window),
		imbalances: NewRing(cfg.Window),
		flows:      NewRing(cfg.Window),
		flowVols:   NewRing(cfg.Window),
		ranges:     NewRing(cfg.Window),
		vols:       NewRing(cfg.RegimeWindow),
	}
}

// Update consumes the next bar and returns the snapshot as of that bar.
func (t *Tracker) Update(b models.Bar) models.FeatureSnapshot {
	values := make(map[string]float64, 5)

	t.ranges.Push(TrueRange(b, t.prevClose))
	t.flows.Push(CloseLocation(b) * b.Volume)
	t.flowVols.Push(b.Volume)

	if t.seen > 0 {
		r := LogReturn(t.prevClose, b.Close)
		values[models.FeatureLogReturn] = r
		t.returns.Push(r)

		change := b.Close - t.prevClose
		t.changes.Push(change)
		buy := b.Volume * BuyFraction(change, t.changes.Std())
		t.imbalances.Push(math.Abs(2*buy - b.Volume))
		t.volumes.Push(b.Volume)
	}

	if total := t.volumes.Sum(); total > 0 {
		values[models.FeatureVPIN] = t.imbalances.Sum() / total
	}

	if total := t.flowVols.Sum(); total > 0 {
		values[models.FeatureOFI] = t.flows.Sum() / total
	}

	values[models.FeatureATR] = t.ranges.Mean()

	regime := models.RegimeUnknown
	if t.returns.Len() >= 2 {
		vol := t.returns.Std() * math.Sqrt(t.cfg.BarsPerYear)
		values[models.FeatureVolatility] = vol
		if t.vols.Len() >= minRegimeSamples {
			regime = classify(vol, t.vols.Median())
		}
		t.vols.Push(vol)
	}

	t.prevClose = b.Close
	t.seen++
	t.last = models.FeatureSnapshot{
		Symbol:    b.Symbol,
		Timestamp: b.Timestamp,
		Regime:    regime,
		Values:    values,
	}
	return t.last
}

// Last returns the snapshot produced by the most recent Update.
func (t *Tracker) Last() models.FeatureSnapshot { return t.last }

// Seen is the number of bars consumed.
func (t *Tracker) Seen() int { return t.seen }

func classify(vol, median float64) models.VolatilityRegime {
	if median <= 0 {
		if vol > 0 {
			return models.RegimeHigh
		}
		return models.RegimeNormal
	}
	switch ratio := vol / median; {
	case ratio >= highVolRatio:
		return models.RegimeHigh
	case ratio <= lowVolRatio:
		return models.RegimeLow
	default:
		return models.RegimeNormal
	}
}

// Bank holds one Tracker per symbol.
type Bank struct {
	cfg      Config
	trackers map[string]*Tracker
}

func NewBank(cfg Config) *Bank {
	return &Bank{cfg: cfg, trackers: make(map[string]*Tracker)}
}

// Update routes b to its symbol's tracker.
func (k *Bank) Update(b models.Bar) models.FeatureSnapshot {
	tr, ok := k.trackers[b.Symbol]
	if !ok {
		tr = NewTracker(k.cfg)
		k.trackers[b.Symbol] = tr
	}
	return tr.Update(b)
}

// Snapshot returns the latest snapshot for symbol.
func (k *Bank) Snapshot(symbol string) (models.FeatureSnapshot, bool) {
	tr, ok := k.trackers[symbol]
	if !ok {
		return models.FeatureSnapshot{}, false
	}
	return tr.Last(), true
}
