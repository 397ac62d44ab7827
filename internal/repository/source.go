package repository

import (
	"time"

	"QuantSim/internal/domain/models"
	"QuantSim/internal/services/market"
	applogger "QuantSim/pkg/logger"
)

// clean sanitizes raw bars, clips them to [start, end] and logs data-quality drops.
func clean(l *applogger.Logger, source, symbol string, raw []models.Bar, start, end time.Time) []models.Bar {
	bars, rep := market.Sanitize(symbol, raw)
	if rep.Dropped() > 0 && l != nil {
		l.Warn("data quality violations dropped",
			applogger.String("source", source),
			applogger.String("symbol", symbol),
			applogger.Int("dropped", rep.Dropped()),
			applogger.Any("violations", rep.Violations),
		)
	}
	lo, hi := 0, len(bars)
	for lo < hi && bars[lo].Timestamp.Before(start) {
		lo++
	}
	for hi > lo && bars[hi-1].Timestamp.After(end) {
		hi--
	}
	return bars[lo:hi]
}
