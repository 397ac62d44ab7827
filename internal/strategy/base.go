package strategy

import (
	"sort"
	"time"

	"QuantSim/internal/domain/models"
)

// seen remembers the last bar folded per symbol so strategies only process
// the bars they have not consumed yet.
type seen map[string]time.Time

func (s seen) fresh(symbol string, h models.Series) models.Series {
	last, ok := s[symbol]
	if b, has := h.Last(); has {
		s[symbol] = b.Timestamp
	}
	if !ok {
		return h
	}
	i := sort.Search(len(h), func(i int) bool { return h[i].Timestamp.After(last) })
	return h[i:]
}

// bracket places stop and target around entry from an ATR distance.
func bracket(dir models.Direction, entry, atr, atrMult, rr float64) (stop, target float64) {
	risk := atr * atrMult
	if dir == models.Long {
		return entry - risk, entry + rr*risk
	}
	return entry + risk, entry - rr*risk
}

func signal(dir models.Direction, b models.Bar, stop, target float64, meta map[string]string) []models.Signal {
	return []models.Signal{{
		Direction:  dir,
		EntryPrice: b.Close,
		StopLoss:   stop,
		TakeProfit: target,
		SizingHint: 1,
		Metadata:   meta,
	}}
}
