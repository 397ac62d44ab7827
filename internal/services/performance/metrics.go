// Package performance rolls an equity curve and closed trades up into run statistics.
package performance

import (
	"math"
	"time"

	"QuantSim/internal/domain/models"
)

const (
	// profitFactorCap stands in for an infinite profit factor (no losing trades).
	profitFactorCap = 999
	// ratioCap bounds sortino and calmar when there is no downside to divide by.
	ratioCap = 10
)

// Point is one mark of the equity curve.
type Point struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// Returns converts an equity curve into simple per-step returns.
func Returns(eq []Point) []float64 {
	if len(eq) < 2 {
		return nil
	}
	out := make([]float64, 0, len(eq)-1)
	for i := 1; i < len(eq); i++ {
		prev := eq[i-1].Equity
		if prev <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, eq[i].Equity/prev-1)
	}
	return out
}

// MaxDrawdownPct is the largest peak-to-trough decline, in percent (positive).
func MaxDrawdownPct(eq []Point) float64 {
	if len(eq) == 0 {
		return 0
	}
	peak := eq[0].Equity
	dd := 0.0
	for _, p := range eq {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak <= 0 {
			continue
		}
		if d := (peak - p.Equity) / peak * 100; d > dd {
			dd = d
		}
	}
	return dd
}

// Sharpe is the annualised mean over sample std of per-step returns.
func Sharpe(rets []float64, barsPerYear float64) float64 {
	if len(rets) < 2 {
		return 0
	}
	m := mean(rets)
	sd := sampleStd(rets, m)
	if sd == 0 {
		return 0
	}
	return m / sd * math.Sqrt(barsPerYear)
}

// Sortino divides by downside deviation only.
func Sortino(rets []float64, barsPerYear float64) float64 {
	if len(rets) < 2 {
		return 0
	}
	m := mean(rets)
	ss := 0.0
	for _, r := range rets {
		if r < 0 {
			ss += r * r
		}
	}
	dd := math.Sqrt(ss / float64(len(rets)))
	if dd == 0 {
		if m > 0 {
			return ratioCap
		}
		return 0
	}
	return m / dd * math.Sqrt(barsPerYear)
}

// Calmar is annualised return (percent) over max drawdown (percent).
func Calmar(rets []float64, maxDDPct, barsPerYear float64) float64 {
	if len(rets) == 0 {
		return 0
	}
	annual := mean(rets) * barsPerYear * 100
	if maxDDPct == 0 {
		if annual > 0 {
			return ratioCap
		}
		return 0
	}
	return math.Min(annual/maxDDPct, ratioCap)
}

// Compute builds the full metric set. Only CLOSED positions count as trades.
func Compute(eq []Point, positions []models.Position, barsPerYear float64) models.PerformanceMetrics {
	rets := Returns(eq)
	dd := MaxDrawdownPct(eq)

	m := models.PerformanceMetrics{
		Sharpe:         Sharpe(rets, barsPerYear),
		Sortino:        Sortino(rets, barsPerYear),
		Calmar:         Calmar(rets, dd, barsPerYear),
		MaxDrawdownPct: dd,
	}
	if len(eq) >= 2 && eq[0].Equity > 0 {
		m.TotalReturnPct = (eq[len(eq)-1].Equity/eq[0].Equity - 1) * 100
	}

	var wins int
	var gross, loss, rSum float64
	for i := range positions {
		p := &positions[i]
		if p.State != models.PositionClosed {
			continue
		}
		m.TotalTrades++
		if p.RealizedPnL > 0 {
			wins++
			gross += p.RealizedPnL
		} else {
			loss += -p.RealizedPnL
		}
		rSum += p.RMultiple()
	}
	if m.TotalTrades > 0 {
		m.WinRate = float64(wins) / float64(m.TotalTrades)
		m.ExpectancyR = rSum / float64(m.TotalTrades)
	}
	switch {
	case loss > 0:
		m.ProfitFactor = gross / loss
	case gross > 0:
		m.ProfitFactor = profitFactorCap
	}
	return m
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func sampleStd(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	ss := 0.0
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
