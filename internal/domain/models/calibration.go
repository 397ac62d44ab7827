package models

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Params is a named set of strategy hyperparameters.
type Params map[string]float64

// Float returns the value for key or def.
func (p Params) Float(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Int returns the value for key truncated to int, or def.
func (p Params) Int(key string, def int) int {
	if v, ok := p[key]; ok {
		return int(v)
	}
	return def
}

// Clone returns a copy that shares no storage with p.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge returns a copy of p overlaid with o.
func (p Params) Merge(o Params) Params {
	out := p.Clone()
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Key is a canonical string form: keys sorted, "k=v" joined by commas.
func (p Params) Key() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(p[k], 'g', -1, 64))
	}
	return b.String()
}

// Fold is one walk-forward split. Windows are half-open [start, end).
type Fold struct {
	Index      int       `json:"index"`
	TrainStart time.Time `json:"train_start"`
	TrainEnd   time.Time `json:"train_end"`
	TestStart  time.Time `json:"test_start"`
	TestEnd    time.Time `json:"test_end"`
}

// PerformanceMetrics summarises one simulation run.
type PerformanceMetrics struct {
	Sharpe         float64 `json:"sharpe"`
	Sortino        float64 `json:"sortino"`
	Calmar         float64 `json:"calmar"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	WinRate        float64 `json:"win_rate"`
	ProfitFactor   float64 `json:"profit_factor"`
	ExpectancyR    float64 `json:"expectancy_r"`
	TotalTrades    int     `json:"total_trades"`
	TotalReturnPct float64 `json:"total_return_pct"`
}

// FoldMetrics is the out-of-sample result of one fold.
type FoldMetrics struct {
	Fold int `json:"fold"`
	PerformanceMetrics
}

// CalibrationResult is the evaluation of one parameter combination.
type CalibrationResult struct {
	StrategyID     string        `json:"strategy_id"`
	Params         Params        `json:"params"`
	Folds          []FoldMetrics `json:"folds"`
	SharpeMean     float64       `json:"sharpe_mean"`
	SharpeStd      float64       `json:"sharpe_std"`
	CalmarMean     float64       `json:"calmar_mean"`
	CalmarStd      float64       `json:"calmar_std"`
	TotalTrades    int           `json:"total_trades"`
	ObjectiveScore float64       `json:"objective_score"`
}

// Verdict is the hold-out classification of calibrated parameters.
type Verdict string

const (
	VerdictAdopt  Verdict = "ADOPT"
	VerdictPilot  Verdict = "PILOT"
	VerdictReject Verdict = "REJECT"
)

// HoldOutReport compares baseline and calibrated parameters out of sample.
type HoldOutReport struct {
	StrategyID        string             `json:"strategy_id"`
	Start             time.Time          `json:"start"`
	End               time.Time          `json:"end"`
	BaselineParams    Params             `json:"baseline_params"`
	CalibratedParams  Params             `json:"calibrated_params"`
	Baseline          PerformanceMetrics `json:"baseline"`
	Calibrated        PerformanceMetrics `json:"calibrated"`
	SharpeImprovement float64            `json:"sharpe_improvement"`
	CalmarImprovement float64            `json:"calmar_improvement"`
	Verdict           Verdict            `json:"verdict"`
}

// RunStats is the summary of one scheduler run. Counters are always
// populated, including on partial failure.
type RunStats struct {
	RunID           string             `json:"run_id"`
	Start           time.Time          `json:"start"`
	End             time.Time          `json:"end"`
	Timestamps      int                `json:"timestamps"`
	TotalSignals    int                `json:"total_signals"`
	SignalsApproved int                `json:"signals_approved"`
	SignalsRejected int                `json:"signals_rejected"`
	StrategyFaults  int                `json:"strategy_faults"`
	FaultsByID      map[string]int     `json:"faults_by_strategy,omitempty"`
	ArbiterDropped  int                `json:"arbiter_dropped"`
	OpenAtEnd       int                `json:"open_at_end"`
	ForcedExits     int                `json:"forced_exits"`
	Cancelled       bool               `json:"cancelled"`
	Performance     PerformanceMetrics `json:"performance"`
}
