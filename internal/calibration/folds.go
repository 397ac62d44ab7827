package calibration

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"QuantSim/internal/domain/errs"
	"QuantSim/internal/domain/models"
)

// Period is a calendar length. Months are applied with time.AddDate.
type Period struct {
	Months int
	Days   int
}

// ParsePeriod accepts "<n>mo", "<n>y", "<n>w" and "<n>d", for example "2mo".
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	units := []struct {
		suffix string
		apply  func(n int) Period
	}{
		{"mo", func(n int) Period { return Period{Months: n} }},
		{"y", func(n int) Period { return Period{Months: 12 * n} }},
		{"w", func(n int) Period { return Period{Days: 7 * n} }},
		{"d", func(n int) Period { return Period{Days: n} }},
	}
	for _, u := range units {
		if !strings.HasSuffix(s, u.suffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(s, u.suffix))
		if err != nil || n <= 0 {
			break
		}
		return u.apply(n), nil
	}
	return Period{}, errs.Setupf("parse period", "invalid period %q", s)
}

func (p Period) IsZero() bool { return p.Months <= 0 && p.Days <= 0 }

func (p Period) AddTo(t time.Time) time.Time { return t.AddDate(0, p.Months, p.Days) }

func (p Period) SubFrom(t time.Time) time.Time { return t.AddDate(0, -p.Months, -p.Days) }

func (p Period) String() string {
	switch {
	case p.Months > 0 && p.Days == 0:
		return fmt.Sprintf("%dmo", p.Months)
	case p.Months == 0:
		return fmt.Sprintf("%dd", p.Days)
	default:
		return fmt.Sprintf("%dmo%dd", p.Months, p.Days)
	}
}

// GenerateFolds builds rolling walk-forward folds over [start, end). Test
// windows are contiguous: each starts where the previous one ended, and the
// train window is the period immediately before it. A fold is emitted only
// while its test window ends strictly before end.
func GenerateFolds(start, end time.Time, train, test Period) ([]models.Fold, error) {
	if train.IsZero() || test.IsZero() {
		return nil, errs.Setupf("generate folds", "train and test windows must be positive")
	}
	if !start.Before(end) {
		return nil, errs.Setupf("generate folds", "start %s not before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	var folds []models.Fold
	testStart := train.AddTo(start)
	for {
		testEnd := test.AddTo(testStart)
		if !testEnd.Before(end) {
			break
		}
		folds = append(folds, models.Fold{
			Index:      len(folds),
			TrainStart: train.SubFrom(testStart),
			TrainEnd:   testStart,
			TestStart:  testStart,
			TestEnd:    testEnd,
		})
		testStart = testEnd
	}
	if len(folds) == 0 {
		return nil, errs.Setupf("generate folds", "range %s..%s too short for train %s + test %s",
			start.Format("2006-01-02"), end.Format("2006-01-02"), train, test)
	}
	return folds, nil
}

// LastTestEnd is the end of the latest fold's test window.
func LastTestEnd(folds []models.Fold) time.Time {
	var last time.Time
	for _, f := range folds {
		if f.TestEnd.After(last) {
			last = f.TestEnd
		}
	}
	return last
}
