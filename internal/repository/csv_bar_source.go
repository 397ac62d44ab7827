package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"QuantSim/internal/domain/errs"
	"QuantSim/internal/domain/models"
	domrepo "QuantSim/internal/domain/repository"
	applogger "QuantSim/pkg/logger"
	"QuantSim/pkg/util"
)

// CSVBarSource reads <dir>/<SYMBOL>_<tf>.csv files with a
// timestamp,open,high,low,close,volume header. Timestamps are RFC 3339 or
// unix epoch seconds or milliseconds.
type CSVBarSource struct {
	dir string
	l   *applogger.Logger
}

func NewCSVBarSource(dir string) *CSVBarSource {
	return &CSVBarSource{dir: dir}
}

// SetLogger injects a structured logger.
func (s *CSVBarSource) SetLogger(l *applogger.Logger) { s.l = l }

// Path is the file that holds symbol bars at tf.
func (s *CSVBarSource) Path(symbol string, tf domrepo.Timeframe) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.csv", symbol, tf))
}

func (s *CSVBarSource) Load(ctx context.Context, symbol string, tf domrepo.Timeframe, start, end time.Time) ([]models.Bar, error) {
	path := s.Path(symbol, tf)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errs.Setupf("load csv", "no data for %s at %s: %s", symbol, tf, path)
		}
		return nil, errs.Setup("load csv", err)
	}
	defer f.Close()

	raw, err := ReadBarsCSV(ctx, f, symbol, s.l)
	if err != nil {
		return nil, errs.Setup("load csv "+path, err)
	}
	return clean(s.l, "csv", symbol, raw, start, end), nil
}

var csvColumns = []string{"timestamp", "open", "high", "low", "close", "volume"}

// ReadBarsCSV parses bars from r. Rows that cannot be parsed are skipped and
// logged, like any other data-quality violation.
func ReadBarsCSV(ctx context.Context, r io.Reader, symbol string, l *applogger.Logger) ([]models.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range csvColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	var out []models.Bar
	skipped := 0
	for line := 2; ; line++ {
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		bar, err := parseRow(rec, idx, symbol)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, bar)
	}
	if skipped > 0 && l != nil {
		l.Warn("csv rows skipped", applogger.String("symbol", symbol), applogger.Int("rows", skipped))
	}
	return out, nil
}

func parseRow(rec []string, idx map[string]int, symbol string) (models.Bar, error) {
	ts, err := util.ParseTime(rec[idx["timestamp"]])
	if err != nil {
		return models.Bar{}, err
	}
	vals := make([]float64, 5)
	for i, col := range csvColumns[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[idx[col]]), 64)
		if err != nil {
			return models.Bar{}, fmt.Errorf("parse %s: %w", col, err)
		}
		vals[i] = v
	}
	return models.Bar{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

// WriteBarsCSV writes bars in the format ReadBarsCSV expects.
func WriteBarsCSV(w io.Writer, bars []models.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvColumns); err != nil {
		return err
	}
	for _, b := range bars {
		rec := []string{
			b.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatFloat(b.Volume, 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
