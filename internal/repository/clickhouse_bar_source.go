package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"QuantSim/internal/domain/errs"
	"QuantSim/internal/domain/models"
	domrepo "QuantSim/internal/domain/repository"
	pkgch "QuantSim/pkg/clickhouse"
	applogger "QuantSim/pkg/logger"
)

// CHBarSource loads candles from a ClickHouse table keyed by (symbol, timeframe, bucket).
type CHBarSource struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHBarSource(ch *pkgch.Client, table string) *CHBarSource {
	return &CHBarSource{db: ch.DB(), table: qualify(ch.Database(), table)}
}

// SetLogger injects a structured logger.
func (s *CHBarSource) SetLogger(l *applogger.Logger) { s.l = l }

func qualify(database, table string) string {
	if database == "" {
		return table
	}
	return database + "." + table
}

func (s *CHBarSource) query() string {
	return fmt.Sprintf(`
        SELECT bucket, open, high, low, close, volume
        FROM %s
        WHERE symbol = ? AND timeframe = ? AND bucket >= ? AND bucket <= ?
        ORDER BY bucket ASC
    `, s.table)
}

func (s *CHBarSource) Load(ctx context.Context, symbol string, tf domrepo.Timeframe, start, end time.Time) ([]models.Bar, error) {
	began := time.Now()
	rows, err := s.db.QueryContext(ctx, s.query(), symbol, string(tf), start, end)
	if err != nil {
		s.logErr("query", symbol, tf, err)
		return nil, errs.Setup("clickhouse load bars", err)
	}
	defer rows.Close()

	raw := make([]models.Bar, 0, 1024)
	for rows.Next() {
		b := models.Bar{Symbol: symbol}
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			s.logErr("scan", symbol, tf, err)
			return nil, errs.Setup("clickhouse scan bar", err)
		}
		b.Timestamp = b.Timestamp.UTC()
		raw = append(raw, b)
	}
	if err := rows.Err(); err != nil {
		s.logErr("rows", symbol, tf, err)
		return nil, errs.Setup("clickhouse rows", err)
	}

	bars := clean(s.l, "clickhouse", symbol, raw, start, end)
	if s.l != nil {
		s.l.Info("clickhouse bars loaded",
			applogger.String("table", s.table),
			applogger.String("symbol", symbol),
			applogger.String("tf", string(tf)),
			applogger.Int("rows", len(bars)),
			applogger.Duration("duration_ms", time.Since(began)),
		)
	}
	return bars, nil
}

func (s *CHBarSource) logErr(stage, symbol string, tf domrepo.Timeframe, err error) {
	if s.l == nil {
		return
	}
	s.l.Error("clickhouse load bars "+stage+" error",
		applogger.String("table", s.table),
		applogger.String("symbol", symbol),
		applogger.String("tf", string(tf)),
		applogger.Error(err),
	)
}

// StoreBars upserts bars; used to seed the table from CSV exports.
func (s *CHBarSource) StoreBars(ctx context.Context, tf domrepo.Timeframe, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (symbol, timeframe, bucket, open, high, low, close, volume)", s.table))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()
	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.Symbol, string(tf), b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert bar: %w", err)
		}
	}
	return tx.Commit()
}
