package repository

import (
	"context"
	"database/sql"
	"fmt"

	"QuantSim/internal/domain/models"
	pkgch "QuantSim/pkg/clickhouse"
)

// CHEventSink stores trade events in ClickHouse using batched inserts.
type CHEventSink struct {
	db    *sql.DB
	table string
}

func NewCHEventSink(ch *pkgch.Client, table string) *CHEventSink {
	return &CHEventSink{db: ch.DB(), table: qualify(ch.Database(), table)}
}

func (s *CHEventSink) Name() string { return "clickhouse" }

func (s *CHEventSink) insert() string {
	return fmt.Sprintf("INSERT INTO %s (run_id, seq, kind, ts, symbol, strategy_id, signal_id, position_id, direction, price, size, pnl, reason, details)", s.table)
}

// WriteEvents inserts events in a single batch; clickhouse-go sends a
// prepared statement inside a transaction as one block.
func (s *CHEventSink) WriteEvents(ctx context.Context, events []models.TradeEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, s.insert())
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		details := ev.Details
		if details == nil {
			details = map[string]string{}
		}
		if _, err := stmt.ExecContext(ctx,
			ev.RunID, ev.Seq, string(ev.Kind), ev.Timestamp, ev.Symbol, ev.StrategyID,
			ev.SignalID, ev.PositionID, string(ev.Direction), ev.Price, ev.Size, ev.PnL,
			ev.Reason, details,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert event %d: %w", ev.Seq, err)
		}
	}
	return tx.Commit()
}

// Health pings the database.
func (s *CHEventSink) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool is owned by pkg/clickhouse.Client.
func (s *CHEventSink) Close() error { return nil }

func scanEvent(rows *sql.Rows) (models.TradeEvent, error) {
	var ev models.TradeEvent
	var kind, dir string
	err := rows.Scan(&ev.RunID, &ev.Seq, &kind, &ev.Timestamp, &ev.Symbol, &ev.StrategyID,
		&ev.SignalID, &ev.PositionID, &dir, &ev.Price, &ev.Size, &ev.PnL, &ev.Reason, &ev.Details)
	ev.Kind = models.EventKind(kind)
	ev.Direction = models.Direction(dir)
	return ev, err
}

// RunEvents reads back one run's events in sequence order.
func (s *CHEventSink) RunEvents(ctx context.Context, runID string) ([]models.TradeEvent, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
        SELECT run_id, seq, kind, ts, symbol, strategy_id, signal_id, position_id, direction, price, size, pnl, reason, details
        FROM %s FINAL
        WHERE run_id = ?
        ORDER BY seq ASC`, s.table), runID)
	if err != nil {
		return nil, fmt.Errorf("query run events: %w", err)
	}
	defer rows.Close()
	var out []models.TradeEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
