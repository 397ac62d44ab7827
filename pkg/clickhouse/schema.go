package clickhouse

import "fmt"

// Schema returns the DDL for the candles and trade-events tables.
func Schema(database, candlesTable, eventsTable string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    symbol LowCardinality(String),
    timeframe LowCardinality(String),
    bucket DateTime64(3, 'UTC'),
    open Float64,
    high Float64,
    low Float64,
    close Float64,
    volume Float64
) ENGINE = ReplacingMergeTree
ORDER BY (symbol, timeframe, bucket)`, database, candlesTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    run_id String,
    seq UInt64,
    kind LowCardinality(String),
    ts DateTime64(3, 'UTC'),
    symbol LowCardinality(String),
    strategy_id LowCardinality(String),
    signal_id String,
    position_id String,
    direction LowCardinality(String),
    price Float64,
    size Float64,
    pnl Float64,
    reason String,
    details Map(String, String)
) ENGINE = ReplacingMergeTree
ORDER BY (run_id, seq)`, database, eventsTable),
	}
}
