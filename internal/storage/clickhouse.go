package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/config"
)

// HistoryTable holds one row per completed resolution run
const HistoryTable = "portfolio_history"

// HistoryDB is the ClickHouse connection behind the portfolio value
// history. Writes are a single small row per resolution run, so inserts
// go through the server-side async insert buffer and the pool stays small.
type HistoryDB struct {
	conn driver.Conn
}

// historyOptions builds the connection options for the history store
func historyOptions(cfg *config.ClickHouseConfig) *clickhouse.Options {
	return &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time":    30,
			"async_insert":          1,
			"wait_for_async_insert": 1,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:      5 * time.Second,
		MaxOpenConns:     2,
		MaxIdleConns:     1,
		ConnMaxLifetime:  30 * time.Minute,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	}
}

// NewHistoryDB connects to ClickHouse and verifies the server answers
func NewHistoryDB(ctx context.Context, cfg *config.ClickHouseConfig) (*HistoryDB, error) {
	conn, err := clickhouse.Open(historyOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &HistoryDB{conn: conn}, nil
}

// HistoryReady reports whether the history table exists in the connected
// database. It is false until the ClickHouse migrations have been applied.
func (db *HistoryDB) HistoryReady(ctx context.Context) (bool, error) {
	var n uint64
	err := db.conn.QueryRow(ctx, `
		SELECT count()
		FROM system.tables
		WHERE database = currentDatabase() AND name = ?
	`, HistoryTable).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up %s table: %w", HistoryTable, err)
	}
	return n > 0, nil
}

// Close closes the ClickHouse connection
func (db *HistoryDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying ClickHouse connection
func (db *HistoryDB) Conn() driver.Conn {
	return db.conn
}

// Exec runs a DDL statement for the migration runner
func (db *HistoryDB) Exec(ctx context.Context, query string, args ...interface{}) error {
	return db.conn.Exec(ctx, query, args...)
}
