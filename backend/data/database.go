// Package data provides durable, time-ordered persistence for orders,
// trades, positions, risk incidents, and audit log entries.
package data

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Pool sizing: up to 20 open and 2 idle connections. No statement timeout
// is set here or in Repository; a query is bounded only by the context its
// caller passes.
const (
	minOpenConns    = 2
	maxOpenConns    = 20
	connMaxIdleTime = 5 * time.Minute
)

// DB wraps the sqlx database connection.
type DB struct {
	*sqlx.DB
}

// NewDB opens (creating if necessary) the SQLite database at databasePath
// and runs migrations.
func NewDB(databasePath string) (*DB, error) {
	dir := filepath.Dir(databasePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sqlx.Connect("sqlite", databasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(minOpenConns)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	log.Info().Str("path", databasePath).Msg("connected to database")

	wrapper := &DB{db}
	if err := wrapper.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return wrapper, nil
}

// Migrate runs the schema migration. Implementations MAY time-partition
// the large tables (orders, positions, trades, incidents) by their primary
// timestamp; this implementation keeps a single partition per table and
// relies on indexes for query performance.
func (db *DB) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		client_order_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		strategy_id TEXT,
		model_id TEXT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		type TEXT NOT NULL,
		quantity TEXT NOT NULL,
		filled_quantity TEXT NOT NULL DEFAULT '0',
		price TEXT NOT NULL DEFAULT '0',
		stop_price TEXT NOT NULL DEFAULT '0',
		limit_price TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		rejection_reason TEXT,
		broker_order_id TEXT,
		commission TEXT NOT NULL DEFAULT '0',
		swap TEXT NOT NULL DEFAULT '0',
		realized_profit TEXT NOT NULL DEFAULT '0',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		opened_at DATETIME,
		closed_at DATETIME,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_client_order_id ON orders(client_order_id);
	CREATE INDEX IF NOT EXISTS idx_orders_account_status ON orders(account_id, status);
	CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at);

	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		price TEXT NOT NULL,
		commission TEXT NOT NULL DEFAULT '0',
		broker_trade_id TEXT,
		executed_at DATETIME NOT NULL,
		FOREIGN KEY (order_id) REFERENCES orders(id)
	);

	CREATE INDEX IF NOT EXISTS idx_trades_order_id ON trades(order_id);

	CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		entry_price TEXT NOT NULL,
		current_price TEXT NOT NULL DEFAULT '0',
		unrealized_pl TEXT NOT NULL DEFAULT '0',
		realized_pl TEXT NOT NULL DEFAULT '0',
		opened_at DATETIME NOT NULL,
		closed_at DATETIME,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_positions_account_symbol ON positions(account_id, symbol);
	CREATE INDEX IF NOT EXISTS idx_positions_open ON positions(account_id, closed_at);

	CREATE TABLE IF NOT EXISTS risk_incidents (
		id TEXT PRIMARY KEY,
		rule_type TEXT,
		rule_params TEXT,
		observed TEXT,
		threshold TEXT,
		account_id TEXT NOT NULL,
		order_id TEXT,
		action_taken TEXT NOT NULL,
		triggered_by TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_risk_incidents_account ON risk_incidents(account_id, timestamp);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id TEXT,
		detail TEXT,
		ip_address TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp);

	CREATE TABLE IF NOT EXISTS system_config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		metadata TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_created_at ON notifications(created_at);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Info().Msg("database migrations complete")
	return nil
}
