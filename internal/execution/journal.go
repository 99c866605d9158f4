package execution

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"autotrader-simv1/internal/model"
)

// Journal persists orders and closed trades to SQLite for audit and reports.
// It implements model.TradeRecorder.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

var _ model.TradeRecorder = (*Journal)(nil)

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		id               TEXT PRIMARY KEY,
		strategy_id      TEXT NOT NULL,
		instrument       TEXT NOT NULL,
		side             TEXT NOT NULL,
		order_type       TEXT NOT NULL,
		qty              INTEGER NOT NULL,
		status           TEXT NOT NULL,
		reference_price  REAL DEFAULT 0,
		filled_qty       INTEGER DEFAULT 0,
		filled_price     REAL DEFAULT 0,
		position_id      TEXT,
		rejection_reason TEXT,
		created_at       DATETIME NOT NULL,
		updated_at       DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS trades (
		id           TEXT PRIMARY KEY,
		position_id  TEXT NOT NULL,
		strategy_id  TEXT NOT NULL,
		instrument   TEXT NOT NULL,
		side         TEXT NOT NULL,
		qty          INTEGER NOT NULL,
		entry_price  REAL NOT NULL,
		exit_price   REAL NOT NULL,
		realized_pnl REAL NOT NULL,
		executed_at  DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_strategy ON orders(strategy_id);
	CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades(strategy_id);
	CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	slog.Info("opened trade journal", "path", dbPath)
	return &Journal{db: db}, nil
}

// RecordOrder upserts the latest state of an order.
func (j *Journal) RecordOrder(ctx context.Context, o model.Order) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO orders (id, strategy_id, instrument, side, order_type, qty, status,
			reference_price, filled_qty, filled_price, position_id, rejection_reason, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			reference_price = excluded.reference_price,
			filled_qty = excluded.filled_qty,
			filled_price = excluded.filled_price,
			rejection_reason = excluded.rejection_reason,
			updated_at = excluded.updated_at`,
		o.ID, o.StrategyID, o.Instrument, string(o.Side), string(o.Type), o.Quantity, string(o.Status),
		o.ReferencePrice, o.FilledQuantity, o.FilledPrice, o.PositionID, o.RejectionReason,
		o.CreatedAt.UTC().Format(time.RFC3339Nano), o.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// RecordTrade appends a closed round trip.
func (j *Journal) RecordTrade(ctx context.Context, t model.Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO trades (id, position_id, strategy_id, instrument, side, qty,
			entry_price, exit_price, realized_pnl, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.PositionID, t.StrategyID, t.Instrument, string(t.Side), t.Quantity,
		t.EntryPrice, t.ExitPrice, t.RealizedPnL, t.ExecutedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetTrades returns the last N trades, newest first.
func (j *Journal) GetTrades(ctx context.Context, limit int) ([]model.Trade, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, position_id, strategy_id, instrument, side, qty, entry_price, exit_price, realized_pnl, executed_at
		 FROM trades ORDER BY executed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var (
			t    model.Trade
			side string
			ts   string
		)
		if err := rows.Scan(&t.ID, &t.PositionID, &t.StrategyID, &t.Instrument, &side, &t.Quantity,
			&t.EntryPrice, &t.ExitPrice, &t.RealizedPnL, &ts); err != nil {
			return nil, err
		}
		t.Side = model.Side(side)
		t.ExecutedAt, _ = time.Parse(time.RFC3339Nano, ts)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// OrderStatusCounts returns the number of journaled orders per status.
func (j *Journal) OrderStatusCounts(ctx context.Context) (map[model.OrderStatus]int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[model.OrderStatus]int)
	for rows.Next() {
		var (
			s string
			n int
		)
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[model.OrderStatus(s)] = n
	}
	return out, rows.Err()
}

// DB exposes the handle for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
