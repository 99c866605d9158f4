// Package sqlite records consumed ticks so a session can be replayed later.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"autotrader-simv1/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath     string        // e.g. "data/ticks.db"
	BatchSize  int           // candles per transaction, default 100
	FlushDelay time.Duration // max time a candle waits in the batch, default 200ms
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db         *sql.DB
	batchSize  int
	flushDelay time.Duration
}

var _ model.CandleWriter = (*Writer)(nil)

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	w := &Writer{db: db, batchSize: cfg.BatchSize, flushDelay: cfg.FlushDelay}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.flushDelay <= 0 {
		w.flushDelay = defaultFlushDelay
	}
	slog.Info("opened tick store", "path", cfg.DBPath)
	return w, nil
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS ticks (
			instrument TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			volume     REAL,
			PRIMARY KEY (instrument, ts)
		);
		CREATE INDEX IF NOT EXISTS idx_ticks_ts ON ticks(ts);
	`)
	return err
}

// Run reads candles from candleCh and inserts them in batched transactions.
// Flushes every BatchSize candles or every FlushDelay, whichever comes first.
// Blocks until ctx is cancelled or candleCh is closed.
func (w *Writer) Run(ctx context.Context, candleCh <-chan model.Candle) {
	batch := make([]model.Candle, 0, w.batchSize)
	timer := time.NewTimer(w.flushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBatch(batch); err != nil {
			slog.Error("tick batch insert failed", "candles", len(batch), "error", err)
		} else {
			slog.Debug("ticks committed", "candles", len(batch), "took", time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case c, ok := <-candleCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, c)
			if len(batch) >= w.batchSize {
				flush()
				timer.Reset(w.flushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(w.flushDelay)
		}
	}
}

func (w *Writer) insertBatch(candles []model.Candle) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO ticks (instrument, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.Exec(c.Instrument, c.TS.UnixNano(), c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LastTimestamp returns the newest stored tick time for instrument, or the
// zero time when none exist.
func (w *Writer) LastTimestamp(instrument string) (time.Time, error) {
	var ts sql.NullInt64
	err := w.db.QueryRow(`SELECT MAX(ts) FROM ticks WHERE instrument = ?`, instrument).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(0, ts.Int64).UTC(), nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
