package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"autotrader-simv1/internal/model"
)

// Reader provides read-only access to recorded ticks for replay.
type Reader struct {
	db *sql.DB
}

var _ model.CandleReader = (*Reader)(nil)

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	slog.Info("opened tick store reader", "path", dbPath)
	return &Reader{db: db}, nil
}

// ReadCandles returns recorded ticks at or after from, ordered by time then
// instrument. An empty instrument list reads every instrument.
func (r *Reader) ReadCandles(instruments []string, from time.Time) ([]model.Candle, error) {
	query := `SELECT instrument, ts, open, high, low, close, volume FROM ticks WHERE ts >= ?`
	args := []any{from.UnixNano()}
	if from.IsZero() {
		args[0] = int64(0)
	}
	if len(instruments) > 0 {
		query += ` AND instrument IN (?` + strings.Repeat(",?", len(instruments)-1) + `)`
		for _, inst := range instruments {
			args = append(args, inst)
		}
	}
	query += ` ORDER BY ts ASC, instrument ASC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query ticks: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var (
			c      model.Candle
			ts     int64
			volume sql.NullFloat64
		)
		if err := rows.Scan(&c.Instrument, &ts, &c.Open, &c.High, &c.Low, &c.Close, &volume); err != nil {
			return nil, fmt.Errorf("sqlite scan ticks: %w", err)
		}
		c.TS = time.Unix(0, ts).UTC()
		c.Volume = volume.Float64
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// Instruments lists every instrument with recorded ticks.
func (r *Reader) Instruments() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT instrument FROM ticks ORDER BY instrument`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query instruments: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
