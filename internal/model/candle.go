package model

import (
	"encoding/json"
	"time"
)

// Candle is one OHLCV price observation for an instrument. A tick from the
// market feed is delivered as a Candle; for a raw trade print Open, High, Low
// and Close are all the traded price.
type Candle struct {
	Instrument string    `json:"instrument"`
	TS         time.Time `json:"ts"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
}

// Typical returns (high+low+close)/3, the price used for VWAP.
func (c *Candle) Typical() float64 {
	return (c.High + c.Low + c.Close) / 3
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
