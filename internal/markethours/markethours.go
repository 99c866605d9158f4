// Package markethours holds the NSE session calendar in IST: the trading day
// key used for daily risk counters, per-strategy trading windows and the
// intraday square-off clock.
package markethours

import (
	"fmt"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Market hours in IST
const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30
)

// DefaultSquareOff is the broker auto square-off time for intraday positions.
const DefaultSquareOff = "15:20"

// DayKey returns the IST calendar date of t as YYYY-MM-DD. Daily risk
// counters roll over when this key changes.
func DayKey(t time.Time) string {
	return t.In(IST).Format("2006-01-02")
}

// Clock is a wall-clock time of day in IST.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("markethours: bad clock %q: %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c Clock) minutes() int { return c.Hour*60 + c.Minute }

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// On returns the instant of c on t's IST calendar day.
func (c Clock) On(t time.Time) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), c.Hour, c.Minute, 0, 0, IST)
}

func minuteOfDay(t time.Time) int {
	ist := t.In(IST)
	return ist.Hour()*60 + ist.Minute()
}

// InWindow reports whether t falls in [start, end) on its IST day.
// An empty start or end leaves that side open.
func InWindow(t time.Time, start, end string) (bool, error) {
	m := minuteOfDay(t)
	if start != "" {
		c, err := ParseClock(start)
		if err != nil {
			return false, err
		}
		if m < c.minutes() {
			return false, nil
		}
	}
	if end != "" {
		c, err := ParseClock(end)
		if err != nil {
			return false, err
		}
		if m >= c.minutes() {
			return false, nil
		}
	}
	return true, nil
}

// PastSquareOff reports whether t is at or after the hh:mm square-off clock.
// An empty clock never triggers.
func PastSquareOff(t time.Time, hhmm string) (bool, error) {
	if hhmm == "" {
		return false, nil
	}
	c, err := ParseClock(hhmm)
	if err != nil {
		return false, err
	}
	return minuteOfDay(t) >= c.minutes(), nil
}

// IsMarketOpen returns true if t falls within NSE trading hours
// (9:15 AM – 3:30 PM IST, Mon–Fri, excluding holidays).
func IsMarketOpen(t time.Time) bool {
	if !IsTradingDay(t) {
		return false
	}
	hm := minuteOfDay(t)
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	wd := t.In(IST).Weekday()
	return wd >= time.Monday && wd <= time.Friday && !IsHoliday(t)
}

// SessionOpen returns the market open on t's IST day.
func SessionOpen(t time.Time) time.Time {
	return Clock{OpenHour, OpenMinute}.On(t)
}
