package markethours

import (
	"testing"
	"time"
)

func TestDayKeyUsesIST(t *testing.T) {
	// 20:00 UTC is already the next day in IST.
	ts := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	if got := DayKey(ts); got != "2026-03-03" {
		t.Errorf("DayKey = %s, want 2026-03-03", got)
	}
}

func TestInWindow(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2026, 3, 3, h, m, 0, 0, IST) }

	cases := []struct {
		ts         time.Time
		start, end string
		want       bool
	}{
		{at(9, 14), "09:15", "15:00", false},
		{at(9, 15), "09:15", "15:00", true},
		{at(14, 59), "09:15", "15:00", true},
		{at(15, 0), "09:15", "15:00", false},
		{at(3, 0), "", "15:00", true},
		{at(23, 0), "09:15", "", true},
	}
	for _, c := range cases {
		got, err := InWindow(c.ts, c.start, c.end)
		if err != nil {
			t.Fatalf("InWindow: %v", err)
		}
		if got != c.want {
			t.Errorf("InWindow(%s, %s, %s) = %v, want %v", c.ts.Format("15:04"), c.start, c.end, got, c.want)
		}
	}

	if _, err := InWindow(at(10, 0), "9am", ""); err == nil {
		t.Error("expected parse error")
	}
}

func TestPastSquareOff(t *testing.T) {
	ts := time.Date(2026, 3, 3, 15, 20, 0, 0, IST)
	if ok, _ := PastSquareOff(ts, "15:20"); !ok {
		t.Error("15:20 should be past 15:20 square-off")
	}
	if ok, _ := PastSquareOff(ts.Add(-time.Minute), "15:20"); ok {
		t.Error("15:19 should not be past square-off")
	}
	if ok, _ := PastSquareOff(ts, ""); ok {
		t.Error("empty clock never triggers")
	}
}

func TestMarketOpen(t *testing.T) {
	tue := time.Date(2026, 3, 3, 10, 0, 0, 0, IST)
	if !IsMarketOpen(tue) {
		t.Error("Tuesday 10:00 should be open")
	}
	sat := time.Date(2026, 3, 7, 10, 0, 0, 0, IST)
	if IsMarketOpen(sat) {
		t.Error("Saturday should be closed")
	}
	republic := time.Date(2026, 1, 26, 10, 0, 0, 0, IST)
	if IsMarketOpen(republic) || HolidayName(republic) != "Republic Day" {
		t.Error("Republic Day should be a holiday")
	}
	if got := SessionOpen(tue).Format("15:04"); got != "09:15" {
		t.Errorf("SessionOpen = %s", got)
	}
}
