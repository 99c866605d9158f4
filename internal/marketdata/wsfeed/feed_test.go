package wsfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"autotrader-simv1/internal/metrics"
	"autotrader-simv1/internal/model"
)

// tickServer sends the given messages on every connection, then either holds
// the connection open or drops it.
func tickServer(t *testing.T, msgs []string, drop bool) (*httptest.Server, *int32) {
	t.Helper()
	var conns int32
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		atomic.AddInt32(&conns, 1)
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		if drop {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func recv(t *testing.T, ch <-chan model.Candle) model.Candle {
	t.Helper()
	select {
	case c, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for candle")
	}
	return model.Candle{}
}

func TestFeedFiltersAndParses(t *testing.T) {
	srv, _ := tickServer(t, []string{
		`{"instrument":"BANKNIFTY","close":48000}`,
		`not json`,
		`{"instrument":"NIFTY","ts":"2026-03-03T09:15:00+05:30","close":22004.5,"volume":12}`,
		`{"instrument":"NIFTY","close":0}`,
		`{"instrument":"NIFTY","ts":"2026-03-03T09:15:01+05:30","close":22005}`,
	}, false)

	health := metrics.NewHealthStatus()
	f, err := New(Config{URL: wsURL(srv)}, nil, health)
	if err != nil {
		t.Fatal(err)
	}
	ch, err := f.Subscribe(context.Background(), "NIFTY")
	if err != nil {
		t.Fatal(err)
	}

	first := recv(t, ch)
	if first.Instrument != "NIFTY" || first.Close != 22004.5 || first.Volume != 12 {
		t.Fatalf("first = %+v", first)
	}
	if second := recv(t, ch); second.Close != 22005 {
		t.Fatalf("second = %+v", second)
	}
	if !f.IsActive() {
		t.Fatal("feed should be active")
	}
	if _, err := f.Subscribe(context.Background()); err != ErrAlreadySubscribed {
		t.Fatalf("second subscribe err = %v", err)
	}

	f.Unsubscribe()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
	if f.IsActive() {
		t.Fatal("feed should be inactive")
	}
}

func TestFeedReconnects(t *testing.T) {
	srv, conns := tickServer(t, []string{`{"instrument":"NIFTY","close":100}`}, true)

	f, err := New(Config{URL: wsURL(srv), ReconnectDelay: 5 * time.Millisecond, MaxReconnectDelay: 10 * time.Millisecond}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	var reconnects int32
	f.OnReconnect = func() { atomic.AddInt32(&reconnects, 1) }

	ch, err := f.Subscribe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Unsubscribe()

	for i := 0; i < 3; i++ {
		recv(t, ch)
	}
	if atomic.LoadInt32(conns) < 3 {
		t.Fatalf("connections = %d, want >= 3", atomic.LoadInt32(conns))
	}
	if atomic.LoadInt32(&reconnects) < 2 {
		t.Fatalf("reconnects = %d, want >= 2", atomic.LoadInt32(&reconnects))
	}
}
