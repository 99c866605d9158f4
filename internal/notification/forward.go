package notification

import (
	"context"
	"log/slog"
	"time"

	"autotrader-simv1/internal/model"
)

// Subscriber is the part of the activity bus the forwarder needs.
type Subscriber interface {
	Subscribe(handler func(model.Event)) (unsubscribe func())
}

// AlertFor maps an activity event to an alert. Only risk breaches and
// emergency stops produce alerts; admission denials are warnings, lock
// transitions and emergency stops are critical.
func AlertFor(ev model.Event) (Alert, bool) {
	a := Alert{
		Message:   ev.Message,
		EventID:   ev.ID,
		EventType: string(ev.Type),
		Data:      ev.Data,
		At:        ev.Timestamp,
	}
	switch ev.Type {
	case model.EventRiskBreach:
		if ev.Data["stage"] == "lock" {
			a.Level, a.Title = AlertCritical, "Trading locked"
		} else {
			a.Level, a.Title = AlertWarning, "Order denied"
		}
	case model.EventEmergencyStop:
		a.Level, a.Title = AlertCritical, "Emergency stop"
	default:
		return Alert{}, false
	}
	return a, true
}

// Forward subscribes to bus and sends every alert-worthy event to n. Each
// send gets its own timeout; delivery failures are logged. The returned
// func unsubscribes.
func Forward(bus Subscriber, n Notifier, timeout time.Duration) (stop func()) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return bus.Subscribe(func(ev model.Event) {
		alert, ok := AlertFor(ev)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := n.Send(ctx, alert); err != nil {
			slog.Error("alert delivery failed", "event", ev.ID, "type", string(ev.Type), "error", err)
		}
	})
}
