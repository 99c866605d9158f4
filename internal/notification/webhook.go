package notification

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// WebhookNotifier POSTs each alert as JSON to a fixed endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: newHTTPClient()}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	if alert.At.IsZero() {
		alert.At = time.Now()
	}
	if err := postJSON(ctx, w.client, "webhook", w.url, alert); err != nil {
		return err
	}
	slog.Debug("webhook alert delivered", "event", alert.EventID, "type", alert.EventType)
	return nil
}
