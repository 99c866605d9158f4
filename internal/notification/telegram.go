package notification

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier posts alerts to one chat through the Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  telegramAPI,
		client:   newHTTPClient(),
	}
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	msg := map[string]any{
		"chat_id":    t.chatID,
		"text":       telegramText(alert),
		"parse_mode": "MarkdownV2",
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	if err := postJSON(ctx, t.client, "telegram", url, msg); err != nil {
		return err
	}
	slog.Debug("telegram alert delivered", "event", alert.EventID, "chat", t.chatID)
	return nil
}

var levelMarker = map[AlertLevel]string{
	AlertInfo:     "[i]",
	AlertWarning:  "[!]",
	AlertCritical: "[!!]",
}

// telegramText renders the alert as MarkdownV2: marker and bold title, the
// message, then the event's data fields in key order.
func telegramText(alert Alert) string {
	marker, ok := levelMarker[alert.Level]
	if !ok {
		marker = levelMarker[AlertInfo]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*", mdEscaper.Replace(marker), mdEscaper.Replace(alert.Title))
	if alert.Message != "" {
		b.WriteString("\n\n")
		b.WriteString(mdEscaper.Replace(alert.Message))
	}
	if len(alert.Data) > 0 {
		keys := make([]string, 0, len(alert.Data))
		for k := range alert.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n")
		for _, k := range keys {
			line := fmt.Sprintf("%s: %v", k, alert.Data[k])
			b.WriteString("\n`" + mdEscaper.Replace(line) + "`")
		}
	}
	return b.String()
}

// mdEscaper escapes the MarkdownV2 reserved characters.
var mdEscaper = func() *strings.Replacer {
	var pairs []string
	for _, c := range `_*[]()~` + "`" + `>#+-=|{}.!\` {
		pairs = append(pairs, string(c), `\`+string(c))
	}
	return strings.NewReplacer(pairs...)
}()
