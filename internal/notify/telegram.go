package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

// TelegramSender renders execution events as Markdown messages delivered via
// the Telegram Bot API.
type TelegramSender struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender creates a sender for the given bot token and chat ID.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the rendered event to the configured chat via sendMessage.
func (t *TelegramSender) Send(ctx context.Context, event domain.ExecutionEvent) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	payload := map[string]string{
		"chat_id":    t.chatID,
		"text":       telegramText(event),
		"parse_mode": "Markdown",
	}
	return postJSON(ctx, t.client, url, "telegram", payload)
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}

// telegramText renders one terminal execution event as a Telegram Markdown
// message. Purchases show the amounts and transaction hash; failures and
// skips show the recorded reason.
func telegramText(event domain.ExecutionEvent) string {
	var b strings.Builder
	switch event.Status {
	case domain.StatusExecuted:
		fmt.Fprintf(&b, "✅ *Bought %s*\n", event.Pair)
		fmt.Fprintf(&b, "Spent: %s\n", event.AmountIn)
		fmt.Fprintf(&b, "Received: %s\n", event.AmountOut)
		if event.RealizedPrice > 0 {
			fmt.Fprintf(&b, "Price: %.6f\n", event.RealizedPrice)
		}
		if event.TxHash != "" {
			fmt.Fprintf(&b, "Tx: `%s`", event.TxHash)
		}
	case domain.StatusFailed:
		fmt.Fprintf(&b, "❌ *Buy failed: %s*\n%s", event.Pair, event.Error)
		if event.TxHash != "" {
			fmt.Fprintf(&b, "\nTx: `%s`", event.TxHash)
		}
	default:
		fmt.Fprintf(&b, "⏭ *Buy skipped: %s*\n%s", event.Pair, event.Error)
	}
	return strings.TrimRight(b.String(), "\n")
}
