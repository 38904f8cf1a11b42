package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

// Embed sidebar colors per terminal status.
const (
	discordGreen = 0x2ecc71
	discordRed   = 0xe74c3c
	discordAmber = 0xf39c12
)

// DiscordSender renders execution events as webhook embeds, colored by the
// terminal status.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a sender posting to the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
}

// Send posts the rendered event to the webhook. Discord answers 204 No
// Content on success.
func (d *DiscordSender) Send(ctx context.Context, event domain.ExecutionEvent) error {
	payload := map[string]any{
		"embeds": []discordEmbed{discordRender(event)},
	}
	return postJSON(ctx, d.client, d.webhookURL, "discord", payload)
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}

// discordRender builds the embed for one terminal execution event.
func discordRender(event domain.ExecutionEvent) discordEmbed {
	embed := discordEmbed{}
	if !event.OccurredAt.IsZero() {
		embed.Timestamp = event.OccurredAt.UTC().Format(time.RFC3339)
	}

	switch event.Status {
	case domain.StatusExecuted:
		embed.Title = fmt.Sprintf("Bought %s", event.Pair)
		embed.Color = discordGreen
		embed.Fields = []discordField{
			{Name: "Spent", Value: event.AmountIn, Inline: true},
			{Name: "Received", Value: event.AmountOut, Inline: true},
		}
		if event.RealizedPrice > 0 {
			embed.Fields = append(embed.Fields,
				discordField{Name: "Price", Value: fmt.Sprintf("%.6f", event.RealizedPrice), Inline: true})
		}
		if event.TxHash != "" {
			embed.Fields = append(embed.Fields,
				discordField{Name: "Tx", Value: event.TxHash})
		}
	case domain.StatusFailed:
		embed.Title = fmt.Sprintf("Buy failed: %s", event.Pair)
		embed.Color = discordRed
		embed.Description = event.Error
		if event.TxHash != "" {
			embed.Fields = []discordField{{Name: "Tx", Value: event.TxHash}}
		}
	default:
		embed.Title = fmt.Sprintf("Buy skipped: %s", event.Pair)
		embed.Color = discordAmber
		embed.Description = event.Error
	}
	return embed
}
