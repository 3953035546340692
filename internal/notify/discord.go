package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// discordContentLimit is the maximum message length Discord accepts.
const discordContentLimit = 2000

// DiscordBroadcaster posts each batch to a Discord webhook.
type DiscordBroadcaster struct {
	webhookURL    string
	quoteCurrency string
	client        *http.Client
}

// NewDiscordBroadcaster creates a broadcaster for the given webhook URL.
func NewDiscordBroadcaster(webhookURL, quoteCurrency string) *DiscordBroadcaster {
	if quoteCurrency == "" {
		quoteCurrency = "TMN"
	}
	return &DiscordBroadcaster{
		webhookURL:    webhookURL,
		quoteCurrency: quoteCurrency,
		client:        &http.Client{Timeout: 10 * time.Second},
	}
}

// Broadcast posts one message per opportunity. Discord renders the
// Telegram Markdown subset used by FormatMessage closely enough.
func (d *DiscordBroadcaster) Broadcast(ctx context.Context, opps []domain.Opportunity) error {
	for _, opp := range opps {
		content := FormatMessage(opp, d.quoteCurrency)
		if len(content) > discordContentLimit {
			content = content[:discordContentLimit]
		}
		if err := d.post(ctx, content); err != nil {
			return err
		}
	}
	return nil
}

func (d *DiscordBroadcaster) post(ctx context.Context, content string) error {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: discord: send request: %v", domain.ErrDelivery, err)
	}
	defer resp.Body.Close()

	// Discord returns 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: discord: unexpected status %d: %s", domain.ErrDelivery, resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns "discord".
func (d *DiscordBroadcaster) Name() string { return "discord" }
