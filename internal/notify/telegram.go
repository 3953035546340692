package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

const (
	defaultTelegramAPI = "https://api.telegram.org"
	defaultGreeting    = "Hello! 🤖 You will be notified about new arbitrage opportunities. Send /stop to unsubscribe."
	defaultFarewell    = "Unsubscribed. Send /start to subscribe again."
)

// TelegramConfig configures a TelegramBot.
type TelegramConfig struct {
	Token string
	// APIURL overrides https://api.telegram.org, mainly for tests.
	APIURL string
	// PollTimeout is the getUpdates long-poll timeout.
	PollTimeout time.Duration
	// RetryDelay is the pause after a failed getUpdates call.
	RetryDelay time.Duration
	Greeting   string
}

// TelegramBot sends messages through the Telegram Bot API and runs the
// /start and /stop registration flow against a SubscriberRegistry.
type TelegramBot struct {
	cfg      TelegramConfig
	baseURL  string
	registry domain.SubscriberRegistry
	client   *http.Client
	logger   *slog.Logger
}

// NewTelegramBot creates a bot for the given token. registry may be nil when
// only Send is used.
func NewTelegramBot(cfg TelegramConfig, registry domain.SubscriberRegistry, logger *slog.Logger) *TelegramBot {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultTelegramAPI
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Greeting == "" {
		cfg.Greeting = defaultGreeting
	}
	return &TelegramBot{
		cfg:      cfg,
		baseURL:  strings.TrimRight(cfg.APIURL, "/") + "/bot" + cfg.Token,
		registry: registry,
		client:   &http.Client{Timeout: cfg.PollTimeout + 10*time.Second},
		logger:   logger.With(slog.String("component", "telegram")),
	}
}

type telegramResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

// Send posts message to chatID using Markdown parse mode. It implements
// domain.Notifier; failures wrap domain.ErrDelivery.
func (t *TelegramBot) Send(ctx context.Context, chatID, message string) error {
	payload := map[string]string{
		"chat_id":    chatID,
		"text":       message,
		"parse_mode": "Markdown",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if _, err := t.do(req); err != nil {
		return fmt.Errorf("%w: telegram: send to %s: %v", domain.ErrDelivery, chatID, err)
	}
	return nil
}

// Run long-polls getUpdates until ctx is cancelled, registering chats that
// send /start and removing chats that send /stop. Transient API failures
// are logged and retried after RetryDelay.
func (t *TelegramBot) Run(ctx context.Context) error {
	t.logger.InfoContext(ctx, "telegram: registration poller started")
	var offset int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		updates, err := t.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.logger.WarnContext(ctx, "telegram: getUpdates failed",
				slog.String("error", err.Error()),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(t.cfg.RetryDelay):
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			t.handleUpdate(ctx, u)
		}
	}
}

func (t *TelegramBot) getUpdates(ctx context.Context, offset int64) ([]telegramUpdate, error) {
	q := url.Values{}
	q.Set("timeout", strconv.Itoa(int(t.cfg.PollTimeout/time.Second)))
	q.Set("allowed_updates", `["message"]`)
	if offset > 0 {
		q.Set("offset", strconv.FormatInt(offset, 10))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/getUpdates?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: create request: %w", err)
	}
	raw, err := t.do(req)
	if err != nil {
		return nil, err
	}
	var updates []telegramUpdate
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, fmt.Errorf("telegram: decode updates: %w", err)
	}
	return updates, nil
}

func (t *TelegramBot) handleUpdate(ctx context.Context, u telegramUpdate) {
	if u.Message == nil || t.registry == nil {
		return
	}
	chatID := strconv.FormatInt(u.Message.Chat.ID, 10)
	switch command(u.Message.Text) {
	case "/start":
		added, err := t.registry.Add(ctx, chatID)
		if err != nil {
			t.logger.ErrorContext(ctx, "telegram: register chat failed",
				slog.String("chat_id", chatID),
				slog.String("error", err.Error()),
			)
			return
		}
		t.logger.InfoContext(ctx, "telegram: chat registered",
			slog.String("chat_id", chatID),
			slog.Bool("new", added),
		)
		t.reply(ctx, chatID, t.cfg.Greeting)
	case "/stop":
		if err := t.registry.Remove(ctx, chatID); err != nil {
			t.logger.ErrorContext(ctx, "telegram: unregister chat failed",
				slog.String("chat_id", chatID),
				slog.String("error", err.Error()),
			)
			return
		}
		t.logger.InfoContext(ctx, "telegram: chat unregistered", slog.String("chat_id", chatID))
		t.reply(ctx, chatID, defaultFarewell)
	}
}

func (t *TelegramBot) reply(ctx context.Context, chatID, text string) {
	if err := t.Send(ctx, chatID, text); err != nil {
		t.logger.WarnContext(ctx, "telegram: reply failed",
			slog.String("chat_id", chatID),
			slog.String("error", err.Error()),
		)
	}
}

// do executes req and returns the "result" field of a successful response.
func (t *TelegramBot) do(req *http.Request) (json.RawMessage, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("telegram: read response: %w", err)
	}
	var tr telegramResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, truncate(body, 256))
	}
	if !tr.OK || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("telegram: api error %d: %s", tr.ErrorCode, tr.Description)
	}
	return tr.Result, nil
}

// command extracts "/start" from "/start", "/start@spreadbot" or
// "/start payload".
func command(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(cmd)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}

var _ domain.Notifier = (*TelegramBot)(nil)
