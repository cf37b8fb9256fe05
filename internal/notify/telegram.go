// Package notify delivers best-effort order notifications. Nothing here is
// a correctness dependency of settlement: callers detach delivery from the
// protocol path and discard failures after logging them.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cardforge/storefront/internal/domain/order"
	"github.com/cardforge/storefront/internal/domain/payment"
)

// TelegramConfig configures the Telegram bot notifier.
type TelegramConfig struct {
	Token  string
	ChatID string
	// BaseURL overrides the Telegram API host, for tests.
	BaseURL string
}

// Telegram posts settlement messages to a Telegram chat via the Bot API.
type Telegram struct {
	cfg    TelegramConfig
	client *http.Client
}

// NewTelegram creates the notifier. The HTTP client is instrumented so
// outbound delivery shows up in traces without touching the settlement path.
func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	return &Telegram{
		cfg: cfg,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// OrderPaid sends the settlement message for a paid order.
func (t *Telegram) OrderPaid(ctx context.Context, ord *order.Order, pay *payment.Payment) error {
	text := fmt.Sprintf("Order #%d paid: %s %s via %s (invoice %s)",
		ord.ID, ord.Total.StringFixed(0), ord.Currency, pay.Provider, pay.InvoiceID)

	body, err := json.Marshal(sendMessageRequest{ChatID: t.cfg.ChatID, Text: text})
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.BaseURL, t.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send message")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("telegram responded %d", resp.StatusCode)
	}
	return nil
}
