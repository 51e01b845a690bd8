// Package notify delivers best-effort chat messages to subjects over the
// Telegram Bot API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"balance-service/internal/domain"
)

// Telegram sends messages through the Bot API. Sends on the transaction path
// are best effort; callers log failures and move on.
type Telegram struct {
	client  *http.Client
	baseURL string
	token   string
}

// NewTelegram creates a channel for the given bot token. baseURL is
// overridable for tests; pass "" for api.telegram.org.
func NewTelegram(token, baseURL string) *Telegram {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &Telegram{
		// Don't let a slow Telegram call pin down a transaction.
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: baseURL,
		token:   token,
	}
}

func (t *Telegram) SendText(ctx context.Context, subject, text string) error {
	return t.call(ctx, "sendMessage", map[string]interface{}{
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}, subject)
}

func (t *Telegram) SendPhoto(ctx context.Context, subject, photo, caption string) error {
	return t.call(ctx, "sendPhoto", map[string]interface{}{
		"photo":      photo,
		"caption":    caption,
		"parse_mode": "HTML",
	}, subject)
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) call(ctx context.Context, method string, payload map[string]interface{}, subject string) error {
	chatID, err := strconv.ParseInt(subject, 10, 64)
	if err != nil {
		return fmt.Errorf("subject %q is not a chat id", subject)
	}
	payload["chat_id"] = chatID

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var result telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("%s: unparseable response", method)
	}
	if !result.OK {
		return fmt.Errorf("%s: %s", method, result.Description)
	}
	return nil
}

var _ domain.Notifier = (*Telegram)(nil)

// Noop discards every message; it stands in when no bot token is configured.
type Noop struct{}

func (Noop) SendText(ctx context.Context, subject, text string) error  { return nil }
func (Noop) SendPhoto(ctx context.Context, subject, photo, caption string) error {
	return nil
}

var _ domain.Notifier = Noop{}
