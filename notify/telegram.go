package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTelegramAPI is the Bot API base URL.
const DefaultTelegramAPI = "https://api.telegram.org"

// maxTelegramText is the Bot API limit for one message.
const maxTelegramText = 4096

// Telegram sends the rendered message through the Bot API sendMessage
// method. The text is sent without a parse mode so item text needs no
// escaping.
type Telegram struct {
	BotToken string
	ChatID   string
	APIBase  string
	Client   *http.Client
}

// NewTelegram returns a Telegram gateway. An empty apiBase uses
// DefaultTelegramAPI.
func NewTelegram(botToken, chatID, apiBase string) *Telegram {
	if apiBase == "" {
		apiBase = DefaultTelegramAPI
	}
	return &Telegram{
		BotToken: botToken,
		ChatID:   chatID,
		APIBase:  strings.TrimRight(apiBase, "/"),
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type telegramRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send renders e and posts it to the chat.
func (t *Telegram) Send(ctx context.Context, e Event) error {
	m, err := Render(e)
	if err != nil {
		return &SendError{Gateway: "telegram", Cause: err}
	}
	text := m.Subject + "\n\n" + m.Text
	if r := []rune(text); len(r) > maxTelegramText {
		text = string(r[:maxTelegramText-1]) + "…"
	}

	body, err := json.Marshal(telegramRequest{ChatID: t.ChatID, Text: text, DisableWebPagePreview: true})
	if err != nil {
		return sendErr("telegram", "marshal: %w", err)
	}
	endpoint := t.APIBase + "/bot" + t.BotToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return sendErr("telegram", "build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		// The URL embeds the bot token; keep it out of logs.
		return sendErr("telegram", "sendMessage: %s", redact(err.Error(), t.BotToken))
	}
	defer resp.Body.Close()

	var tr telegramResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	json.Unmarshal(raw, &tr)
	if resp.StatusCode != http.StatusOK || !tr.OK {
		return sendErr("telegram", "sendMessage returned %d: %s", resp.StatusCode, tr.Description)
	}
	return nil
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "<token>")
}
