package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultAPIBase is the public Bot API endpoint.
const DefaultAPIBase = "https://api.telegram.org"

// ErrNotConfigured is returned by calls that need a token and chat id.
var ErrNotConfigured = errors.New("telegram bot token or chat ID not configured")

// Bot is a minimal Telegram Bot API client bound to one chat.
type Bot struct {
	botToken   string
	chatID     string
	apiBase    string
	httpClient *http.Client
}

// Config holds Telegram bot configuration
type Config struct {
	BotToken string
	ChatID   string
	APIBase  string // defaults to DefaultAPIBase
	Timeout  time.Duration
}

// TelegramResponse represents the response from Telegram API
type TelegramResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// File is the getFile result.
type File struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

// NewBot creates a new Telegram bot client
func NewBot(cfg Config) *Bot {
	apiBase := strings.TrimRight(cfg.APIBase, "/")
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Bot{
		botToken:   cfg.BotToken,
		chatID:     cfg.ChatID,
		apiBase:    apiBase,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether the bot can send anything.
func (b *Bot) Configured() bool {
	return b.botToken != "" && b.chatID != ""
}

// ChatID returns the authorized chat.
func (b *Bot) ChatID() string { return b.chatID }

// SendMessage sends an HTML text message and returns its message id.
func (b *Bot) SendMessage(ctx context.Context, text string) (int64, error) {
	return b.sendText(ctx, text, 0)
}

// SendReply answers a specific message.
func (b *Bot) SendReply(ctx context.Context, replyTo int64, text string) error {
	_, err := b.sendText(ctx, text, replyTo)
	return err
}

func (b *Bot) sendText(ctx context.Context, text string, replyTo int64) (int64, error) {
	if !b.Configured() {
		return 0, ErrNotConfigured
	}
	payload := map[string]interface{}{
		"chat_id":    b.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if replyTo != 0 {
		payload["reply_to_message_id"] = replyTo
	}

	var msg TelegramMessage
	if err := b.sendTelegramRequest(ctx, "sendMessage", payload, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// SendPhoto sends a JPEG with a caption and returns the message id the
// channel assigned to it.
func (b *Bot) SendPhoto(ctx context.Context, photoData []byte, caption string) (int64, error) {
	if !b.Configured() {
		return 0, ErrNotConfigured
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", b.chatID); err != nil {
		return 0, fmt.Errorf("failed to write chat_id field: %w", err)
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return 0, fmt.Errorf("failed to write caption field: %w", err)
		}
		if err := writer.WriteField("parse_mode", "HTML"); err != nil {
			return 0, fmt.Errorf("failed to write parse_mode field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("photo", "detection.jpg")
	if err != nil {
		return 0, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(photoData); err != nil {
		return 0, fmt.Errorf("failed to write photo data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL("sendPhoto"), &body)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send photo: %w", err)
	}
	defer resp.Body.Close()

	var msg TelegramMessage
	if err := handleResponse(resp, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// DownloadFile resolves fileID with getFile and downloads its content.
func (b *Bot) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	if b.botToken == "" {
		return nil, ErrNotConfigured
	}

	var file File
	if err := b.sendTelegramRequest(ctx, "getFile", map[string]interface{}{"file_id": fileID}, &file); err != nil {
		return nil, err
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("file %s has no download path", fileID)
	}

	fileURL := fmt.Sprintf("%s/file/bot%s/%s", b.apiBase, b.botToken, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file download returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// GetUpdates fetches updates after offset.
func (b *Bot) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	if b.botToken == "" {
		return nil, ErrNotConfigured
	}

	q := url.Values{}
	q.Set("offset", fmt.Sprintf("%d", offset))
	q.Set("timeout", fmt.Sprintf("%d", int(timeout.Seconds())))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.methodURL("getUpdates")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch updates: %w", err)
	}
	defer resp.Body.Close()

	var updates []Update
	if err := handleResponse(resp, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func (b *Bot) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", b.apiBase, b.botToken, method)
}

// sendTelegramRequest posts a JSON payload and decodes the result into out.
func (b *Bot) sendTelegramRequest(ctx context.Context, method string, payload map[string]interface{}, out interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL(method), bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	return handleResponse(resp, out)
}

// handleResponse processes the Telegram API response
func handleResponse(resp *http.Response, out interface{}) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var telegramResp TelegramResponse
	if err := json.Unmarshal(body, &telegramResp); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !telegramResp.OK {
		return fmt.Errorf("telegram API error %d: %s", telegramResp.ErrorCode, telegramResp.Description)
	}

	if out != nil && len(telegramResp.Result) > 0 {
		if err := json.Unmarshal(telegramResp.Result, out); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
	}
	return nil
}
