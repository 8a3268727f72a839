package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// LogSink writes every event to the structured log.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Deliver(ctx context.Context, ev Event) error {
	attrs := []any{"kind", ev.Kind, "identity", ev.Identity, "event_id", ev.ID}
	if ev.Kind == KindWarning {
		attrs = append(attrs, "threshold", ev.Threshold, "hours_remaining", ev.HoursRemaining)
	}
	if ev.Address != "" {
		attrs = append(attrs, "address", ev.Address)
	}
	slog.Info("Lifecycle event", attrs...)
	return nil
}

type TelegramConfig struct {
	Token   string  `mapstructure:"token"`
	ChatIDs []int64 `mapstructure:"chat_ids"`
	BaseURL string  `mapstructure:"base_url"`
}

// TelegramSink sends the event text to each configured chat through the Bot API.
type TelegramSink struct {
	token   string
	chatIDs []int64
	baseURL string
	client  *http.Client
}

func NewTelegramSink(cfg TelegramConfig) *TelegramSink {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = telegramAPI
	}
	return &TelegramSink{
		token:   cfg.Token,
		chatIDs: cfg.ChatIDs,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *TelegramSink) Name() string { return "telegram" }

type sendMessageRequest struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Deliver attempts every chat and joins the failures.
func (s *TelegramSink) Deliver(ctx context.Context, ev Event) error {
	var errs []error
	for _, chatID := range s.chatIDs {
		if err := s.send(ctx, chatID, ev.Text()); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *TelegramSink) send(ctx context.Context, chatID int64, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		// the request URL carries the bot token
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return fmt.Errorf("telegram request failed: %w", urlErr.Err)
		}
		return errors.New("telegram request failed")
	}
	defer resp.Body.Close()

	var out sendMessageResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || !out.OK {
		return fmt.Errorf("telegram returned status %d: %s", resp.StatusCode, out.Description)
	}
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(events ...Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds lists the kinds of the recorded events in publish order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
