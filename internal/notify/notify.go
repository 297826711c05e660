// Package notify delivers session event notifications.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"banknifty-trader/internal/config"
)

// Level classifies a notification.
type Level string

const (
	LevelInfo     Level = "info"
	LevelTrade    Level = "trade"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Notification is one outbound message.
type Notification struct {
	Level     Level
	Title     string
	Message   string
	Timestamp time.Time
}

// Channel is one delivery mechanism for notifications.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// MultiNotifier fans a notification out to every enabled channel. It
// implements the engine's Alerter. Delivery failures on one channel do not
// stop the others; the first error is reported.
type MultiNotifier struct {
	channels []Channel
	level    string
}

// NewMultiNotifier creates a notifier from configuration. With
// notifications disabled every send is a no-op.
func NewMultiNotifier(cfg config.NotificationConfig) *MultiNotifier {
	m := &MultiNotifier{level: cfg.Level}
	if !cfg.Enabled {
		return m
	}
	m.channels = append(m.channels, NewTerminalChannel())
	if cfg.Webhook.Enabled {
		m.channels = append(m.channels, NewWebhookChannel(cfg.Webhook))
	}
	return m
}

// AddChannel registers an extra delivery channel.
func (m *MultiNotifier) AddChannel(c Channel) {
	m.channels = append(m.channels, c)
}

// Notify implements the engine's Alerter interface.
func (m *MultiNotifier) Notify(ctx context.Context, level, title, message string) error {
	return m.Send(ctx, Notification{
		Level:     Level(level),
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// Send delivers a notification to every enabled channel that passes the
// level filter.
func (m *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if !m.allows(n.Level) {
		return nil
	}

	var firstErr error
	for _, c := range m.channels {
		if !c.IsEnabled() {
			continue
		}
		if err := c.Send(ctx, n); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("channel %s: %w", c.Name(), err)
		}
	}
	return firstErr
}

// allows applies the configured level filter. Critical notifications always
// go out.
func (m *MultiNotifier) allows(level Level) bool {
	if level == LevelCritical {
		return true
	}
	switch m.level {
	case "errors_only":
		return level == LevelError
	case "trades_only":
		return level == LevelTrade || level == LevelError
	default:
		return true
	}
}

// WebhookChannel posts notifications as JSON to an HTTP endpoint.
type WebhookChannel struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewWebhookChannel creates a webhook channel.
func NewWebhookChannel(cfg config.WebhookConfig) *WebhookChannel {
	return &WebhookChannel{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the channel.
func (w *WebhookChannel) Name() string {
	return "webhook"
}

// IsEnabled returns whether the channel is enabled.
func (w *WebhookChannel) IsEnabled() bool {
	return w.enabled
}

// Send posts the notification to the webhook endpoint.
func (w *WebhookChannel) Send(ctx context.Context, n Notification) error {
	payload := map[string]interface{}{
		"level":     n.Level,
		"title":     n.Title,
		"message":   n.Message,
		"timestamp": n.Timestamp.Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "BankNiftyTrader/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// FormatCurrency formats a rupee amount with Indian digit grouping.
func FormatCurrency(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.2f", amount)
	parts := strings.Split(str, ".")

	result := "₹" + formatIndianNumber(parts[0]) + "." + parts[1]
	if negative {
		result = "-" + result
	}
	return result
}

// formatIndianNumber groups an integer string as lakhs and crores.
func formatIndianNumber(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	result := s[n-3:]
	s = s[:n-3]
	for len(s) > 0 {
		if len(s) >= 2 {
			result = s[len(s)-2:] + "," + result
			s = s[:len(s)-2]
		} else {
			result = s + "," + result
			s = ""
		}
	}
	return result
}
