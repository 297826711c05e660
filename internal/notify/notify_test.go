package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"banknifty-trader/internal/config"
)

func TestFormatCurrency(t *testing.T) {
	assert.Equal(t, "₹500.00", FormatCurrency(500))
	assert.Equal(t, "₹5,000.00", FormatCurrency(5000))
	assert.Equal(t, "₹50,000.00", FormatCurrency(50000))
	assert.Equal(t, "₹5,00,000.00", FormatCurrency(500000))
	assert.Equal(t, "₹1,05,00,000.50", FormatCurrency(10500000.50))
	assert.Equal(t, "-₹52,500.00", FormatCurrency(-52500))
}

func TestWebhookChannel_Send(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(config.WebhookConfig{Enabled: true, URL: srv.URL})
	require.True(t, ch.IsEnabled())

	err := ch.Send(context.Background(), Notification{
		Level:     LevelCritical,
		Title:     "Session ABORTED",
		Message:   "broker timeout [close] after 3 attempts",
		Timestamp: time.Date(2025, 9, 30, 15, 25, 10, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "critical", got["level"])
	assert.Equal(t, "Session ABORTED", got["title"])
}

func TestWebhookChannel_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(config.WebhookConfig{Enabled: true, URL: srv.URL})
	err := ch.Send(context.Background(), Notification{Title: "x"})
	assert.ErrorContains(t, err, "502")
}

func TestWebhookChannel_DisabledWithoutURL(t *testing.T) {
	ch := NewWebhookChannel(config.WebhookConfig{Enabled: true})
	assert.False(t, ch.IsEnabled())
}

func TestTerminalChannel_Send(t *testing.T) {
	var buf bytes.Buffer
	ch := NewTerminalChannel()
	ch.SetOutput(&buf)

	err := ch.Send(context.Background(), Notification{
		Level:     LevelTrade,
		Title:     "Profit exit",
		Message:   "combined P&L 10.50% reached target",
		Timestamp: time.Date(2025, 9, 30, 15, 12, 5, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Profit exit")
	assert.Contains(t, buf.String(), "15:12:05")
}

type recordingChannel struct {
	sent []Notification
}

func (r *recordingChannel) Name() string    { return "recording" }
func (r *recordingChannel) IsEnabled() bool { return true }
func (r *recordingChannel) Send(ctx context.Context, n Notification) error {
	r.sent = append(r.sent, n)
	return nil
}

func TestMultiNotifier_LevelFilter(t *testing.T) {
	rec := &recordingChannel{}
	m := NewMultiNotifier(config.NotificationConfig{Enabled: true, Level: "errors_only"})
	m.channels = nil // drop the default terminal channel for the test
	m.AddChannel(rec)

	ctx := context.Background()
	require.NoError(t, m.Notify(ctx, "info", "entry", "position opened"))
	require.NoError(t, m.Notify(ctx, "trade", "exit", "position closed"))
	require.NoError(t, m.Notify(ctx, "error", "broker", "timeout"))
	require.NoError(t, m.Notify(ctx, "critical", "Session ABORTED", "close failed"))

	// Only the error passes the filter, and critical always goes through.
	require.Len(t, rec.sent, 2)
	assert.Equal(t, LevelError, rec.sent[0].Level)
	assert.Equal(t, LevelCritical, rec.sent[1].Level)
}

func TestMultiNotifier_DisabledIsNoOp(t *testing.T) {
	m := NewMultiNotifier(config.NotificationConfig{Enabled: false})
	assert.NoError(t, m.Notify(context.Background(), "critical", "x", "y"))
}
