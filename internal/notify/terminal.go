package notify

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

// TerminalChannel prints notifications to the terminal with color coding
// by level.
type TerminalChannel struct {
	out io.Writer
	mu  sync.Mutex
}

// NewTerminalChannel creates a terminal channel writing to stderr so
// notifications never mix with command output.
func NewTerminalChannel() *TerminalChannel {
	return &TerminalChannel{out: os.Stderr}
}

// SetOutput redirects the channel's output. Used in tests.
func (t *TerminalChannel) SetOutput(w io.Writer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.out = w
}

// Name returns the name of the channel.
func (t *TerminalChannel) Name() string {
	return "terminal"
}

// IsEnabled returns whether the channel is enabled.
func (t *TerminalChannel) IsEnabled() bool {
	return true
}

// Send prints the notification.
func (t *TerminalChannel) Send(ctx context.Context, n Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	paint := color.New(color.FgCyan)
	switch n.Level {
	case LevelTrade:
		paint = color.New(color.FgGreen)
	case LevelError:
		paint = color.New(color.FgRed)
	case LevelCritical:
		paint = color.New(color.FgRed, color.Bold)
	}

	_, err := paint.Fprintf(t.out, "[%s] %s: %s\n",
		n.Timestamp.Format("15:04:05"), n.Title, n.Message)
	return err
}
