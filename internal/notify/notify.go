// Package notify provides cross-platform desktop notifications for filehub.
// It uses github.com/gen2brain/beeep for cross-platform notification support.
package notify

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gen2brain/beeep"

	"github.com/rescale/filehub/internal/events"
	"github.com/rescale/filehub/internal/logging"
	"github.com/rescale/filehub/internal/models"
)

const appTitle = "filehub"

// Notifier handles desktop notifications.
type Notifier struct {
	logger  *logging.Logger
	enabled bool
	mu      sync.RWMutex

	// replaced in tests
	notify func(title, message string) error
	alert  func(title, message string) error
}

// Config holds notification configuration.
type Config struct {
	// Enabled determines if notifications are sent.
	Enabled bool

	// ShowDedupResults notifies when a duplicate scan finishes.
	ShowDedupResults bool

	// ShowTransfers notifies when multi-file uploads or downloads finish.
	ShowTransfers bool
}

// DefaultConfig returns the default notification configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:          true,
		ShowDedupResults: true,
		ShowTransfers:    false, // the terminal already shows progress
	}
}

// NewNotifier creates a new notifier with the given configuration.
func NewNotifier(cfg *Config, logger *logging.Logger) *Notifier {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Notifier{
		logger:  logger.Component("notify"),
		enabled: cfg.Enabled && (cfg.ShowDedupResults || cfg.ShowTransfers),
		notify: func(title, message string) error {
			// Windows toast, macOS notification center, D-Bus on Linux
			return beeep.Notify(title, message, "")
		},
		alert: func(title, message string) error {
			return beeep.Alert(title, message, "")
		},
	}
}

// SetEnabled enables or disables notifications.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// IsEnabled returns whether notifications are enabled.
func (n *Notifier) IsEnabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled
}

// DedupFinished reports a terminal duplicate-scan result. A failed scan is
// sent as an alert.
func (n *Notifier) DedupFinished(report *models.DedupReport) {
	if !n.IsEnabled() || report == nil {
		return
	}

	switch {
	case report.Completed():
		groups := report.Groups()
		var message string
		if len(groups) == 0 {
			message = "No duplicate files found."
		} else {
			message = fmt.Sprintf("%d duplicate group(s), %d redundant file(s), %s reclaimable.",
				len(groups), len(report.DuplicateIDs()), formatBytes(report.WastedBytes()))
		}
		if err := n.notify("Duplicate Scan Complete", message); err != nil {
			n.logger.Warn().Err(err).Str("report_id", report.ID).Msg("Failed to send dedup notification")
		}

	case report.Failed():
		n.Alert(fmt.Sprintf("Duplicate scan %s failed on the server.", truncate(report.ID, 40)))
	}
}

// TransferFinished reports the outcome of a multi-file transfer.
func (n *Notifier) TransferFinished(kind string, succeeded, failed int, dir string) {
	if !n.IsEnabled() {
		return
	}

	title := fmt.Sprintf("%s Complete", kind)
	message := fmt.Sprintf("%d file(s) done", succeeded)
	if dir != "" {
		message += " in:\n" + shortenPath(dir)
	}
	if failed > 0 {
		title = fmt.Sprintf("%s Finished With Errors", kind)
		message = fmt.Sprintf("%s\n%d file(s) failed.", message, failed)
	}

	if err := n.notify(title, message); err != nil {
		n.logger.Warn().Err(err).Str("kind", kind).Msg("Failed to send transfer notification")
	}
}

// Alert sends an alert notification (error level).
// This is for critical issues that require user attention.
func (n *Notifier) Alert(message string) {
	if !n.IsEnabled() {
		return
	}

	title := appTitle + " Alert"

	// beeep.Alert also plays a sound; fall back to a plain notification
	if err := n.alert(title, message); err != nil {
		if err := n.notify(title, message); err != nil {
			n.logger.Error().Err(err).Str("message", message).Msg("Failed to send alert notification")
		}
	}
}

// Watch notifies about every terminal dedup state published on bus until ctx
// is done.
func (n *Notifier) Watch(ctx context.Context, bus *events.EventBus) {
	ch := bus.Subscribe(events.EventDedupStateChanged)
	defer bus.Unsubscribe(events.EventDedupStateChanged, ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if de, ok := ev.(*events.DedupStateEvent); ok && de.Report != nil && de.Report.Status.Terminal() {
				n.DedupFinished(de.Report)
			}
		}
	}
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// shortenPath abbreviates a long path for display in notifications.
func shortenPath(path string) string {
	const maxLen = 60

	if len(path) <= maxLen {
		return path
	}

	// Try to show drive/root + ... + last 2 path components
	_, file := filepath.Split(path)
	parentDir := filepath.Base(filepath.Dir(path))

	short := filepath.Join("...", parentDir, file)

	vol := filepath.VolumeName(path)
	if vol != "" && len(vol)+len(short)+1 <= maxLen {
		short = vol + string(filepath.Separator) + short
	}

	if len(short) > maxLen {
		return "..." + path[len(path)-(maxLen-3):]
	}

	return short
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
