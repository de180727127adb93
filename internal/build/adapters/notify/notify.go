// Package notify holds notifiers that need no external service.
package notify

import (
	"context"
	"log/slog"

	"github.com/cochaviz/bitbuild/internal/build"
)

var _ build.Notifier = (*LogNotifier)(nil)

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, title, body string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification", "title", title, "body", body)
	return nil
}
