// Package notify provides goMFA.Notifier implementations.
//
// LogNotifier is for development: it writes codes to a zap logger.
// KafkaNotifier publishes one JSON message per code for a mail worker to
// deliver. Both are called from the engine's notification workers, never
// on the request path.
package notify

import (
	"context"

	goMFA "github.com/MrEthical07/goMFA"
	"go.uber.org/zap"
)

// LogNotifier logs codes instead of sending them. Never use it in
// production: the code ends up in the log.
type LogNotifier struct {
	logger *zap.Logger
}

var _ goMFA.Notifier = (*LogNotifier)(nil)

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) SendCode(_ context.Context, c goMFA.CodeNotification) error {
	n.logger.Info("mfa code",
		zap.String("user_id", c.UserID),
		zap.String("email", c.Email),
		zap.String("context", string(c.Context)),
		zap.String("code", c.Code),
		zap.Time("expires_at", c.ExpiresAt))
	return nil
}
