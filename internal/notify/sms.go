package notify

import (
	"context"

	"github.com/arisanid/arisan/internal/service/logger"
)

// LogSMSSender is an SMSSender that only logs. Used when no SMS gateway
// is configured; the real gateway lives outside this core.
type LogSMSSender struct {
	log logger.Logger
}

// NewLogSMSSender creates a log-only SMS sender.
func NewLogSMSSender(log logger.Logger) *LogSMSSender {
	return &LogSMSSender{log: log}
}

// SendSMS logs the message instead of sending it.
func (s *LogSMSSender) SendSMS(ctx context.Context, userID, message string) error {
	s.log.Info(ctx, "SMS (no gateway configured)", map[string]interface{}{
		"user_id": userID,
		"message": message,
	})
	return nil
}
