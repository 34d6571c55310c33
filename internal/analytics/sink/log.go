package sink

import (
	"context"

	"github.com/serroba/next-number/internal/analytics"
	"go.uber.org/zap"
)

// Log is an analytics.Sink that writes events to the log.
type Log struct {
	logger *zap.Logger
}

// NewLog creates a new logging sink.
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) SaveLookupCompleted(_ context.Context, event *analytics.LookupCompletedEvent) error {
	l.logger.Info("lookup completed",
		zap.String("owner", event.Owner),
		zap.String("name", event.Name),
		zap.Int("next", event.Next),
		zap.String("requestId", event.RequestID),
		zap.String("clientIp", event.ClientIP),
		zap.Time("requestedAt", event.RequestedAt),
	)

	return nil
}

func (l *Log) SaveLookupThrottled(_ context.Context, event *analytics.LookupThrottledEvent) error {
	l.logger.Warn("lookup throttled",
		zap.String("owner", event.Owner),
		zap.String("name", event.Name),
		zap.String("requestId", event.RequestID),
		zap.String("clientIp", event.ClientIP),
		zap.Time("requestedAt", event.RequestedAt),
	)

	return nil
}

var _ analytics.Sink = (*Log)(nil)
