package sink

import (
	"go.uber.org/zap"

	"github.com/shelfscan/backend/internal/domain"
)

// ZapSink records observability events as structured log lines. Recording is
// fire-and-forget; nothing here can fail a resolution.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a log-backed event sink.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger}
}

// Record writes the event.
func (s *ZapSink) Record(event domain.SinkEvent) {
	s.logger.Info("sink event",
		zap.String("kind", event.Kind),
		zap.String("session_id", event.SessionID),
		zap.String("message", event.Message),
		zap.Any("fields", event.Fields),
	)
}

// NopSink discards every event.
type NopSink struct{}

// Record does nothing.
func (NopSink) Record(domain.SinkEvent) {}
