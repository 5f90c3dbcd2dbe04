package outbox

import (
	"context"
	"log/slog"

	"credrep/internal/events"
)

// LogSink writes each event as one structured log line.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(ctx context.Context, batch []events.Event) error {
	for _, e := range batch {
		args := append(e.LogArgs(), "log_type", "ledger_event", "occurred_at", e.OccurredAt)
		s.logger.InfoContext(ctx, "ledger event", args...)
	}
	return nil
}
