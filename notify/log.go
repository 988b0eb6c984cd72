package notify

import (
	"context"
	"log/slog"
)

// LogDispatcher is a stand-in for the external notification service: it
// logs each fact instead of delivering it. Deployments plug a real
// Dispatcher into the relay; this keeps the outbox draining everywhere
// else.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (d *LogDispatcher) Deliver(ctx context.Context, topic string, payload []byte) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification fact", "topic", topic, "payload", string(payload))
	return nil
}
