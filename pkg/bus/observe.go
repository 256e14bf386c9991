package bus

import (
	"context"
	"log/slog"
	"time"
)

// Observe logs every event published on b until ctx ends or b is closed.
func Observe(ctx context.Context, b *Bus, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "bus.events")

	events, unsubscribe := b.Subscribe(ctx, 64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			logEvent(log, event)
		}
	}
}

func logEvent(log *slog.Logger, event Event) {
	attrs := []any{
		"event_type", event.Type,
		"source", event.Source,
		"timestamp", event.At.UTC().Format(time.RFC3339Nano),
	}
	if len(event.Payload) > 0 {
		attrs = append(attrs, "payload", event.Payload)
	}

	switch event.Type {
	case EventSyncFailed, EventCacheInstallFailed:
		log.Error("Event", append(attrs, "error", event.Error)...)
	case EventPayloadRejected, EventReconnectExhausted:
		log.Warn("Event", append(attrs, "error", event.Error)...)
	case EventSessionState, EventReconnectScheduled, EventCacheInstalled, EventSyncCompleted, EventConnectivity:
		log.Info("Event", attrs...)
	default:
		log.Debug("Event", attrs...)
	}
}
