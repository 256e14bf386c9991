package bus

import "time"

type EventType string

const (
	EventSessionState       EventType = "session_state"
	EventMessageAppended    EventType = "message_appended"
	EventLoadingChanged     EventType = "loading_changed"
	EventReconnectScheduled EventType = "reconnect_scheduled"
	EventReconnectExhausted EventType = "reconnect_exhausted"
	EventPayloadRejected    EventType = "payload_rejected"

	EventCacheInstalled     EventType = "cache_installed"
	EventCacheInstallFailed EventType = "cache_install_failed"
	EventEntryQueued        EventType = "entry_queued"
	EventSyncCompleted      EventType = "sync_completed"
	EventSyncFailed         EventType = "sync_failed"
	EventConnectivity       EventType = "connectivity"
)

type Event struct {
	Type    EventType         `json:"type"`
	At      time.Time         `json:"at"`
	Source  string            `json:"source,omitempty"`
	Payload map[string]string `json:"payload,omitempty"`
	Error   string            `json:"error,omitempty"`
}
