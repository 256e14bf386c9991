package realtime

import (
	"sync"
	"time"
)

// MessageLog is the ordered, append-only chat transcript of one session.
// Entries are never mutated after they are appended.
type MessageLog struct {
	mu      sync.RWMutex
	entries []ChatMessage
}

func NewMessageLog() *MessageLog {
	return &MessageLog{}
}

// Append stores msg, stamping it with the current time when unset, and
// returns its index.
func (l *MessageLog) Append(msg ChatMessage) int {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, msg)
	return len(l.entries) - 1
}

func (l *MessageLog) List() []ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.entries) == 0 {
		return nil
	}

	out := make([]ChatMessage, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *MessageLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
