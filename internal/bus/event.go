package bus

import "time"

// Event kinds published inside the admin server and client processes.
const (
	KindMessageInserted = "message.inserted"
	KindOutboxSent      = "outbox.sent"
	KindOutboxFailed    = "outbox.failed"
	KindCacheUpdated    = "cache.updated"
	KindRealtimeState   = "realtime.state_changed"
)

// Event is a single notification on the bus. Payload type depends on Kind.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
