package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds are dot-separated, most significant first: "conversation.updated",
// "message.appended", "reconcile.repaired", "daemon.status_changed".
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
