package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds are dot-namespaced. The sync core uses:
//
//	cache.*   emitted by the store after a committed cache mutation
//	rt.*      decoded realtime feed events awaiting ingestion
//	feed.*    feed connection state changes
//	outbox.*  send pipeline acks and failures
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
