package store

import (
	"fmt"

	"github.com/faustyu/paprika/internal/bus"
)

// Watcher turns the store's per-mutation bus notifications into live
// per-chat snapshots, the shape rendering code consumes. The channel always
// carries the newest snapshot: if the consumer lags, stale intermediate
// snapshots are replaced rather than queued.
type Watcher struct {
	db  *DB
	bus *bus.Bus
}

// NewWatcher creates a watcher over the given store.
func NewWatcher(db *DB, b *bus.Bus) *Watcher {
	return &Watcher{db: db, bus: b}
}

// Watch subscribes to a chat's live message view. The initial snapshot is
// loaded before Watch returns, so a mutation issued after Watch cannot be
// missed: it either made the initial read or arrives as a bus notification.
//
// Snapshot delivery is asynchronous: a direct ListMessages read sees a
// committed write immediately, while the corresponding snapshot arrives a
// notification later. Delivery converges on the final state: each
// notification triggers a fresh read, so a consumer that lags still ends
// on a snapshot reflecting every committed write.
//
// The returned stop function releases the subscription.
func (w *Watcher) Watch(chatID int64) (<-chan []Message, func(), error) {
	events, unsub := w.bus.Subscribe("cache.message", 64)

	snap, err := w.db.ListMessages(chatID)
	if err != nil {
		unsub()
		return nil, nil, fmt.Errorf("initial snapshot: %w", err)
	}

	out := make(chan []Message, 1)
	out <- snap

	done := make(chan struct{})
	go func() {
		for {
			select {
			case evt := <-events:
				ref, ok := evt.Payload.(ChatRef)
				if !ok || ref.ChatID != chatID {
					continue
				}
				snap, err := w.db.ListMessages(chatID)
				if err != nil {
					continue
				}
				pushLatest(out, snap)
			case <-done:
				// Closing here, on the only sending goroutine, lets
				// consumers range over the channel.
				close(out)
				return
			}
		}
	}()

	var stopped bool
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		unsub()
		close(done)
	}
	return out, stop, nil
}

// pushLatest delivers snap, displacing an unconsumed older snapshot.
func pushLatest(out chan []Message, snap []Message) {
	for {
		select {
		case out <- snap:
			return
		default:
		}
		select {
		case <-out:
		default:
		}
	}
}
