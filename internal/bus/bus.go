// Package bus provides the broadcast channel used to tell connected clients
// that counter state changed. Events carry no payload: they are a pure
// invalidation signal and subscribers re-fetch on receipt.
package bus

import "context"

const (
	// CounterChannel is the shared channel all overlay and remote clients
	// listen on
	CounterChannel = "counter"
	// EventUpdated is published after any successful counter mutation
	EventUpdated = "updated"
)

// A Bus fans events out to subscribers. Delivery is best effort: a
// subscriber that is gone or slow simply misses the event.
type Bus interface {
	Publish(ctx context.Context, channel, event string) error
	// Subscribe returns a channel of event names and a cancel func that
	// must be called on teardown
	Subscribe(ctx context.Context, channel string) (<-chan string, func(), error)
	Close() error
}
