package events

import "context"

// Store defines the interface for persisting consumed events. The real
// clickstream pipeline lives in an external analytics service; this
// interface is what the consumer binary hands events to.
type Store interface {
	SaveLinkCreated(ctx context.Context, event *LinkCreatedEvent) error
	SaveLinkResolved(ctx context.Context, event *LinkResolvedEvent) error
}
