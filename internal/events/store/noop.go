package store

import (
	"context"

	"github.com/serroba/shortlink/internal/events"
	"go.uber.org/zap"
)

// Noop is a no-op implementation of events.Store that logs what it sees.
// It stands in for the external analytics pipeline in local deployments.
type Noop struct {
	logger *zap.Logger
}

// NewNoop creates a new no-op event store.
func NewNoop(logger *zap.Logger) *Noop {
	return &Noop{logger: logger}
}

func (n *Noop) SaveLinkCreated(_ context.Context, event *events.LinkCreatedEvent) error {
	n.logger.Info("link created event received",
		zap.String("code", event.Code),
		zap.String("destination", event.Destination),
		zap.Bool("custom", event.Custom),
		zap.Time("createdAt", event.CreatedAt),
	)

	return nil
}

func (n *Noop) SaveLinkResolved(_ context.Context, event *events.LinkResolvedEvent) error {
	n.logger.Info("link resolved event received",
		zap.String("code", event.Code),
		zap.Bool("cacheHit", event.CacheHit),
		zap.Time("resolvedAt", event.ResolvedAt),
	)

	return nil
}
