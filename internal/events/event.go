// Package events defines the outbound events the resolution core emits.
// Emission is fire-and-forget with at-least-once delivery assumed on the
// sink's side; downstream enrichment and aggregation live in separate
// services consuming these topics.
package events

import "time"

const (
	// TopicLinkCreated carries LinkCreatedEvent.
	TopicLinkCreated = "link.created"
	// TopicLinkResolved carries LinkResolvedEvent.
	TopicLinkResolved = "link.resolved"
)

// LinkCreatedEvent is emitted after a short link is durably created.
type LinkCreatedEvent struct {
	Code        string     `json:"code"`
	Destination string     `json:"destination"`
	OwnerID     string     `json:"ownerId,omitempty"`
	Custom      bool       `json:"custom"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	ClientIP    string     `json:"clientIp"`
	UserAgent   string     `json:"userAgent"`
}

// LinkResolvedEvent is emitted after a successful redirect.
type LinkResolvedEvent struct {
	Code        string    `json:"code"`
	Destination string    `json:"destination"`
	ResolvedAt  time.Time `json:"resolvedAt"`
	CacheHit    bool      `json:"cacheHit"`
	ClientIP    string    `json:"clientIp"`
	UserAgent   string    `json:"userAgent"`
	Referrer    string    `json:"referrer,omitempty"`
}
