package shortlink

import "time"

// ShortLink represents a short code mapped to a destination URL.
type ShortLink struct {
	Code        string
	Destination string
	OwnerID     *string // nil for anonymous creation
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	Active      bool
	UsageCount  int64
	Metadata    map[string]string
}

// Expired reports whether the link's expiry time has passed.
func (l *ShortLink) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// Resolvable reports whether the link can currently be redirected to.
// A link is resolvable while it is active and not expired.
func (l *ShortLink) Resolvable(now time.Time) bool {
	return l.Active && !l.Expired(now)
}

// Clone returns a deep copy of the link.
func (l *ShortLink) Clone() *ShortLink {
	clone := *l

	if l.OwnerID != nil {
		owner := *l.OwnerID
		clone.OwnerID = &owner
	}

	if l.ExpiresAt != nil {
		expires := *l.ExpiresAt
		clone.ExpiresAt = &expires
	}

	if l.Metadata != nil {
		clone.Metadata = make(map[string]string, len(l.Metadata))
		for k, v := range l.Metadata {
			clone.Metadata[k] = v
		}
	}

	return &clone
}
