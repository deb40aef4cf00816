package shortlink

import "context"

// Repository defines the authoritative storage for short links.
// The implementation enforces code uniqueness via a constraint;
// pre-checking in the application layer is an optimization only.
type Repository interface {
	// Insert stores a new link. Returns ErrCodeConflict when the code
	// is already taken.
	Insert(ctx context.Context, link *ShortLink) error

	// FindByCode retrieves a link. Returns ErrNotFound when the code
	// does not exist.
	FindByCode(ctx context.Context, code string) (*ShortLink, error)

	// IncrementUsage atomically adds delta to the usage counter.
	// The counter is monotonic; delta must be positive.
	IncrementUsage(ctx context.Context, code string, delta int64) error

	// SetActive updates the active flag. Deactivation is one-way:
	// a link that has been deactivated stays inactive.
	SetActive(ctx context.Context, code string, active bool) error
}
