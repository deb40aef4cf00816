// Package resolver composes the rate limiter, code generator, durable
// store, cache, and event emission into the end-to-end create and
// resolve operations.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/serroba/shortlink/internal/cache"
	"github.com/serroba/shortlink/internal/codegen"
	"github.com/serroba/shortlink/internal/events"
	"github.com/serroba/shortlink/internal/messaging"
	"github.com/serroba/shortlink/internal/ratelimit"
	"github.com/serroba/shortlink/internal/shortlink"
	"go.uber.org/zap"
)

// LinkCache is the tiered cache in front of the durable store. All of
// its operations are best effort: a miss or a swallowed failure sends
// the resolver to the durable store, never to the caller.
type LinkCache interface {
	Lookup(ctx context.Context, code string) (*cache.Entry, bool)
	Populate(ctx context.Context, link *shortlink.ShortLink)
	Invalidate(ctx context.Context, code string)
	IncrementUsage(ctx context.Context, code string)
}

// Admitter decides whether an operation is admitted for a subject.
type Admitter interface {
	TryConsume(ctx context.Context, subject string, class ratelimit.Class, cost float64) ratelimit.Decision
}

// Generator produces and validates short codes.
type Generator interface {
	NewCode() string
}

// Subject identifies the client a request is limited and attributed to.
type Subject struct {
	IP        string
	AccountID string // empty for anonymous requests
	UserAgent string
	Referrer  string
}

// CreateRequest carries everything needed to create a short link.
type CreateRequest struct {
	Destination string
	CustomCode  string
	OwnerID     *string
	ExpiresAt   *time.Time
	Metadata    map[string]string
	Subject     Subject
}

// Config bounds the resolver's retry behavior.
type Config struct {
	// MaxGenerationAttempts bounds how often a conflicting generated
	// code is regenerated before the create fails with
	// ErrGenerationExhausted.
	MaxGenerationAttempts int
}

// Service is the resolution orchestrator. It holds no persistent state
// of its own; every operation leaves the system valid even when the
// caller aborts mid-flight.
type Service struct {
	repo            shortlink.Repository
	cache           LinkCache
	limiter         Admitter
	gen             Generator
	publishCreated  messaging.Publish[events.LinkCreatedEvent]
	publishResolved messaging.Publish[events.LinkResolvedEvent]
	maxAttempts     int
	logger          *zap.Logger
}

// New creates a resolution service.
func New(
	repo shortlink.Repository,
	linkCache LinkCache,
	limiter Admitter,
	gen Generator,
	publishCreated messaging.Publish[events.LinkCreatedEvent],
	publishResolved messaging.Publish[events.LinkResolvedEvent],
	cfg Config,
	logger *zap.Logger,
) *Service {
	maxAttempts := cfg.MaxGenerationAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	return &Service{
		repo:            repo,
		cache:           linkCache,
		limiter:         limiter,
		gen:             gen,
		publishCreated:  publishCreated,
		publishResolved: publishResolved,
		maxAttempts:     maxAttempts,
		logger:          logger,
	}
}

// Create makes a new short link. Anonymous creations are limited by IP,
// authenticated ones by account. Generated codes retry on conflict up
// to the configured bound; custom codes fail fast when taken.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*shortlink.ShortLink, error) {
	class := ratelimit.ClassAnonymousCreate
	subject := req.Subject.IP

	if req.Subject.AccountID != "" {
		class = ratelimit.ClassAccountCreate
		subject = req.Subject.AccountID
	}

	decision := s.limiter.TryConsume(ctx, subject, class, 1)
	if !decision.Allowed {
		return nil, &shortlink.AdmissionDeniedError{RetryAfter: decision.RetryAfter}
	}

	destination, err := shortlink.NormalizeDestination(req.Destination)
	if err != nil {
		return nil, err
	}

	link := &shortlink.ShortLink{
		Destination: destination,
		OwnerID:     req.OwnerID,
		CreatedAt:   time.Now(),
		ExpiresAt:   req.ExpiresAt,
		Active:      true,
		Metadata:    req.Metadata,
	}

	if req.CustomCode != "" {
		if err := s.insertCustom(ctx, link, req.CustomCode); err != nil {
			return nil, err
		}
	} else {
		if err := s.insertGenerated(ctx, link); err != nil {
			return nil, err
		}
	}

	s.cache.Populate(ctx, link)

	s.emitCreated(link, req)

	return link, nil
}

// insertCustom validates the caller-supplied code, pre-checks
// availability for a fast failure, and inserts. The unique constraint
// closes the race the pre-check leaves open.
func (s *Service) insertCustom(ctx context.Context, link *shortlink.ShortLink, code string) error {
	if err := codegen.ValidateCustomCode(code); err != nil {
		return err
	}

	_, err := s.repo.FindByCode(ctx, code)
	if err == nil {
		return shortlink.ErrCodeUnavailable
	}

	if !errors.Is(err, shortlink.ErrNotFound) {
		return fmt.Errorf("%w: %v", shortlink.ErrUnavailable, err)
	}

	link.Code = code

	err = s.repo.Insert(ctx, link)
	if errors.Is(err, shortlink.ErrCodeConflict) {
		return shortlink.ErrCodeUnavailable
	}

	if err != nil {
		return fmt.Errorf("%w: %v", shortlink.ErrUnavailable, err)
	}

	return nil
}

// insertGenerated draws fresh candidates until the insert lands or the
// attempt bound is exceeded. Uniqueness comes from the store's
// constraint, never from pre-checking.
func (s *Service) insertGenerated(ctx context.Context, link *shortlink.ShortLink) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		link.Code = s.gen.NewCode()

		err := s.repo.Insert(ctx, link)
		if err == nil {
			return nil
		}

		if errors.Is(err, shortlink.ErrCodeConflict) {
			s.logger.Debug("generated code conflicted, retrying",
				zap.String("code", link.Code),
				zap.Int("attempt", attempt),
			)

			continue
		}

		return fmt.Errorf("%w: %v", shortlink.ErrUnavailable, err)
	}

	return shortlink.ErrGenerationExhausted
}

// Resolve maps a code to its destination. A fresh cached snapshot is
// treated as authoritative until its freshness deadline; the durable
// store serves misses. The usage increment and event emission never
// block the response.
func (s *Service) Resolve(ctx context.Context, code string, subject Subject) (string, error) {
	decision := s.limiter.TryConsume(ctx, subject.IP, ratelimit.ClassRedirect, 1)
	if !decision.Allowed {
		return "", &shortlink.AdmissionDeniedError{RetryAfter: decision.RetryAfter}
	}

	now := time.Now()

	if entry, ok := s.cache.Lookup(ctx, code); ok {
		if !entry.Active {
			return "", shortlink.ErrGone
		}

		if entry.ExpiresAt != nil && now.After(*entry.ExpiresAt) {
			// The link's own expiry passed; the entry can never become
			// valid again, so drop it rather than waiting out the TTL.
			s.cache.Invalidate(ctx, code)

			return "", shortlink.ErrGone
		}

		s.cache.IncrementUsage(ctx, code)
		s.emitResolved(code, entry.Destination, subject, true)

		return entry.Destination, nil
	}

	link, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, shortlink.ErrNotFound) {
			return "", shortlink.ErrNotFound
		}

		return "", fmt.Errorf("%w: %v", shortlink.ErrUnavailable, err)
	}

	// Cache the durable snapshot either way: a gone link cached with
	// its inactive flag answers repeat traffic without another store
	// round trip.
	s.cache.Populate(ctx, link)

	if !link.Resolvable(now) {
		return "", shortlink.ErrGone
	}

	s.cache.IncrementUsage(ctx, code)
	s.emitResolved(code, link.Destination, subject, false)

	return link.Destination, nil
}

func (s *Service) emitCreated(link *shortlink.ShortLink, req CreateRequest) {
	event := &events.LinkCreatedEvent{
		Code:        link.Code,
		Destination: link.Destination,
		Custom:      req.CustomCode != "",
		CreatedAt:   link.CreatedAt,
		ExpiresAt:   link.ExpiresAt,
		ClientIP:    req.Subject.IP,
		UserAgent:   req.Subject.UserAgent,
	}

	if link.OwnerID != nil {
		event.OwnerID = *link.OwnerID
	}

	if err := s.publishCreated(event); err != nil {
		s.logger.Error("failed to publish link created event",
			zap.String("code", link.Code),
			zap.Error(err),
		)
	}
}

func (s *Service) emitResolved(code, destination string, subject Subject, cacheHit bool) {
	event := &events.LinkResolvedEvent{
		Code:        code,
		Destination: destination,
		ResolvedAt:  time.Now(),
		CacheHit:    cacheHit,
		ClientIP:    subject.IP,
		UserAgent:   subject.UserAgent,
		Referrer:    subject.Referrer,
	}

	if err := s.publishResolved(event); err != nil {
		s.logger.Error("failed to publish link resolved event",
			zap.String("code", code),
			zap.Error(err),
		)
	}
}
