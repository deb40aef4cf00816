// Package ratelimit implements token-bucket admission control over a
// shared counter store. Each (subject, class) pair owns an independent
// bucket; consumption is a single atomic read-modify-write so two
// concurrent requests can never both spend the last token.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Class identifies an independently limited operation class.
type Class string

const (
	// ClassAnonymousCreate limits anonymous link creation, keyed by IP.
	ClassAnonymousCreate Class = "create:anon"
	// ClassAccountCreate limits authenticated link creation, keyed by account.
	ClassAccountCreate Class = "create:account"
	// ClassRedirect limits redirects, keyed by IP.
	ClassRedirect Class = "redirect"
)

// Limit is a token bucket configuration: Capacity bounds the burst,
// RefillRate adds tokens per second up to Capacity.
type Limit struct {
	Capacity   float64
	RefillRate float64
}

// Decision is the outcome of a consume attempt. When not allowed,
// RetryAfter hints how long until the requested cost becomes available.
type Decision struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
}

// Bucketer is the shared token bucket store. Consume refills the bucket
// for elapsed time, then attempts to subtract cost, all atomically.
type Bucketer interface {
	Consume(ctx context.Context, key string, cost float64, limit Limit) (Decision, error)
}

// Limiter applies per-class token bucket limits to subjects.
//
// When the bucket store is unreachable the limiter fails in the
// configured direction: fail-open admits the request and logs the
// degradation, fail-closed rejects it. The policy is explicit so an
// outage never makes admission behavior accidental.
type Limiter struct {
	buckets  Bucketer
	limits   map[Class]Limit
	failOpen bool
	logger   *zap.Logger
}

// New creates a Limiter with the given per-class limits.
func New(buckets Bucketer, limits map[Class]Limit, failOpen bool, logger *zap.Logger) *Limiter {
	return &Limiter{
		buckets:  buckets,
		limits:   limits,
		failOpen: failOpen,
		logger:   logger,
	}
}

// TryConsume attempts to spend cost tokens from the subject's bucket
// for the given class. A class with no configured limit is always
// admitted. Bucket store failures never surface to the caller; the
// returned Decision reflects the fail-open/fail-closed policy.
func (l *Limiter) TryConsume(ctx context.Context, subject string, class Class, cost float64) Decision {
	limit, ok := l.limits[class]
	if !ok {
		return Decision{Allowed: true}
	}

	key := bucketKey(subject, class)

	decision, err := l.buckets.Consume(ctx, key, cost, limit)
	if err != nil {
		l.logger.Warn("rate limit store unreachable",
			zap.String("class", string(class)),
			zap.Bool("fail_open", l.failOpen),
			zap.Error(err),
		)

		return Decision{Allowed: l.failOpen}
	}

	return decision
}

// bucketKey builds the bucket key for a (subject, class) pair. A client
// never shares one bucket across classes.
func bucketKey(subject string, class Class) string {
	return fmt.Sprintf("ratelimit:%s:%s", class, subject)
}

// retryAfter computes the minimum wait until cost tokens are available.
func retryAfter(cost, balance, refillRate float64) time.Duration {
	if refillRate <= 0 {
		return 0
	}

	missing := cost - balance
	if missing <= 0 {
		return 0
	}

	return time.Duration(missing / refillRate * float64(time.Second))
}
