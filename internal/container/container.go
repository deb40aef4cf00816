// Package container wires the application's dependencies. Each
// *Package function registers the providers for one concern; binaries
// compose the packages they need.
package container

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor" // CBOR format support for huma
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/serroba/shortlink/internal/cache"
	"github.com/serroba/shortlink/internal/codegen"
	"github.com/serroba/shortlink/internal/events"
	eventstore "github.com/serroba/shortlink/internal/events/store"
	"github.com/serroba/shortlink/internal/handlers"
	"github.com/serroba/shortlink/internal/health"
	"github.com/serroba/shortlink/internal/messaging"
	"github.com/serroba/shortlink/internal/middleware"
	"github.com/serroba/shortlink/internal/ratelimit"
	"github.com/serroba/shortlink/internal/resolver"
	"github.com/serroba/shortlink/internal/shortlink"
	"github.com/serroba/shortlink/internal/store"
	"go.uber.org/zap"
)

// Options holds all runtime configuration. Redis and Postgres are
// optional: with neither configured the service runs fully in-process,
// which is how the test suites exercise it.
type Options struct {
	Port      int    `default:"8888" help:"Port to listen on" short:"p"`
	BaseURL   string `default:""     help:"Public base URL for short links; defaults to http://localhost:<port>"`
	LogFormat string `default:"console" enum:"console,json" help:"Log output format"`

	RedisAddr   string `default:"" help:"Redis server address; empty runs without the shared cache tier"`
	PostgresDSN string `default:"" help:"Postgres connection string; empty uses the in-memory store"`

	CodeLength            int   `default:"7" help:"Length of generated short codes" short:"c"`
	NodeID                int64 `default:"0" help:"Unique node id for code generation (0..1023)"`
	MaxGenerationAttempts int   `default:"5" help:"Regeneration attempts before a create fails"`

	CacheCapacity        int `default:"10000" help:"Max entries in the local cache tier"`
	CacheTTLSeconds      int `default:"300"   help:"Base cache TTL in seconds"`
	CacheMaxTTLFactor    int `default:"8"     help:"Ceiling on the popularity TTL multiplier"`
	CacheHitsPerStep     int `default:"64"    help:"Cache hits per TTL multiplier step"`
	FlushIntervalSeconds int `default:"15"    help:"Seconds between usage-count flushes to the store"`

	AnonCreateBurst        int  `default:"10"   help:"Burst of anonymous creations per IP"`
	AnonCreatePerMinute    int  `default:"30"   help:"Sustained anonymous creations per IP per minute"`
	AccountCreateBurst     int  `default:"30"   help:"Burst of creations per account"`
	AccountCreatePerMinute int  `default:"120"  help:"Sustained creations per account per minute"`
	RedirectBurst          int  `default:"100"  help:"Burst of redirects per IP"`
	RedirectPerMinute      int  `default:"1000" help:"Sustained redirects per IP per minute"`
	RateLimitFailOpen      bool `default:"true" help:"Admit requests when the rate limit store is unreachable"`

	EventBuffer int `default:"1024" help:"Undelivered events buffered before drops"`
}

func (o *Options) baseURL() string {
	if o.BaseURL != "" {
		return o.BaseURL
	}

	return fmt.Sprintf("http://localhost:%d", o.Port)
}

// LoggerPackage provides the zap logger.
func LoggerPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*zap.Logger, error) {
		options := do.MustInvoke[*Options](i)

		if options.LogFormat == "json" {
			return zap.NewProduction()
		}

		return zap.NewDevelopment()
	})
}

// RedisPackage provides the Redis client, or nil when no address is
// configured.
func RedisPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*redis.Client, error) {
		options := do.MustInvoke[*Options](i)

		if options.RedisAddr == "" {
			return nil, nil
		}

		return redis.NewClient(&redis.Options{
			Addr: options.RedisAddr,
		}), nil
	})
}

// PostgresPackage provides the pgx connection pool, or nil when no DSN
// is configured.
func PostgresPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*pgxpool.Pool, error) {
		options := do.MustInvoke[*Options](i)

		if options.PostgresDSN == "" {
			return nil, nil
		}

		return pgxpool.New(context.Background(), options.PostgresDSN)
	})
}

// RepositoryPackage provides the durable link store, backed by Postgres
// when configured and in-memory otherwise.
func RepositoryPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (shortlink.Repository, error) {
		if pool := do.MustInvoke[*pgxpool.Pool](i); pool != nil {
			return store.NewPostgresStore(pool), nil
		}

		return store.NewMemoryStore(), nil
	})
}

// CachePackage provides the tiered link cache.
func CachePackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*cache.Cache, error) {
		options := do.MustInvoke[*Options](i)

		return cache.New(
			do.MustInvoke[*redis.Client](i),
			do.MustInvoke[shortlink.Repository](i),
			cache.Config{
				Capacity:      options.CacheCapacity,
				BaseTTL:       time.Duration(options.CacheTTLSeconds) * time.Second,
				MaxTTLFactor:  float64(options.CacheMaxTTLFactor),
				HitsPerStep:   int64(options.CacheHitsPerStep),
				FlushInterval: time.Duration(options.FlushIntervalSeconds) * time.Second,
			},
			do.MustInvoke[*zap.Logger](i),
		)
	})
}

// RateLimitPackage provides the token bucket limiter, sharing buckets
// through Redis when available.
func RateLimitPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*ratelimit.Limiter, error) {
		options := do.MustInvoke[*Options](i)

		var bucketer ratelimit.Bucketer
		if client := do.MustInvoke[*redis.Client](i); client != nil {
			bucketer = ratelimit.NewRedisBucketer(client)
		} else {
			bucketer = ratelimit.NewMemoryBucketer(5 * time.Minute)
		}

		limits := map[ratelimit.Class]ratelimit.Limit{
			ratelimit.ClassAnonymousCreate: {
				Capacity:   float64(options.AnonCreateBurst),
				RefillRate: float64(options.AnonCreatePerMinute) / 60,
			},
			ratelimit.ClassAccountCreate: {
				Capacity:   float64(options.AccountCreateBurst),
				RefillRate: float64(options.AccountCreatePerMinute) / 60,
			},
			ratelimit.ClassRedirect: {
				Capacity:   float64(options.RedirectBurst),
				RefillRate: float64(options.RedirectPerMinute) / 60,
			},
		}

		return ratelimit.New(bucketer, limits, options.RateLimitFailOpen, do.MustInvoke[*zap.Logger](i)), nil
	})
}

// GeneratorPackage provides the short code generator.
func GeneratorPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*codegen.Generator, error) {
		options := do.MustInvoke[*Options](i)

		return codegen.New(options.NodeID, options.CodeLength)
	})
}

// PublisherGroupPackage provides the event publishers: a Redis Streams
// publisher when Redis is configured, an in-process one otherwise, each
// wrapped in an async queue so emission never blocks a request.
func PublisherGroupPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*messaging.PublisherGroup, error) {
		publisher, err := newPublisher(i)
		if err != nil {
			return nil, err
		}

		return messaging.NewPublisherGroup(publisher), nil
	})

	do.Provide(injector, func(i *do.Injector) (*messaging.AsyncPublisher[events.LinkCreatedEvent], error) {
		group := do.MustInvoke[*messaging.PublisherGroup](i)

		return messaging.NewAsyncPublisher(
			messaging.NewPublishFunc[events.LinkCreatedEvent](group.Publisher(), events.TopicLinkCreated),
			do.MustInvoke[*Options](i).EventBuffer,
			do.MustInvoke[*zap.Logger](i),
		), nil
	})

	do.Provide(injector, func(i *do.Injector) (*messaging.AsyncPublisher[events.LinkResolvedEvent], error) {
		group := do.MustInvoke[*messaging.PublisherGroup](i)

		return messaging.NewAsyncPublisher(
			messaging.NewPublishFunc[events.LinkResolvedEvent](group.Publisher(), events.TopicLinkResolved),
			do.MustInvoke[*Options](i).EventBuffer,
			do.MustInvoke[*zap.Logger](i),
		), nil
	})
}

func newPublisher(i *do.Injector) (message.Publisher, error) {
	client := do.MustInvoke[*redis.Client](i)
	if client == nil {
		return gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{}), nil
	}

	return redisstream.NewPublisher(redisstream.PublisherConfig{
		Client:     client,
		Marshaller: redisstream.DefaultMarshallerUnmarshaller{},
	}, watermill.NopLogger{})
}

// ResolverPackage provides the resolution service.
func ResolverPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*resolver.Service, error) {
		options := do.MustInvoke[*Options](i)

		return resolver.New(
			do.MustInvoke[shortlink.Repository](i),
			do.MustInvoke[*cache.Cache](i),
			do.MustInvoke[*ratelimit.Limiter](i),
			do.MustInvoke[*codegen.Generator](i),
			do.MustInvoke[*messaging.AsyncPublisher[events.LinkCreatedEvent]](i).Func(),
			do.MustInvoke[*messaging.AsyncPublisher[events.LinkResolvedEvent]](i).Func(),
			resolver.Config{MaxGenerationAttempts: options.MaxGenerationAttempts},
			do.MustInvoke[*zap.Logger](i),
		), nil
	})
}

// HTTPPackage provides the chi router and the huma API with all routes
// registered.
func HTTPPackage(injector *do.Injector) {
	do.Provide(injector, func(_ *do.Injector) (*chi.Mux, error) {
		return chi.NewMux(), nil
	})

	do.Provide(injector, func(i *do.Injector) (huma.API, error) {
		options := do.MustInvoke[*Options](i)

		api := humachi.New(do.MustInvoke[*chi.Mux](i), huma.DefaultConfig("Shortlink", "1.0.0"))
		api.UseMiddleware(middleware.RequestMeta(api))

		linkHandler := handlers.NewLinkHandler(
			do.MustInvoke[*resolver.Service](i),
			options.baseURL(),
			do.MustInvoke[*zap.Logger](i),
		)
		handlers.RegisterRoutes(api, linkHandler)

		var redisChecker, postgresChecker health.Checker
		if client := do.MustInvoke[*redis.Client](i); client != nil {
			redisChecker = health.NewRedisChecker(client)
		}

		if pool := do.MustInvoke[*pgxpool.Pool](i); pool != nil {
			postgresChecker = health.NewPostgresChecker(pool)
		}

		health.RegisterRoutes(api, health.NewHandler(redisChecker, postgresChecker))

		return api, nil
	})
}

// ConsumerGroupPackage provides the event consumer group reading the
// link event streams.
func ConsumerGroupPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (message.Subscriber, error) {
		client := do.MustInvoke[*redis.Client](i)
		if client == nil {
			return nil, fmt.Errorf("consumer requires a redis address")
		}

		return redisstream.NewSubscriber(redisstream.SubscriberConfig{
			Client:        client,
			Unmarshaller:  redisstream.DefaultMarshallerUnmarshaller{},
			ConsumerGroup: "shortlink-events",
		}, watermill.NopLogger{})
	})

	do.Provide(injector, func(i *do.Injector) (*messaging.ConsumerGroup, error) {
		logger := do.MustInvoke[*zap.Logger](i)
		subscriber := do.MustInvoke[message.Subscriber](i)

		group := messaging.NewConsumerGroup(subscriber, logger)
		group.Add(events.NewConsumer(subscriber, eventstore.NewNoop(logger), logger))

		return group, nil
	})
}
