package events

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// Consumer drains the link topics into a Store.
type Consumer struct {
	subscriber message.Subscriber
	store      Store
	logger     *zap.Logger
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewConsumer creates a consumer for both link topics.
func NewConsumer(subscriber message.Subscriber, store Store, logger *zap.Logger) *Consumer {
	return &Consumer{
		subscriber: subscriber,
		store:      store,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Start begins consuming messages from both topics.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	createdMsgs, err := c.subscriber.Subscribe(ctx, TopicLinkCreated)
	if err != nil {
		cancel()

		return err
	}

	resolvedMsgs, err := c.subscriber.Subscribe(ctx, TopicLinkResolved)
	if err != nil {
		cancel()

		return err
	}

	c.cancel = cancel

	go c.consumeLoop(ctx, createdMsgs, resolvedMsgs)

	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context, createdMsgs, resolvedMsgs <-chan *message.Message) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-createdMsgs:
			if !ok {
				return
			}

			c.handleLinkCreated(ctx, msg)
		case msg, ok := <-resolvedMsgs:
			if !ok {
				return
			}

			c.handleLinkResolved(ctx, msg)
		}
	}
}

func (c *Consumer) handleLinkCreated(ctx context.Context, msg *message.Message) {
	var event LinkCreatedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		c.logger.Error("failed to unmarshal link created event",
			zap.Error(err),
		)
		msg.Nack()

		return
	}

	if err := c.store.SaveLinkCreated(ctx, &event); err != nil {
		c.logger.Error("failed to save link created event",
			zap.String("code", event.Code),
			zap.Error(err),
		)
		msg.Nack()

		return
	}

	msg.Ack()
}

func (c *Consumer) handleLinkResolved(ctx context.Context, msg *message.Message) {
	var event LinkResolvedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		c.logger.Error("failed to unmarshal link resolved event",
			zap.Error(err),
		)
		msg.Nack()

		return
	}

	if err := c.store.SaveLinkResolved(ctx, &event); err != nil {
		c.logger.Error("failed to save link resolved event",
			zap.String("code", event.Code),
			zap.Error(err),
		)
		msg.Nack()

		return
	}

	msg.Ack()
}

// Shutdown stops the consumer and waits for in-flight messages to
// complete. A consumer that never started only closes the subscriber.
func (c *Consumer) Shutdown() error {
	if c.cancel == nil {
		return c.subscriber.Close()
	}

	c.cancel()
	<-c.done

	return c.subscriber.Close()
}
