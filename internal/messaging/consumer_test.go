package messaging_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/serroba/shortlink/internal/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// clickNotice is the payload shape the typed plumbing is exercised with.
type clickNotice struct {
	Code   string `json:"code"`
	Target string `json:"target"`
}

// streamStub hands pre-loaded messages to a consumer.
type streamStub struct {
	deliveries    chan *message.Message
	failSubscribe error

	mu     sync.Mutex
	closed bool
}

func newStreamStub() *streamStub {
	return &streamStub{deliveries: make(chan *message.Message, 8)}
}

func (s *streamStub) Subscribe(_ context.Context, _ string) (<-chan *message.Message, error) {
	if s.failSubscribe != nil {
		return nil, s.failSubscribe
	}

	return s.deliveries, nil
}

func (s *streamStub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.deliveries)
	}

	return nil
}

func (s *streamStub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

func noticeMessage(t *testing.T, notice *clickNotice) *message.Message {
	t.Helper()

	payload, err := json.Marshal(notice)
	require.NoError(t, err)

	return message.NewMessage(watermill.NewUUID(), payload)
}

func awaitAck(t *testing.T, msg *message.Message) {
	t.Helper()

	select {
	case <-msg.Acked():
	case <-msg.Nacked():
		t.Fatal("message was nacked")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ack")
	}
}

func awaitNack(t *testing.T, msg *message.Message) {
	t.Helper()

	select {
	case <-msg.Nacked():
	case <-msg.Acked():
		t.Fatal("message was acked")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for nack")
	}
}

func TestConsumer_Start(t *testing.T) {
	t.Run("subscribes to its topic", func(t *testing.T) {
		stream := newStreamStub()
		consumer := messaging.NewConsumer(
			stream,
			"notice.click",
			func(_ context.Context, _ *clickNotice) error { return nil },
			zap.NewNop(),
		)

		require.NoError(t, consumer.Start(context.Background()))
		defer func() { _ = consumer.Shutdown() }()

		assert.Equal(t, "notice.click", consumer.Topic())
	})

	t.Run("surfaces a subscribe failure", func(t *testing.T) {
		stream := &streamStub{failSubscribe: errors.New("stream gone")}
		consumer := messaging.NewConsumer(
			stream,
			"notice.click",
			func(_ context.Context, _ *clickNotice) error { return nil },
			zap.NewNop(),
		)

		assert.Error(t, consumer.Start(context.Background()))
	})
}

func TestConsumer_Delivery(t *testing.T) {
	t.Run("decodes the payload and acks", func(t *testing.T) {
		stream := newStreamStub()

		var (
			mu  sync.Mutex
			got *clickNotice
		)

		consumer := messaging.NewConsumer(
			stream,
			"notice.click",
			func(_ context.Context, notice *clickNotice) error {
				mu.Lock()
				defer mu.Unlock()

				got = notice

				return nil
			},
			zap.NewNop(),
		)

		require.NoError(t, consumer.Start(context.Background()))
		defer func() { _ = consumer.Shutdown() }()

		msg := noticeMessage(t, &clickNotice{Code: "b7Qx3Zp", Target: "https://example.com"})
		stream.deliveries <- msg

		awaitAck(t, msg)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "b7Qx3Zp", got.Code)
		assert.Equal(t, "https://example.com", got.Target)
	})

	t.Run("nacks a payload that does not decode", func(t *testing.T) {
		stream := newStreamStub()
		consumer := messaging.NewConsumer(
			stream,
			"notice.click",
			func(_ context.Context, _ *clickNotice) error { return nil },
			zap.NewNop(),
		)

		require.NoError(t, consumer.Start(context.Background()))
		defer func() { _ = consumer.Shutdown() }()

		msg := message.NewMessage(watermill.NewUUID(), []byte("{not json"))
		stream.deliveries <- msg

		awaitNack(t, msg)
	})

	t.Run("nacks when the handler fails", func(t *testing.T) {
		stream := newStreamStub()
		consumer := messaging.NewConsumer(
			stream,
			"notice.click",
			func(_ context.Context, _ *clickNotice) error { return errors.New("sink down") },
			zap.NewNop(),
		)

		require.NoError(t, consumer.Start(context.Background()))
		defer func() { _ = consumer.Shutdown() }()

		msg := noticeMessage(t, &clickNotice{Code: "b7Qx3Zp"})
		stream.deliveries <- msg

		awaitNack(t, msg)
	})
}

func TestConsumer_Shutdown(t *testing.T) {
	t.Run("stops a running consumer", func(t *testing.T) {
		stream := newStreamStub()
		consumer := messaging.NewConsumer(
			stream,
			"notice.click",
			func(_ context.Context, _ *clickNotice) error { return nil },
			zap.NewNop(),
		)

		require.NoError(t, consumer.Start(context.Background()))

		assert.NoError(t, consumer.Shutdown())
	})

	t.Run("returns immediately when never started", func(t *testing.T) {
		consumer := messaging.NewConsumer(
			newStreamStub(),
			"notice.click",
			func(_ context.Context, _ *clickNotice) error { return nil },
			zap.NewNop(),
		)

		done := make(chan error, 1)
		go func() { done <- consumer.Shutdown() }()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("shutdown blocked without a running consume loop")
		}
	})

	t.Run("returns immediately after a failed start", func(t *testing.T) {
		stream := &streamStub{failSubscribe: errors.New("stream gone")}
		consumer := messaging.NewConsumer(
			stream,
			"notice.click",
			func(_ context.Context, _ *clickNotice) error { return nil },
			zap.NewNop(),
		)

		require.Error(t, consumer.Start(context.Background()))

		done := make(chan error, 1)
		go func() { done <- consumer.Shutdown() }()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("shutdown blocked without a running consume loop")
		}
	})
}
