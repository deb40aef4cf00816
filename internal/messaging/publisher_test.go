package messaging_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/serroba/shortlink/internal/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sinkPublisher records everything published into it.
type sinkPublisher struct {
	topic       string
	published   []*message.Message
	failPublish error
	failClose   error
}

func (s *sinkPublisher) Publish(topic string, msgs ...*message.Message) error {
	if s.failPublish != nil {
		return s.failPublish
	}

	s.topic = topic
	s.published = append(s.published, msgs...)

	return nil
}

func (s *sinkPublisher) Close() error {
	return s.failClose
}

func TestNewPublishFunc(t *testing.T) {
	t.Run("encodes the event and routes it to the topic", func(t *testing.T) {
		sink := &sinkPublisher{}
		publish := messaging.NewPublishFunc[clickNotice](sink, "notice.click")

		err := publish(&clickNotice{Code: "b7Qx3Zp", Target: "https://example.com"})

		require.NoError(t, err)
		assert.Equal(t, "notice.click", sink.topic)
		require.Len(t, sink.published, 1)
		assert.NotEmpty(t, sink.published[0].UUID)

		var decoded clickNotice
		require.NoError(t, json.Unmarshal(sink.published[0].Payload, &decoded))
		assert.Equal(t, "b7Qx3Zp", decoded.Code)
		assert.Equal(t, "https://example.com", decoded.Target)
	})

	t.Run("propagates a sink failure", func(t *testing.T) {
		sink := &sinkPublisher{failPublish: errors.New("sink down")}
		publish := messaging.NewPublishFunc[clickNotice](sink, "notice.click")

		assert.Error(t, publish(&clickNotice{Code: "b7Qx3Zp"}))
	})
}

func TestPublisherGroup(t *testing.T) {
	t.Run("exposes the underlying publisher", func(t *testing.T) {
		sink := &sinkPublisher{}

		group := messaging.NewPublisherGroup(sink)

		assert.Equal(t, sink, group.Publisher())
	})

	t.Run("shutdown closes the publisher", func(t *testing.T) {
		group := messaging.NewPublisherGroup(&sinkPublisher{})

		assert.NoError(t, group.Shutdown())
	})

	t.Run("shutdown surfaces a close failure", func(t *testing.T) {
		group := messaging.NewPublisherGroup(&sinkPublisher{failClose: errors.New("already closed")})

		assert.Error(t, group.Shutdown())
	})
}
