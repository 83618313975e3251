package eventbus

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/candorhq/riverd/model"
	Logger "github.com/candorhq/riverd/utils/log"
)

// GoChannelBus is the in-process bus built on watermill's golang channel
// pubsub. It serves single-process deployments and tests. When the engine
// and router live in different processes, substitute RedisBus.
type GoChannelBus struct {
	inner *gochannel.GoChannel
}

func NewGoChannelBus() *GoChannelBus {
	return &GoChannelBus{
		inner: gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{}),
	}
}

func (b *GoChannelBus) Publish(ctx context.Context, topic string, event *model.Event) error {
	data, err := event.Marshal()
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	return b.inner.Publish(topic, msg)
}

func (b *GoChannelBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	messages, err := b.inner.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			msg.Ack()

			event, err := model.UnmarshalEvent(msg.Payload)
			if err != nil {
				Logger.Log.Errorf("fail to unmarshal mutation event, error: %s", err)
				continue
			}
			handler(event)
		}
	}()

	return nil
}

// Close shuts the underlying pubsub down, terminating all subscribers.
func (b *GoChannelBus) Close() error {
	return b.inner.Close()
}
