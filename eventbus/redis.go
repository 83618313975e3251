package eventbus

import (
	"context"

	"github.com/go-redis/redis/v8"

	"github.com/candorhq/riverd/model"
	Logger "github.com/candorhq/riverd/utils/log"
)

// RedisBus delivers mutation events across processes through redis pub/sub.
// Redis pub/sub is fire-and-forget: a subscriber that is down misses events,
// which is fine here since membership is durable and clients can re-fetch.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, event *model.Event) error {
	data, err := event.Marshal()
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, topic, data).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	pubsub := b.client.Subscribe(ctx, topic)
	// Force the subscription to be established before returning, so callers
	// don't publish into the void right after Subscribe.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return err
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				event, err := model.UnmarshalEvent([]byte(msg.Payload))
				if err != nil {
					Logger.Log.Errorf("fail to unmarshal mutation event, error: %s", err)
					continue
				}
				handler(event)
			}
		}
	}()

	return nil
}
