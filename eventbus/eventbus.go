// Package eventbus carries mutation events from the fan-out engine to every
// broadcast router instance. The bus is injected explicitly so tests can run
// a synchronous in-process implementation, while deployments use redis
// pub/sub for cross-process delivery. Delivery is at-least-once and possibly
// reordered; a lost broadcast is acceptable, clients re-fetch from storage.
package eventbus

import (
	"context"

	"github.com/candorhq/riverd/model"
)

// TopicMutations is the single topic mutation events are published on.
const TopicMutations = "riverd_mutations"

type Handler func(event *model.Event)

type EventBus interface {
	// Publish emits the event on the topic. Called only after the fan-out
	// transaction commits.
	Publish(ctx context.Context, topic string, event *model.Event) error

	// Subscribe registers a handler for the topic. The handler runs until
	// ctx is cancelled. Malformed payloads are logged and dropped.
	Subscribe(ctx context.Context, topic string, handler Handler) error
}
