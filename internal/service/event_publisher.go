package service

import "github.com/shaharia-lab/notifyd/internal/eventbus"

// EventPublisher queues workflow events for asynchronous handling.
// eventbus.EventBus satisfies it.
type EventPublisher interface {
	Publish(e eventbus.Event) error
}
