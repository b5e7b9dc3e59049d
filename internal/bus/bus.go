package bus

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/upkeep-automator/pkg/utils"
)

// Topic identifies an event stream on the in-process bus
type Topic string

const (
	TopicContractRegistered Topic = "contract.registered"
	TopicAutomatorDeployed  Topic = "automator.deployed"
	TopicAutomatorExecution Topic = "automator.execution"
)

// Event is a published bus message
type Event struct {
	Topic   Topic
	Payload interface{}
}

// Handler receives published events for a topic
type Handler func(Event)

// Subscription cancels a handler registration
type Subscription func()

// Bus is a minimal in-process pub/sub channel. It is passed to components as
// an explicit dependency; handlers run synchronously on the publisher's
// goroutine, so they must not block.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Topic]map[int]Handler
	nextID   int
	logger   *logrus.Entry
}

// New creates an empty bus
func New() *Bus {
	return &Bus{
		handlers: make(map[Topic]map[int]Handler),
		logger:   utils.ComponentLogger("bus"),
	}
}

// Subscribe registers a handler for a topic and returns its cancel function
func (b *Bus) Subscribe(topic Topic, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.handlers[topic][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[topic], id)
	}
}

// Publish delivers an event to every handler subscribed to its topic
func (b *Bus) Publish(topic Topic, payload interface{}) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[topic]))
	for _, h := range b.handlers[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	event := Event{Topic: topic, Payload: payload}
	for _, h := range handlers {
		h(event)
	}

	b.logger.WithFields(logrus.Fields{
		"topic":    string(topic),
		"handlers": len(handlers),
	}).Debug("Event published")
}

// SubscriberCount returns the number of handlers registered for a topic
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}
