// Package event provides the cross-cutting event bus shared by the
// loader, mods, and config engine.
//
// Subscriptions are owner-scoped so a mod's registrations can be torn
// down in one call when it shuts down. Dispatch isolates subscribers
// from each other: a panicking handler is recorded and logged, and the
// remaining handlers still run.
package event

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/patchworkmods/patchwork/internal/logging"
)

// Topic names an event stream on the bus.
type Topic string

// Topics fired by the loader and mod lifecycle.
const (
	// TopicModShuttingDown fires just before a mod's shutdown body runs.
	TopicModShuttingDown Topic = "mod.shutting-down"
	// TopicModShutdownDone fires after a mod's shutdown body finished.
	TopicModShutdownDone Topic = "mod.shutdown-done"
	// TopicConfigSaved fires after a config document was written.
	TopicConfigSaved Topic = "config.saved"
	// TopicConfigChanged fires when a defining key's value changed.
	TopicConfigChanged Topic = "config.changed"
)

// Event is a payload dispatched on a topic.
type Event struct {
	// Topic the event was dispatched on.
	Topic Topic

	// Source identifies who dispatched the event (typically a mod or
	// config owner id).
	Source string

	// Payload is topic-specific data, may be nil.
	Payload any
}

// Handler handles a dispatched event.
type Handler func(Event)

type subscription struct {
	id      uint64
	owner   string
	topic   Topic
	handler Handler
}

// Bus is the event dispatcher. Create one with NewBus.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64
	log    *logging.Logger
}

// NewBus creates an event bus. A nil logger disables dispatch logging.
func NewBus(log *logging.Logger) *Bus {
	if log == nil {
		log = logging.NullLogger
	}
	return &Bus{
		subs: make(map[uint64]*subscription),
		log:  log,
	}
}

// Subscribe registers a handler for a topic on behalf of an owner.
// Returns an unsubscribe function. A nil handler is a no-op.
func (b *Bus) Subscribe(owner string, topic Topic, handler Handler) func() {
	if handler == nil {
		return func() {}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscription{id: id, owner: owner, topic: topic, handler: handler}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// UnsubscribeOwner removes every subscription registered by the owner
// and returns how many were removed.
func (b *Bus) UnsubscribeOwner(owner string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id, sub := range b.subs {
		if sub.owner == owner {
			delete(b.subs, id)
			removed++
		}
	}
	return removed
}

// SubscriberCount returns the number of subscriptions for a topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, sub := range b.subs {
		if sub.topic == topic {
			count++
		}
	}
	return count
}

// Dispatch delivers the event to every subscriber of its topic in
// subscription order. A panicking subscriber does not prevent the rest
// from running; all panics are collected, logged, and returned as a
// single aggregated error.
func (b *Bus) Dispatch(ev Event) error {
	b.mu.RLock()
	matched := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.topic == ev.Topic {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].id < matched[j].id })

	var errs *multierror.Error
	for _, sub := range matched {
		if err := b.call(sub, ev); err != nil {
			errs = multierror.Append(errs, err)
			b.log.Error(logging.Msgf("event %s: subscriber owned by %q failed: %v", ev.Topic, sub.owner, err))
		}
	}
	return errs.ErrorOrNil()
}

func (b *Bus) call(sub *subscription, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	sub.handler(ev)
	return nil
}
