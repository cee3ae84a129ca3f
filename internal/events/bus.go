package events

import (
	"context"
	"reflect"
	"sync"

	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

// Bus is a typed in-process event bus. It connects the dev server's file
// watcher, rebuild loop and CLI reporting.
//
// Publish blocks until every matching subscriber accepted the event or ctx
// is done, so a subscriber that stops reading must unsubscribe. A
// subscription for an interface type receives every event implementing it.
// Events are not persisted.
type Bus struct {
	mu     sync.RWMutex
	seq    uint64
	topics map[reflect.Type]map[uint64]mailbox
	closed bool
}

// mailbox is one subscription, independent of its event type.
type mailbox interface {
	deliver(ctx context.Context, evt any) error
	shut()
}

type typedMailbox[T any] struct {
	ch   chan T
	once sync.Once
}

func (m *typedMailbox[T]) deliver(ctx context.Context, evt any) error {
	v, ok := evt.(T)
	if !ok {
		return ferrors.InternalError("event type mismatch").
			WithContext("expected", reflect.TypeFor[T]().String()).
			WithContext("actual", reflect.TypeOf(evt).String()).
			Build()
	}
	select {
	case m.ch <- v:
		return nil
	case <-ctx.Done():
		return ferrors.WrapError(ctx.Err(), ferrors.CategoryRuntime, "event publish canceled").
			WithContext("event_type", reflect.TypeFor[T]().String()).
			Build()
	}
}

func (m *typedMailbox[T]) shut() {
	m.once.Do(func() { close(m.ch) })
}

// NewBus returns an open bus.
func NewBus() *Bus {
	return &Bus{topics: map[reflect.Type]map[uint64]mailbox{}}
}

// Subscribe returns a channel receiving events of type T and a function that
// cancels the subscription and closes the channel. Subscribing to a closed
// bus yields an already closed channel.
func Subscribe[T any](b *Bus, buffer int) (<-chan T, func()) {
	box := &typedMailbox[T]{ch: make(chan T, buffer)}
	topic := reflect.TypeFor[T]()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		box.shut()
		return box.ch, func() {}
	}
	b.seq++
	id := b.seq
	if b.topics[topic] == nil {
		b.topics[topic] = map[uint64]mailbox{}
	}
	b.topics[topic][id] = box
	b.mu.Unlock()

	var once sync.Once
	return box.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.topics[topic]; subs != nil {
				delete(subs, id)
				if len(subs) == 0 {
					delete(b.topics, topic)
				}
			}
			b.mu.Unlock()
			box.shut()
		})
	}
}

// SubscriberCount returns the number of subscriptions for exactly T.
func SubscriberCount[T any](b *Bus) int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[reflect.TypeFor[T]()])
}

// Publish delivers evt to every matching subscriber in turn.
func (b *Bus) Publish(ctx context.Context, evt any) error {
	if evt == nil {
		return ferrors.ValidationError("event cannot be nil").Build()
	}
	if ctx == nil {
		return ferrors.ValidationError("context cannot be nil").Build()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ferrors.ServerError("event bus is closed").Build()
	}
	targets := b.recipients(reflect.TypeOf(evt))
	b.mu.RUnlock()

	for _, box := range targets {
		if err := box.deliver(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// recipients must be called with mu held.
func (b *Bus) recipients(evtType reflect.Type) []mailbox {
	var out []mailbox
	for topic, subs := range b.topics {
		if topic != evtType && (topic.Kind() != reflect.Interface || !evtType.Implements(topic)) {
			continue
		}
		for _, box := range subs {
			out = append(out, box)
		}
	}
	return out
}

// Close rejects further publishes and closes every subscription channel.
// It is safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	topics := b.topics
	b.topics = map[reflect.Type]map[uint64]mailbox{}
	b.mu.Unlock()

	for _, subs := range topics {
		for _, box := range subs {
			box.shut()
		}
	}
}
