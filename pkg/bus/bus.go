// Package bus implements the process-wide message bus: typed pub/sub with
// exact, wildcard, and pattern subscriptions, priority ordering, and a
// bounded replay history. The bus is constructed explicitly (New) instead
// of living in package state so tests can isolate instances.
package bus

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// DefaultMaxHistory bounds the replay ring when no override is given.
const DefaultMaxHistory = 500

// Bus dispatches events synchronously to matching subscriptions. Emit runs
// every matching handler before returning.
type Bus struct {
	logger zerolog.Logger

	mu         sync.Mutex
	exact      map[string][]*Subscription
	wildcard   []*Subscription
	patterns   []*Subscription
	history    []Event
	maxHistory int
}

// Option customises bus construction.
type Option func(*Bus)

// WithMaxHistory overrides the replay ring capacity.
func WithMaxHistory(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.maxHistory = n
		}
	}
}

// New creates an empty bus.
func New(logger zerolog.Logger, opts ...Option) *Bus {
	b := &Bus{
		logger:     logger.With().Str("component", "bus").Logger(),
		exact:      make(map[string][]*Subscription),
		maxHistory: DefaultMaxHistory,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Reset drops all subscriptions and history. Intended for tests and full
// host restarts.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exact = make(map[string][]*Subscription)
	b.wildcard = nil
	b.patterns = nil
	b.history = nil
}

// On subscribes a handler to an exact event type, or to every event when
// eventType is "*".
func (b *Bus) On(eventType string, handler Handler, opts ...SubscribeOption) *Subscription {
	key := subscriptionKey{kind: keyExact, exact: eventType}
	if eventType == "*" {
		key = subscriptionKey{kind: keyWildcard}
	}
	return b.subscribe(key, handler, false, opts)
}

// OnPattern subscribes a handler to every event whose type matches the
// regular expression.
func (b *Bus) OnPattern(pattern *regexp.Regexp, handler Handler, opts ...SubscribeOption) *Subscription {
	return b.subscribe(subscriptionKey{kind: keyPattern, pattern: pattern}, handler, false, opts)
}

// Once subscribes a handler that fires at most one time.
func (b *Bus) Once(eventType string, handler Handler, opts ...SubscribeOption) *Subscription {
	key := subscriptionKey{kind: keyExact, exact: eventType}
	if eventType == "*" {
		key = subscriptionKey{kind: keyWildcard}
	}
	return b.subscribe(key, handler, true, opts)
}

func (b *Bus) subscribe(key subscriptionKey, handler Handler, once bool, opts []SubscribeOption) *Subscription {
	subID, _ := gonanoid.New()
	sub := &Subscription{
		ID:      subID,
		key:     key,
		handler: handler,
		Once:    once,
	}
	for _, opt := range opts {
		opt(sub)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	switch key.kind {
	case keyExact:
		b.exact[key.exact] = append(b.exact[key.exact], sub)
	case keyWildcard:
		b.wildcard = append(b.wildcard, sub)
	case keyPattern:
		b.patterns = append(b.patterns, sub)
	}
	return sub
}

// Off removes a single subscription. Removing an already-removed
// subscription is a no-op.
func (b *Bus) Off(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub.ID)
}

// OffAll removes every subscription owned by the given source ID across
// all three key classes. Used when a plugin unloads.
func (b *Bus) OffAll(ownerID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for eventType, subs := range b.exact {
		kept := subs[:0]
		for _, sub := range subs {
			if sub.Owner.ID == ownerID {
				removed++
				continue
			}
			kept = append(kept, sub)
		}
		if len(kept) == 0 {
			delete(b.exact, eventType)
		} else {
			b.exact[eventType] = kept
		}
	}
	b.wildcard, removed = filterOwned(b.wildcard, ownerID, removed)
	b.patterns, removed = filterOwned(b.patterns, ownerID, removed)
	return removed
}

func filterOwned(subs []*Subscription, ownerID string, removed int) ([]*Subscription, int) {
	kept := subs[:0]
	for _, sub := range subs {
		if sub.Owner.ID == ownerID {
			removed++
			continue
		}
		kept = append(kept, sub)
	}
	return kept, removed
}

func (b *Bus) removeLocked(subID string) {
	for eventType, subs := range b.exact {
		for i, sub := range subs {
			if sub.ID == subID {
				b.exact[eventType] = append(subs[:i], subs[i+1:]...)
				if len(b.exact[eventType]) == 0 {
					delete(b.exact, eventType)
				}
				return
			}
		}
	}
	for i, sub := range b.wildcard {
		if sub.ID == subID {
			b.wildcard = append(b.wildcard[:i], b.wildcard[i+1:]...)
			return
		}
	}
	for i, sub := range b.patterns {
		if sub.ID == subID {
			b.patterns = append(b.patterns[:i], b.patterns[i+1:]...)
			return
		}
	}
}

// Emit publishes an event and synchronously invokes every matching handler
// in descending priority order before returning. Handler panics are caught
// and logged; one bad subscriber never blocks the rest.
func (b *Bus) Emit(eventType string, payload any, source Source, metadata map[string]any) Event {
	eventID, _ := gonanoid.New()
	event := Event{
		ID:        eventID,
		Type:      eventType,
		Source:    source,
		Payload:   payload,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}

	b.mu.Lock()
	b.history = append(b.history, event)
	if len(b.history) > b.maxHistory {
		b.history = b.history[len(b.history)-b.maxHistory:]
	}

	var matched []*Subscription
	for _, sub := range b.exact[eventType] {
		if sub.Filter.matches(event) {
			matched = append(matched, sub)
		}
	}
	for _, sub := range b.wildcard {
		if sub.Filter.matches(event) {
			matched = append(matched, sub)
		}
	}
	for _, sub := range b.patterns {
		if sub.key.matches(eventType) && sub.Filter.matches(event) {
			matched = append(matched, sub)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority > matched[j].Priority
	})

	for _, sub := range matched {
		if sub.Once {
			b.removeLocked(sub.ID)
		}
	}
	b.mu.Unlock()

	// Handlers run outside the lock so they can subscribe or emit.
	for _, sub := range matched {
		b.invoke(sub, event)
	}

	return event
}

// EmitSystem publishes a host-originated event.
func (b *Bus) EmitSystem(eventType string, payload any) Event {
	return b.Emit(eventType, payload, SystemSource, nil)
}

// EmitFromPlugin publishes a plugin-originated event.
func (b *Bus) EmitFromPlugin(pluginID, eventType string, payload any, metadata map[string]any) Event {
	return b.Emit(eventType, payload, PluginSource(pluginID), metadata)
}

func (b *Bus) invoke(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("subscription", sub.ID).
				Str("event", event.Type).
				Str("panic", fmt.Sprint(r)).
				Msg("Event handler panicked")
		}
	}()
	sub.handler(event)
}

// Replay re-delivers matching historical events to a single handler. No new
// history entries are written and no other subscribers are notified.
// eventType follows the same rules as On: exact string or "*".
func (b *Bus) Replay(eventType string, handler Handler, opts ReplayOptions) int {
	key := subscriptionKey{kind: keyExact, exact: eventType}
	if eventType == "*" {
		key = subscriptionKey{kind: keyWildcard}
	}

	b.mu.Lock()
	var matched []Event
	for _, event := range b.history {
		if !key.matches(event.Type) {
			continue
		}
		if !opts.Since.IsZero() && event.Timestamp.Before(opts.Since) {
			continue
		}
		matched = append(matched, event)
	}
	b.mu.Unlock()

	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[len(matched)-opts.Limit:]
	}

	for _, event := range matched {
		handler(event)
	}
	return len(matched)
}

// History returns a copy of the retained events, oldest first.
func (b *Bus) History() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}

// SubscriptionCount reports the number of live subscriptions, for
// diagnostics.
func (b *Bus) SubscriptionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.wildcard) + len(b.patterns)
	for _, subs := range b.exact {
		n += len(subs)
	}
	return n
}
