package bus

import (
	"regexp"
	"time"
)

// SourceKind classifies who produced an event.
type SourceKind string

const (
	SourcePlugin SourceKind = "plugin"
	SourceSystem SourceKind = "system"
	SourceUser   SourceKind = "user"
)

// Source attributes an event or subscription to its producer.
type Source struct {
	Kind SourceKind `json:"kind"`
	ID   string     `json:"id"`
}

// SystemSource is the attribution used for host-originated events.
var SystemSource = Source{Kind: SourceSystem, ID: "system"}

// PluginSource returns the attribution for a plugin-originated event.
func PluginSource(pluginID string) Source {
	return Source{Kind: SourcePlugin, ID: pluginID}
}

// Event is an immutable, timestamped, typed message. Types are
// dot-namespaced strings; host-originated events use the
// "system:<domain>:<action>" convention.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    Source         `json:"source"`
	Payload   any            `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Handler consumes a delivered event. Handlers run synchronously inside
// Emit and must not block; long work should be handed off to a goroutine.
type Handler func(Event)

// Filter narrows which events a subscription receives beyond its type key.
// Zero-value fields are not checked; Metadata entries must all be equal.
type Filter struct {
	SourceKind SourceKind
	SourceID   string
	Metadata   map[string]any
}

// matches reports whether the event passes the filter.
func (f *Filter) matches(e Event) bool {
	if f == nil {
		return true
	}
	if f.SourceKind != "" && e.Source.Kind != f.SourceKind {
		return false
	}
	if f.SourceID != "" && e.Source.ID != f.SourceID {
		return false
	}
	for key, want := range f.Metadata {
		got, ok := e.Metadata[key]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// keyKind discriminates the subscription key variant.
type keyKind int

const (
	keyExact keyKind = iota
	keyWildcard
	keyPattern
)

// subscriptionKey is the tagged-variant event-type test: an exact string,
// the "*" wildcard, or a compiled regular expression.
type subscriptionKey struct {
	kind    keyKind
	exact   string
	pattern *regexp.Regexp
}

func (k subscriptionKey) matches(eventType string) bool {
	switch k.kind {
	case keyExact:
		return k.exact == eventType
	case keyWildcard:
		return true
	default:
		return k.pattern.MatchString(eventType)
	}
}

// Subscription is a registered event handler. Created by On/Once, destroyed
// by Off/OffAll or automatically after firing when Once is set.
type Subscription struct {
	ID       string
	key      subscriptionKey
	handler  Handler
	Owner    Source
	Filter   *Filter
	Priority int
	Once     bool
}

// SubscribeOption customises a subscription.
type SubscribeOption func(*Subscription)

// WithPriority sets the subscription priority; higher fires first.
func WithPriority(priority int) SubscribeOption {
	return func(s *Subscription) {
		s.Priority = priority
	}
}

// WithFilter narrows delivery by event source or metadata.
func WithFilter(filter Filter) SubscribeOption {
	return func(s *Subscription) {
		s.Filter = &filter
	}
}

// WithOwner attributes the subscription to a source so OffAll can remove it
// when that source goes away.
func WithOwner(owner Source) SubscribeOption {
	return func(s *Subscription) {
		s.Owner = owner
	}
}

// ReplayOptions bounds a Replay call.
type ReplayOptions struct {
	Since time.Time // zero means no lower bound
	Limit int       // <= 0 means no limit
}
