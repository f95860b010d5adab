// Package realtime implements the RealtimeEventPublisher named in spec.md
// §6 ("A persistent bidirectional transport exposes groups keyed by
// subscription identifier plus a global 'all' group"). The actual
// transport (websocket/SSE handshake, wire framing) is an external
// collaborator per spec.md §1; this package only owns the group-keyed
// fan-out and the stable event-name contract.
//
// Grounded on other_examples/8717048a_april2546-OwlDB__sse-sse.go.go's
// subscriber-map-of-channels pattern (a Subscriber holds a channel and a
// path key; Notify fans out to every subscriber of a key), adapted from
// one concrete HTTP/SSE handler into a transport-agnostic publisher with
// a join/leave API any transport layer can sit on top of.
package realtime

import (
	"sync"

	"github.com/schemadrift/engine/internal/model"
)

// Event names, the stable contract from spec.md §6.
const (
	EventChangesDetected         = "changes-detected"
	EventFileChanged             = "file-changed"
	EventDatabaseChanged         = "database-changed"
	EventSubscriptionHealthChanged = "subscription-health-changed"
	EventSubscriptionStateChanged  = "subscription-state-changed"
	EventSubscriptionCreated     = "subscription-created"
	EventSubscriptionDeleted     = "subscription-deleted"
	EventComparisonStarted       = "comparison-started"
	EventComparisonProgress      = "comparison-progress"
	EventComparisonCompleted     = "comparison-completed"
	EventComparisonFailed        = "comparison-failed"
	EventServiceShuttingDown     = "service-shutting-down"
	EventServiceReconnected      = "service-reconnected"
)

// GroupAll is the global group every client may join regardless of which
// subscriptions it cares about.
const GroupAll = "all"

// Message is one event delivered to a group's subscribers.
type Message struct {
	Event   string
	Payload map[string]any
}

// Subscriber is a single joined listener: a buffered channel plus a
// closed flag, adapted from the OwlDB Subscriber{path, event chan string}
// shape. It does not record its groups; the Publisher's group map holds
// the memberships, and one Subscriber may be joined to several groups.
type Subscriber struct {
	ch     chan Message
	closed bool
}

// Publisher fans out Messages to subscribers of a group. Groups are
// subscription ids (string form) plus the reserved GroupAll group.
type Publisher struct {
	mu     sync.RWMutex
	groups map[string]map[*Subscriber]struct{}
}

// NewPublisher returns an empty Publisher.
func NewPublisher() *Publisher {
	return &Publisher{groups: make(map[string]map[*Subscriber]struct{})}
}

// Join registers a new Subscriber to the named group and returns it. The
// caller reads from Subscriber.Channel() until Leave or the Publisher
// drops it.
func (p *Publisher) Join(group string) *Subscriber {
	sub := &Subscriber{ch: make(chan Message, 32)}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.groups[group] == nil {
		p.groups[group] = make(map[*Subscriber]struct{})
	}
	p.groups[group][sub] = struct{}{}
	return sub
}

// Leave removes sub from group. If sub is not a member of any remaining
// group the caller should stop reading from its channel; Leave does not
// close the channel itself since a Subscriber may belong to several
// groups (per-subscription plus "all").
func (p *Publisher) Leave(group string, sub *Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if members, ok := p.groups[group]; ok {
		delete(members, sub)
		if len(members) == 0 {
			delete(p.groups, group)
		}
	}
}

// Close marks sub as no longer receiving deliveries and closes its
// channel; safe to call once a caller is done with a Subscriber across
// every group it joined.
func (s *Subscriber) Close() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Channel returns the receive side of sub's event stream.
func (s *Subscriber) Channel() <-chan Message {
	return s.ch
}

// publishToGroup delivers msg to every current subscriber of group,
// non-blockingly: a slow or stalled subscriber drops the message rather
// than stalling the publisher, matching spec.md §4.6's "listener must
// accept synchronously or drop it" posture applied to realtime delivery.
func (p *Publisher) publishToGroup(group string, msg Message) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for sub := range p.groups[group] {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
		}
	}
}

// Publish emits event with payload to subscriptionID's group and to the
// global "all" group.
func (p *Publisher) Publish(subscriptionID model.ID, event string, payload map[string]any) {
	msg := Message{Event: event, Payload: payload}
	p.publishToGroup(subscriptionID.String(), msg)
	p.publishToGroup(GroupAll, msg)
}

// PublishGlobal emits a service-wide event (e.g. service-shutting-down)
// to the "all" group only.
func (p *Publisher) PublishGlobal(event string, payload map[string]any) {
	p.publishToGroup(GroupAll, Message{Event: event, Payload: payload})
}
