// Package progress is the in-process pub/sub fan-out for progress, status,
// and completion events, keyed by (tenant_id, job_name) (§4.7). It is fed
// directly by worker callbacks, not by database change events, and bridges
// to the Subscriber Gateway's websocket connections.
//
// Adapted from coordinator.PhaseManager's map-of-state-plus-callback
// pattern: where PhaseManager tracks one workflow's phase with a single
// onPhaseChanged callback, Broker tracks many concurrent subscriptions per
// key and fans every event out to all of them, since more than one
// subscriber may watch the same (tenant, job) pair at once.
package progress

import (
	"sync"
	"time"
)

// EventKind distinguishes the three §4.7 event shapes.
type EventKind string

const (
	EventKindProgress   EventKind = "progress"
	EventKindStatus     EventKind = "status"
	EventKindCompletion EventKind = "completion"
)

// Event is the envelope delivered to subscribers. Only the fields relevant
// to Kind are populated; this keeps one delivery path for all three shapes
// instead of three separate channels per subscription.
type Event struct {
	Kind       EventKind `json:"kind"`
	TenantID   int64     `json:"tenant_id"`
	JobName    string    `json:"job"`
	Percentage *int      `json:"percentage,omitempty"`
	Step       string    `json:"step,omitempty"`
	Status     string    `json:"status,omitempty"`
	Message    string    `json:"message,omitempty"`
	Success    bool      `json:"success,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// key is the subscription boundary: no event or subscription may cross it
// (§3 tenant-isolation invariant, §8 "Subscriber S connected with tenant T
// receives no event whose tenant_id != T").
type key struct {
	tenantID int64
	jobName  string
}

// subscription is one live listener's mailbox. Buffered so a momentarily
// slow websocket write doesn't block the publishing worker; Broker drops
// (never blocks) once the buffer is full, matching §4.7's best-effort,
// no-persistence delivery semantics.
type subscription struct {
	ch     chan Event
	closed chan struct{}
}

// Broker fans events out to subscribers. Each subscription has its own
// buffered channel that Publish sends to, so a subscriber receives a
// (tenant, job) key's events in publish order.
type Broker struct {
	mu   sync.RWMutex
	subs map[key]map[*subscription]struct{}
}

// NewBroker constructs an empty Broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[key]map[*subscription]struct{})}
}

// Subscribe registers a new listener for (tenantID, jobName) and returns a
// receive channel plus an unsubscribe function the caller must invoke when
// done (typically on websocket disconnect).
func (b *Broker) Subscribe(tenantID int64, jobName string) (<-chan Event, func()) {
	k := key{tenantID: tenantID, jobName: jobName}
	sub := &subscription{ch: make(chan Event, 32), closed: make(chan struct{})}

	b.mu.Lock()
	if b.subs[k] == nil {
		b.subs[k] = make(map[*subscription]struct{})
	}
	b.subs[k][sub] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.subs[k]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(b.subs, k)
			}
		}
		select {
		case <-sub.closed:
		default:
			close(sub.closed)
		}
	}
	return sub.ch, unsubscribe
}

// Publish fans out ev to every current subscriber of (ev.TenantID,
// ev.JobName). Non-blocking: a subscriber whose mailbox is full misses the
// event rather than stalling the publisher, consistent with §4.7's
// best-effort delivery (no historical replay, no backpressure on workers).
func (b *Broker) Publish(ev Event) {
	k := key{tenantID: ev.TenantID, jobName: ev.JobName}

	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subs[k]))
	for sub := range b.subs[k] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		case <-sub.closed:
		default:
		}
	}
}

// PublishProgress emits a progress event. percentage is nil when the
// adapter cannot estimate total pages (§4.3 "Progress reporting").
func (b *Broker) PublishProgress(tenantID int64, jobName string, percentage *int, step string) {
	b.Publish(Event{Kind: EventKindProgress, TenantID: tenantID, JobName: jobName, Percentage: percentage, Step: step, Timestamp: time.Now()})
}

// PublishStatus emits a status transition event.
func (b *Broker) PublishStatus(tenantID int64, jobName, status, message string) {
	b.Publish(Event{Kind: EventKindStatus, TenantID: tenantID, JobName: jobName, Status: status, Message: message, Timestamp: time.Now()})
}

// PublishCompletion emits the terminal event for one run.
func (b *Broker) PublishCompletion(tenantID int64, jobName string, success bool, summary string) {
	b.Publish(Event{Kind: EventKindCompletion, TenantID: tenantID, JobName: jobName, Success: success, Summary: summary, Timestamp: time.Now()})
}
