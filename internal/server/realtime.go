package server

import (
	"context"
	"sync"
	"time"
)

const (
	ChangeEventKnowledgeBase = "kb-change"
	changeEventHeartbeat     = "heartbeat"
	changeSourceBackend      = "kbmd-backend"
)

// ChangeMessage describes a mutation applied to one organization's knowledge
// base. Entity names the record kind ("sections", "phase-groups", "faqs",
// "variables", "custom-rules", "export-configs") and IDs carries the touched
// record identifiers when the mutation knows them.
type ChangeMessage struct {
	OrgID     string
	EventType string
	Entity    string
	IDs       []string
	Timestamp time.Time
}

// ChangeDispatcher fans mutation events out to the organization's live
// subscribers. Delivery is best effort: a subscriber with a full buffer is
// skipped rather than blocking the mutation path.
type ChangeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*changeSubscriber
	nextID      int64
	bufferSize  int
}

type changeSubscriber struct {
	id     int64
	stream chan ChangeMessage
}

func NewChangeDispatcher() *ChangeDispatcher {
	return &ChangeDispatcher{
		subscribers: make(map[string]map[int64]*changeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a listener for one organization's change feed. The
// returned cleanup is idempotent and also runs when ctx is cancelled.
func (d *ChangeDispatcher) Subscribe(ctx context.Context, orgID string) (<-chan ChangeMessage, func()) {
	if orgID == "" {
		ch := make(chan ChangeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &changeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan ChangeMessage, d.bufferSize),
	}
	d.registerSubscriber(orgID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(orgID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *ChangeDispatcher) Publish(message ChangeMessage) {
	if message.OrgID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.OrgID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*changeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *ChangeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *ChangeDispatcher) registerSubscriber(orgID string, subscriber *changeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[orgID]; !ok {
		d.subscribers[orgID] = make(map[int64]*changeSubscriber)
	}
	d.subscribers[orgID][subscriber.id] = subscriber
}

func (d *ChangeDispatcher) unregisterSubscriber(orgID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[orgID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, orgID)
		}
	}
	d.mu.Unlock()
}
