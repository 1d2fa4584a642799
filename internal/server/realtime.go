package server

import (
	"context"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/marquee/backend/internal/friends"
)

const (
	realtimeEventHeartbeat = "heartbeat"
	realtimeBufferSize     = 16
)

// RealtimeDispatcher fans friend events out to the open event streams of the affected user.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan friends.Event
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  realtimeBufferSize,
	}
}

// Subscribe registers a stream for email. The stream is released when ctx ends or cleanup is called.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, email string) (<-chan friends.Event, func()) {
	key := subscriberKey(email)
	if key == "" {
		ch := make(chan friends.Event)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan friends.Event, d.bufferSize),
	}
	d.registerSubscriber(key, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(key, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Notify implements friends.Notifier. Events for slow subscribers are dropped.
func (d *RealtimeDispatcher) Notify(event friends.Event) {
	key := subscriberKey(event.UserEmail)
	if key == "" || event.Type == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[key]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (d *RealtimeDispatcher) subscriberCount(email string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[subscriberKey(email)])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(key string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[key]; !ok {
		d.subscribers[key] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[key][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(key string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[key]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, key)
		}
	}
	d.mu.Unlock()
}

func subscriberKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
