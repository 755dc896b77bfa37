package ingest

import (
	"log/slog"
	"sync"
)

// Event is a status change of one queue item.
type Event struct {
	QueueItemID string  `json:"queueItemId"`
	Status      Status  `json:"status"`
	Error       string  `json:"error,omitempty"`
	Output      *Output `json:"output,omitempty"`
}

const subscriberBuffer = 16

// Broker fans status events out to per-item subscribers.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]map[chan Event]struct{}
	logger *slog.Logger
}

// NewBroker creates an empty Broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{subs: make(map[string]map[chan Event]struct{}), logger: logger}
}

// Subscribe returns a channel of events for itemID and a func that
// unsubscribes and closes it.
func (b *Broker) Subscribe(itemID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.subs[itemID] == nil {
		b.subs[itemID] = make(map[chan Event]struct{})
	}
	b.subs[itemID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[itemID], ch)
			if len(b.subs[itemID]) == 0 {
				delete(b.subs, itemID)
			}
			close(ch)
		})
	}
}

// Publish delivers ev to current subscribers. Slow subscribers miss events
// rather than block the worker.
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[ev.QueueItemID] {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("dropping status event for slow subscriber",
				"queue_item_id", ev.QueueItemID, "status", ev.Status)
		}
	}
}

// Subscribers returns how many subscribers itemID has.
func (b *Broker) Subscribers(itemID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[itemID])
}
