package events

import (
	"sync"
	"time"
)

// Type classifies a hub event.
type Type string

const (
	TypeDispatched Type = "dispatched"
	TypeProgress   Type = "progress"
	TypeLog        Type = "log"
	TypeStatus     Type = "status"
	TypeCompleted  Type = "completed"
	TypeFailed     Type = "failed"
)

// Event is a single observation published by the scheduler or a worker.
type Event struct {
	Sequence  uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Type      Type      `json:"type"`
	JobID     string    `json:"job_id,omitempty"`
	WorkerID  int       `json:"worker_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`

	// Progress payload, meaningful for TypeProgress.
	Percent  float64       `json:"percent,omitempty"`
	ETA      time.Duration `json:"eta,omitempty"`
	ETAKnown bool          `json:"eta_known,omitempty"`
	Speed    float64       `json:"speed,omitempty"`
}

type subscriber struct {
	ch chan Event
}

// Hub fans events out to subscribers. Publishing never blocks: a subscriber
// that falls behind loses its oldest buffered events.
type Hub struct {
	mu      sync.Mutex
	nextSeq uint64
	subs    map[int]*subscriber
	nextID  int
	closed  bool
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]*subscriber)}
}

// Publish stamps the event with a sequence number and timestamp and delivers
// it to every subscriber. Delivery order matches publish order for all
// subscribers because stamping and enqueueing happen under one lock.
func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.nextSeq++
	evt.Sequence = h.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	for _, sub := range h.subs {
		for {
			select {
			case sub.ch <- evt:
			default:
				// Buffer full: drop the oldest event and retry.
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Subscribe registers a new subscriber with the given buffer size and returns
// its receive channel plus a cancel function. Cancel closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscriber{ch: make(chan Event, buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			_, present := h.subs[id]
			delete(h.subs, id)
			h.mu.Unlock()
			// Close drops subscribers itself; only close if still registered.
			if present {
				close(sub.ch)
			}
		})
	}
	return sub.ch, cancel
}

// Close drops all subscribers and closes their channels. Publish becomes a
// no-op afterwards.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[int]*subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		close(sub.ch)
	}
}
