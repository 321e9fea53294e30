// Package broadcast fans occupancy and alert events out to subscribers.
//
// Delivery is at-most-once and never blocks the publisher: every subscriber
// owns a bounded buffer and an event that does not fit is dropped for that
// subscriber only.
package broadcast

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/iliyamo/temple-admission/internal/model"
)

// TopicOps receives every event.
const TopicOps = "ops:global"

const venueTopicPrefix = "venue:"

// DefaultBuffer is the per-subscriber buffer used when none is configured.
const DefaultBuffer = 64

// TopicVenue returns the topic carrying one venue's events.
func TopicVenue(venueID string) string { return venueTopicPrefix + venueID }

// ValidTopic reports whether topic is TopicOps or a well-formed venue topic.
func ValidTopic(topic string) bool {
	if topic == TopicOps {
		return true
	}
	return strings.HasPrefix(topic, venueTopicPrefix) && len(topic) > len(venueTopicPrefix)
}

// Publisher accepts events for delivery.  Implementations must not block.
type Publisher interface {
	Publish(ev model.Event)
}

// Subscription is a live registration on a topic.
type Subscription struct {
	topic   string
	ch      chan model.Event
	hub     *Hub
	once    sync.Once
	dropped atomic.Int64
}

// C returns the channel events are delivered on.  It is closed by Close.
func (s *Subscription) C() <-chan model.Event { return s.ch }

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// Dropped returns how many events were discarded because the buffer was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close unregisters the subscription.  It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub is an in-process topic fan-out.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	log    *zap.Logger

	published atomic.Int64
	dropped   atomic.Int64
}

// NewHub returns a Hub whose subscribers each buffer up to buffer events.
func NewHub(buffer int, log *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{subs: make(map[string]map[*Subscription]struct{}), buffer: buffer, log: log}
}

// Subscribe registers interest in topic.
func (h *Hub) Subscribe(topic string) (*Subscription, error) {
	if !ValidTopic(topic) {
		return nil, fmt.Errorf("invalid topic %q", topic)
	}
	s := &Subscription{topic: topic, ch: make(chan model.Event, h.buffer), hub: h}
	h.mu.Lock()
	set, ok := h.subs[topic]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[topic] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	return s, nil
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[s.topic]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.topic)
		}
	}
	// Closing under the write lock guarantees no Publish is mid-send.
	close(s.ch)
}

// Publish delivers ev to the venue topic and to TopicOps.
func (h *Hub) Publish(ev model.Event) {
	h.published.Add(1)
	h.mu.RLock()
	defer h.mu.RUnlock()
	if ev.VenueID != "" {
		h.deliver(h.subs[TopicVenue(ev.VenueID)], ev)
	}
	h.deliver(h.subs[TopicOps], ev)
}

func (h *Hub) deliver(set map[*Subscription]struct{}, ev model.Event) {
	for s := range set {
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
			h.dropped.Add(1)
			h.log.Debug("subscriber buffer full, dropping event",
				zap.String("anomaly", "subscriber_drop"),
				zap.String("topic", s.topic),
				zap.String("type", string(ev.Type)),
				zap.String("venue_id", ev.VenueID))
		}
	}
}

// Stats is a point-in-time view of hub activity.
type Stats struct {
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
}

// Stats returns current counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	h.mu.RUnlock()
	return Stats{Subscribers: n, Published: h.published.Load(), Dropped: h.dropped.Load()}
}

// Tee returns a Publisher that forwards every event to each of ps in order.
func Tee(ps ...Publisher) Publisher { return tee(ps) }

type tee []Publisher

func (t tee) Publish(ev model.Event) {
	for _, p := range t {
		if p != nil {
			p.Publish(ev)
		}
	}
}

var _ Publisher = (*Hub)(nil)
