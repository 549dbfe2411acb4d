// Package live pushes reserve availability changes to browsers over
// WebSockets. Clients subscribe to topics; publishers send events to a topic
// and every subscriber gets a copy.
package live

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// DefaultMaxTopics caps how many topics one connection may follow.
const DefaultMaxTopics = 32

// Event is one message on the feed.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent encodes payload as the event data.
func NewEvent(topic, eventType string, payload any, at time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Topic: topic, Timestamp: at.UTC(), Data: data}, nil
}

// Command is an inbound client frame.
type Command struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Publisher accepts events for delivery.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Subscriber is one connected client. Outbound frames are queued on Send;
// the hub closes it on Unregister.
type Subscriber struct {
	ID     string
	Send   chan []byte
	topics map[string]struct{}
}

func NewSubscriber(id string, buffer int) *Subscriber {
	return &Subscriber{ID: id, Send: make(chan []byte, buffer), topics: make(map[string]struct{})}
}

// Hub tracks subscribers by topic.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscriber]struct{}
	all    map[*Subscriber]struct{}

	prefixes  []string
	maxTopics int
	logger    zerolog.Logger
}

type HubOption func(*Hub)

// WithTopicPrefixes restricts subscriptions to topics with one of the
// given prefixes.
func WithTopicPrefixes(prefixes ...string) HubOption {
	return func(h *Hub) { h.prefixes = prefixes }
}

func WithMaxTopics(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.maxTopics = n
		}
	}
}

func WithLogger(l zerolog.Logger) HubOption {
	return func(h *Hub) { h.logger = l }
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		topics:    make(map[string]map[*Subscriber]struct{}),
		all:       make(map[*Subscriber]struct{}),
		maxTopics: DefaultMaxTopics,
		logger:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Hub) Register(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[s] = struct{}{}
}

// Unregister drops s from every topic and closes its Send channel. Calling
// it twice is safe.
func (h *Hub) Unregister(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[s]; !ok {
		return
	}
	for topic := range s.topics {
		h.detach(s, topic)
	}
	delete(h.all, s)
	close(s.Send)
}

func (h *Hub) allowed(topic string) bool {
	if topic == "" {
		return false
	}
	if len(h.prefixes) == 0 {
		return true
	}
	for _, p := range h.prefixes {
		if strings.HasPrefix(topic, p) && len(topic) > len(p) {
			return true
		}
	}
	return false
}

// Subscribe adds topics to s and returns the ones it accepted. Unknown
// topic families and topics past the per-subscriber cap are skipped.
func (h *Hub) Subscribe(s *Subscriber, topics []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[s]; !ok {
		return nil
	}
	var accepted []string
	for _, topic := range topics {
		if !h.allowed(topic) {
			continue
		}
		if _, ok := s.topics[topic]; ok {
			accepted = append(accepted, topic)
			continue
		}
		if len(s.topics) >= h.maxTopics {
			h.logger.Debug().Str("subscriber", s.ID).Int("max", h.maxTopics).Msg("topic limit reached")
			break
		}
		if h.topics[topic] == nil {
			h.topics[topic] = make(map[*Subscriber]struct{})
		}
		h.topics[topic][s] = struct{}{}
		s.topics[topic] = struct{}{}
		accepted = append(accepted, topic)
	}
	return accepted
}

func (h *Hub) Unsubscribe(s *Subscriber, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		h.detach(s, topic)
	}
}

// detach must be called with mu held.
func (h *Hub) detach(s *Subscriber, topic string) {
	delete(s.topics, topic)
	if subs, ok := h.topics[topic]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Handle applies a client command.
func (h *Hub) Handle(s *Subscriber, cmd Command) {
	switch cmd.Action {
	case ActionSubscribe:
		h.Subscribe(s, cmd.Topics)
	case ActionUnsubscribe:
		h.Unsubscribe(s, cmd.Topics)
	}
}

// Publish queues event for every subscriber of its topic. A subscriber whose
// buffer is full misses the event rather than stalling the publisher.
func (h *Hub) Publish(_ context.Context, event Event) error {
	frame, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.deliver(event.Topic, frame)
	return nil
}

func (h *Hub) deliver(topic string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.topics[topic] {
		select {
		case s.Send <- frame:
		default:
			h.logger.Warn().Str("subscriber", s.ID).Str("topic", topic).Msg("subscriber buffer full, event dropped")
		}
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of subscribers following topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
