package realtime

import (
	"context"
	"sync"

	"github.com/lalith-99/rundy/internal/metrics"
	"go.uber.org/zap"
)

// Hub is the in-process broker. It fans events out to every subscription
// on the event's topic. It serves single-node deployments and tests.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscription
	names  map[string]string // name -> topic
	closed bool
	buffer int
	logger *zap.Logger
}

func NewHub(buffer int, logger *zap.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[string]*Subscription),
		names:  make(map[string]string),
		buffer: buffer,
		logger: logger,
	}
}

func (h *Hub) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	topic := e.Topic()

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	for name, sub := range h.topics[topic] {
		if !sub.deliver(e) {
			metrics.RealtimeEventsDropped.Inc()
			h.logger.Warn("realtime event dropped",
				zap.String("subscription", name),
				zap.String("topic", topic),
			)
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, name string, f Filter) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	topic := f.Topic()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	if _, taken := h.names[name]; taken {
		h.mu.Unlock()
		return nil, ErrNameInUse
	}
	sub := newSubscription(name, f, h.buffer)
	sub.release = func() { h.remove(name, topic) }
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[string]*Subscription)
	}
	h.topics[topic][name] = sub
	h.names[name] = topic
	h.mu.Unlock()

	metrics.RealtimeSubscriptions.Inc()
	context.AfterFunc(ctx, sub.Close)
	return sub, nil
}

func (h *Hub) remove(name, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.names[name]; !ok {
		return
	}
	delete(h.names, name)
	delete(h.topics[topic], name)
	if len(h.topics[topic]) == 0 {
		delete(h.topics, topic)
	}
	metrics.RealtimeSubscriptions.Dec()
}

// Subscribers returns the number of open subscriptions on a topic.
func (h *Hub) Subscribers(f Filter) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[f.Topic()])
}

// Close closes every open subscription. Later calls to Publish and
// Subscribe fail with ErrClosed.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription, 0, len(h.names))
	for _, byName := range h.topics {
		for _, sub := range byName {
			subs = append(subs, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	return nil
}
