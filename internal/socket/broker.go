package socket

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Broker fans messages out to connections grouped by topic.
// Connections subscribe themselves; the broker drops a connection from
// every topic when its read loop ends.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]map[*Conn]struct{}
	logger *slog.Logger
}

// NewBroker creates an empty broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		topics: make(map[string]map[*Conn]struct{}),
		logger: logger.With(slog.String("component", "socket.broker")),
	}
}

func (b *Broker) subscribe(topic string, c *Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[*Conn]struct{})
		b.topics[topic] = subs
	}
	subs[c] = struct{}{}
}

func (b *Broker) unsubscribe(topic string, c *Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.topics[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
}

// drop removes a closed connection from every topic.
func (b *Broker) drop(c *Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.topics {
		delete(subs, c)
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
}

// Publish sends payload to every subscriber of topic and returns the
// number of connections that accepted it. Slow subscribers whose
// buffers are full are skipped, not disconnected.
func (b *Broker) Publish(topic string, payload []byte) int {
	b.mu.RLock()
	conns := make([]*Conn, 0, len(b.topics[topic]))
	for c := range b.topics[topic] {
		conns = append(conns, c)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, c := range conns {
		if err := c.Send(payload); err != nil {
			b.logger.Warn("publish skipped subscriber",
				slog.String("topic", topic),
				slog.String("conn_id", c.ID()),
				slog.String("error", err.Error()))
			continue
		}
		delivered++
	}
	return delivered
}

// PublishJSON marshals v and publishes it.
func (b *Broker) PublishJSON(topic string, v any) (int, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return b.Publish(topic, payload), nil
}

// Subscribers returns the current subscriber count for a topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}
