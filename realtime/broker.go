package realtime

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
)

// Broker is an in-process relay. Like the relay server it delivers every
// publish to all members of the topic, in publish order, and to the
// publisher only when it joined with self delivery.
type Broker struct {
	mu     sync.Mutex
	topics map[string]map[*BrokerConn]struct{}
}

func NewBroker() *Broker {
	return &Broker{topics: make(map[string]map[*BrokerConn]struct{})}
}

// Join subscribes userID to topic.
func (b *Broker) Join(topic, userID string, self bool) *BrokerConn {
	c := &BrokerConn{broker: b, topic: topic, userID: userID, self: self, in: newInbox()}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*BrokerConn]struct{})
	}
	b.topics[topic][c] = struct{}{}
	return c
}

// Members returns the sorted user ids subscribed to topic.
func (b *Broker) Members(topic string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]string, 0, len(b.topics[topic]))
	for c := range b.topics[topic] {
		ids = append(ids, c.userID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func (b *Broker) publish(from *BrokerConn, env Envelope) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	members, ok := b.topics[from.topic]
	if _, joined := members[from]; !ok || !joined {
		return false
	}
	for c := range members {
		if c == from && !c.self {
			continue
		}
		c.in.push(env)
	}
	return true
}

func (b *Broker) leave(c *BrokerConn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.topics[c.topic], c)
	if len(b.topics[c.topic]) == 0 {
		delete(b.topics, c.topic)
	}
}

// BrokerConn is one member's Channel on a Broker.
type BrokerConn struct {
	broker *Broker
	topic  string
	userID string
	self   bool
	in     *inbox

	closeOnce sync.Once
}

func (c *BrokerConn) Publish(ctx context.Context, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if !c.broker.publish(c, Envelope{Event: event, Payload: raw, From: c.userID}) {
		return ErrClosed
	}
	return nil
}

func (c *BrokerConn) Events() <-chan Envelope { return c.in.out }

func (c *BrokerConn) Close() error {
	c.closeOnce.Do(func() {
		c.broker.leave(c)
		c.in.close()
	})
	return nil
}
