package ws

import (
	"encoding/json"
	"log"
	"slices"
	"sync"
	"sync/atomic"
)

// subscription is one client's membership in one topic.
type subscription struct {
	self bool
}

// Hub tracks every connection and fans broadcasts out per topic.
//
// Removal goes through the unregister channel consumed by Run, so a slow
// client can be dropped from inside a fan-out. Registration, topic
// membership and fan-out take mu directly; a broadcast is delivered in the
// order the sender's ReadPump handed it over.
type Hub struct {
	// clients: userID → connections (one user may have several tabs).
	clients map[string]map[*Client]bool

	// topics: topic → subscriber → subscription options.
	topics map[string]map[*Client]subscription

	mu sync.RWMutex

	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once

	seq atomic.Int64

	onTopicChange func(topic string, userIDs []string)
}

// NewHub creates a Hub. Start it with `go hub.Run()`.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		topics:     make(map[string]map[*Client]subscription),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// OnTopicChange registers a callback run (in its own goroutine) after a
// topic's membership changed. Set it before Run.
func (h *Hub) OnTopicChange(fn func(topic string, userIDs []string)) {
	h.onTopicChange = fn
}

// Run is the Hub's registration loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.unregister:
			h.removeClient(client)

		case <-h.done:
			h.closeAll()
			return
		}
	}
}

// Stop closes every connection and ends Run. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register adds a new client. It returns false after Stop.
func (h *Hub) Register(c *Client) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	h.addClient(c)
	return true
}

// Unregister removes c and closes its send channel. Never blocks the caller
// past Stop.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.userID]; !ok {
		h.clients[client.userID] = make(map[*Client]bool)
	}
	h.clients[client.userID][client] = true

	log.Printf("[ws] client connected: user=%s conn=%s (connections for user: %d)",
		client.userID, client.id, len(h.clients[client.userID]))
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()

	conns, ok := h.clients[client.userID]
	if !ok || !conns[client] {
		h.mu.Unlock()
		return
	}

	delete(conns, client)
	if len(conns) == 0 {
		delete(h.clients, client.userID)
	}
	close(client.send)

	var changed []string
	for topic, subs := range h.topics {
		if _, ok := subs[client]; !ok {
			continue
		}
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
		changed = append(changed, topic)
	}

	members := make(map[string][]string, len(changed))
	for _, topic := range changed {
		members[topic] = h.membersLocked(topic)
	}
	h.mu.Unlock()

	log.Printf("[ws] client disconnected: user=%s conn=%s", client.userID, client.id)

	for _, topic := range changed {
		h.topicChanged(topic, members[topic])
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, conns := range h.clients {
		for c := range conns {
			close(c.send)
		}
	}
	h.clients = make(map[string]map[*Client]bool)
	h.topics = make(map[string]map[*Client]subscription)
}

// Subscribe adds client to topic, queues the OpSubscribed ack and returns
// the topic's members. The ack is queued before any frame of the topic
// reaches the client. Subscribing twice only updates the self flag.
func (h *Hub) Subscribe(client *Client, topic string, self bool) []string {
	h.mu.Lock()
	if !h.clients[client.userID][client] {
		// already unregistered; its send channel is closed
		h.mu.Unlock()
		return nil
	}
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Client]subscription)
		h.topics[topic] = subs
	}
	_, already := subs[client]
	subs[client] = subscription{self: self}
	members := h.membersLocked(topic)

	ack, err := json.Marshal(Event{
		Op:   OpSubscribed,
		Data: SubscribedData{Topic: topic, Members: members},
	})
	if err == nil {
		h.enqueue(client, ack)
	}
	h.mu.Unlock()

	if !already {
		log.Printf("[ws] user %s subscribed to %s (%d members)", client.userID, topic, len(members))
		h.topicChanged(topic, members)
	}
	return members
}

// Unsubscribe removes client from topic. Unknown pairs are ignored.
func (h *Hub) Unsubscribe(client *Client, topic string) {
	h.mu.Lock()
	subs, ok := h.topics[topic]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := subs[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(subs, client)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
	members := h.membersLocked(topic)
	h.mu.Unlock()

	log.Printf("[ws] user %s unsubscribed from %s", client.userID, topic)
	h.topicChanged(topic, members)
}

// IsSubscribed reports whether client is a member of topic.
func (h *Hub) IsSubscribed(client *Client, topic string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.topics[topic][client]
	return ok
}

// Broadcast delivers data to every subscriber of topic. The sender's own
// connection only receives it when it subscribed with self=true.
func (h *Hub) Broadcast(from *Client, data BroadcastData) {
	data.FromUser = from.userID
	event := Event{Op: OpBroadcast, Data: data, Seq: h.seq.Add(1)}

	raw, err := json.Marshal(event)
	if err != nil {
		log.Printf("[ws] failed to marshal broadcast on %s: %v", data.Topic, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client, sub := range h.topics[data.Topic] {
		if client == from && !sub.self {
			continue
		}
		h.enqueue(client, raw)
	}
}

// BroadcastToTopic sends a server-originated event to every subscriber.
func (h *Hub) BroadcastToTopic(topic string, event Event) {
	event.Seq = h.seq.Add(1)

	raw, err := json.Marshal(event)
	if err != nil {
		log.Printf("[ws] failed to marshal topic event: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.topics[topic] {
		h.enqueue(client, raw)
	}
}

// enqueue must be called with mu held. A client whose buffer is full is
// too slow to keep up and gets disconnected.
func (h *Hub) enqueue(client *Client, raw []byte) {
	select {
	case client.send <- raw:
	default:
		log.Printf("[ws] send buffer full for user %s, dropping connection", client.userID)
		go h.Unregister(client)
	}
}

// TopicMembers returns the sorted, de-duplicated user ids subscribed to
// topic.
func (h *Hub) TopicMembers(topic string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.membersLocked(topic)
}

func (h *Hub) membersLocked(topic string) []string {
	subs := h.topics[topic]
	ids := make([]string, 0, len(subs))
	for client := range subs {
		ids = append(ids, client.userID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// ConnectionCount returns the number of open connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, conns := range h.clients {
		n += len(conns)
	}
	return n
}

func (h *Hub) topicChanged(topic string, members []string) {
	h.BroadcastToTopic(topic, Event{
		Op:   OpPresence,
		Data: PresenceData{Topic: topic, UserIDs: members},
	})
	if h.onTopicChange != nil {
		go h.onTopicChange(topic, members)
	}
}
