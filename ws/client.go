package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the deadline for one socket write.
	writeWait = 10 * time.Second

	// pongWait: three missed 30s heartbeats and the connection is dead.
	pongWait = 90 * time.Second

	// maxMessageSize bounds one inbound frame. SDP offers with many
	// candidates run to a few KB.
	maxMessageSize = 64 * 1024

	// sendBufferSize is the per-client outbound queue. A client that lets
	// it fill up is disconnected.
	sendBufferSize = 256

	maxTopicLength = 128
	maxEventLength = 64
)

// Client is one websocket connection.
//
// Each connection runs two goroutines: ReadPump parses client frames and
// hands them to the Hub, WritePump drains send to the socket. gorilla
// supports one concurrent reader and one concurrent writer per conn.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	id      string
	userID  string
	send    chan []byte
	mu      sync.Mutex // serialises conn writes
	rooms   RoomTokenVerifier
	limiter BroadcastLimiter
}

// UserID returns the authenticated user behind the connection.
func (c *Client) UserID() string { return c.userID }

// ReadPump reads frames until the connection closes, then unregisters the
// client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("[ws] failed to set read deadline for user %s: %v", c.userID, err)
		return
	}

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] unexpected close for user %s: %v", c.userID, err)
			}
			return
		}

		var event InboundEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			log.Printf("[ws] invalid message from user %s: %v", c.userID, err)
			continue
		}

		c.handleEvent(event)
	}
}

func (c *Client) handleEvent(event InboundEvent) {
	switch event.Op {
	case OpHeartbeat:
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			log.Printf("[ws] failed to set read deadline for user %s: %v", c.userID, err)
			return
		}
		c.sendEvent(Event{Op: OpHeartbeatAck})

	case OpSubscribe:
		c.handleSubscribe(event)

	case OpUnsubscribe:
		var data UnsubscribeData
		if err := event.Decode(&data); err != nil || data.Topic == "" {
			c.sendError(OpUnsubscribe, "", ErrCodeBadRequest, "topic is required")
			return
		}
		c.hub.Unsubscribe(c, data.Topic)

	case OpBroadcast:
		c.handleBroadcast(event)

	default:
		log.Printf("[ws] unknown op from user %s: %s", c.userID, event.Op)
	}
}

// handleSubscribe admits the client to a topic when its room token was
// issued for that topic and for this user.
func (c *Client) handleSubscribe(event InboundEvent) {
	var data SubscribeData
	if err := event.Decode(&data); err != nil || data.Topic == "" || len(data.Topic) > maxTopicLength {
		c.sendError(OpSubscribe, data.Topic, ErrCodeBadRequest, "invalid topic")
		return
	}

	identity, room, err := c.rooms.Verify(data.RoomToken)
	if err != nil {
		c.sendError(OpSubscribe, data.Topic, ErrCodeUnauthorized, err.Error())
		return
	}
	if room != data.Topic || identity != c.userID {
		log.Printf("[ws] user %s presented a token for %s/%s on topic %s", c.userID, identity, room, data.Topic)
		c.sendError(OpSubscribe, data.Topic, ErrCodeUnauthorized, "room token does not match topic")
		return
	}

	c.hub.Subscribe(c, data.Topic, data.Self)
}

func (c *Client) handleBroadcast(event InboundEvent) {
	var data BroadcastData
	if err := event.Decode(&data); err != nil || data.Topic == "" || data.Event == "" || len(data.Event) > maxEventLength {
		c.sendError(OpBroadcast, data.Topic, ErrCodeBadRequest, "topic and event are required")
		return
	}

	if !c.hub.IsSubscribed(c, data.Topic) {
		c.sendError(OpBroadcast, data.Topic, ErrCodeNotSubscribed, "subscribe before broadcasting")
		return
	}

	if c.limiter != nil && !c.limiter.Allow(c.userID) {
		c.sendEvent(Event{Op: OpError, Data: ErrorData{
			Op:         OpBroadcast,
			Topic:      data.Topic,
			Code:       ErrCodeRateLimited,
			Message:    "too many broadcasts",
			RetryAfter: c.limiter.CooldownSeconds(c.userID),
		}})
		return
	}

	c.hub.Broadcast(c, data)
}

func (c *Client) sendError(op, topic, code, message string) {
	c.sendEvent(Event{Op: OpError, Data: ErrorData{Op: op, Topic: topic, Code: code, Message: message}})
}

// sendEvent queues one event for this client only.
func (c *Client) sendEvent(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[ws] failed to marshal event for user %s: %v", c.userID, err)
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c.userID][c] {
		return
	}
	c.hub.enqueue(c, data)
}

// WritePump writes queued frames until the Hub closes send.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for {
		message, ok := <-c.send
		if !ok {
			c.writeMessage(websocket.CloseMessage, nil)
			return
		}

		if err := c.writeMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

func (c *Client) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
