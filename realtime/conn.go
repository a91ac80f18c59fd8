package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/ws"
	"github.com/gorilla/websocket"
)

const (
	defaultHeartbeat = 30 * time.Second
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
)

// DialOptions configures a relay connection.
type DialOptions struct {
	// URL is the relay endpoint, e.g. ws://localhost:9090/ws.
	URL         string
	AccessToken string
	Topic       string
	// RoomToken must be issued for Topic and the access token's user.
	RoomToken string
	// Self asks the relay to deliver this connection's own broadcasts.
	Self bool

	// HeartbeatInterval defaults to 30s; the relay drops a connection
	// after 90s of silence.
	HeartbeatInterval time.Duration
	Logger            *log.Logger
}

// Conn is a Channel backed by a relay websocket, subscribed to one topic.
type Conn struct {
	conn   *websocket.Conn
	topic  string
	userID string
	logger *log.Logger

	writeMu sync.Mutex
	events  chan Envelope

	presenceMu sync.RWMutex
	presence   []string

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the relay and subscribes to opts.Topic. It returns once
// the relay acknowledged the subscription, so no broadcast sent after Dial
// returns can be missed.
func Dial(ctx context.Context, opts DialOptions) (*Conn, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url: %w", err)
	}
	q := u.Query()
	q.Set("token", opts.AccessToken)
	u.RawQuery = q.Encode()

	wsConn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	c := &Conn{
		conn:   wsConn,
		topic:  opts.Topic,
		logger: logger,
		events: make(chan Envelope, 256),
		done:   make(chan struct{}),
	}

	if err := c.handshake(ctx, opts); err != nil {
		wsConn.Close()
		return nil, err
	}

	every := opts.HeartbeatInterval
	if every <= 0 {
		every = defaultHeartbeat
	}
	go c.readLoop()
	go c.heartbeat(every)
	return c, nil
}

// handshake waits for ready, subscribes and waits for the ack.
func (c *Conn) handshake(ctx context.Context, opts DialOptions) error {
	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetReadDeadline(deadline)
	defer c.conn.SetReadDeadline(time.Time{})

	var ready ws.ReadyData
	if err := c.expect(ws.OpReady, &ready); err != nil {
		return err
	}
	c.userID = ready.UserID

	if err := c.write(ws.Event{Op: ws.OpSubscribe, Data: ws.SubscribeData{
		Topic:     opts.Topic,
		RoomToken: opts.RoomToken,
		Self:      opts.Self,
	}}); err != nil {
		return err
	}

	var ack ws.SubscribedData
	if err := c.expect(ws.OpSubscribed, &ack); err != nil {
		return err
	}
	c.setPresence(ack.Members)
	return nil
}

// expect reads frames until op arrives. An error frame fails the wait.
func (c *Conn) expect(op string, v any) error {
	for {
		var ev ws.InboundEvent
		if err := c.conn.ReadJSON(&ev); err != nil {
			return fmt.Errorf("waiting for %s: %w", op, err)
		}
		switch ev.Op {
		case op:
			return ev.Decode(v)
		case ws.OpError:
			var e ws.ErrorData
			ev.Decode(&e)
			return fmt.Errorf("%w: %s: %s", ErrSubscribeRejected, e.Code, e.Message)
		}
	}
}

func (c *Conn) readLoop() {
	defer close(c.events)

	for {
		var ev ws.InboundEvent
		if err := c.conn.ReadJSON(&ev); err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Printf("[realtime] relay connection lost: %v", err)
			}
			return
		}

		switch ev.Op {
		case ws.OpBroadcast:
			var b ws.BroadcastData
			if err := ev.Decode(&b); err != nil || b.Topic != c.topic {
				continue
			}
			select {
			case c.events <- Envelope{Event: b.Event, Payload: b.Payload, From: b.FromUser}:
			case <-c.done:
				return
			}

		case ws.OpPresence:
			var p ws.PresenceData
			if err := ev.Decode(&p); err == nil && p.Topic == c.topic {
				c.setPresence(p.UserIDs)
			}

		case ws.OpError:
			var e ws.ErrorData
			ev.Decode(&e)
			if e.Code == ws.ErrCodeRateLimited {
				c.logger.Printf("[realtime] %s rate limited, retry after %ds", e.Op, e.RetryAfter)
			} else {
				c.logger.Printf("[realtime] relay rejected %s: %s", e.Op, e.Message)
			}
		}
	}
}

func (c *Conn) heartbeat(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(ws.Event{Op: ws.OpHeartbeat}); err != nil {
				return
			}
		}
	}
}

func (c *Conn) write(ev ws.Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(ev)
}

// UserID is the identity the relay authenticated.
func (c *Conn) UserID() string { return c.userID }

// Presence returns the topic's members as last reported by the relay.
func (c *Conn) Presence() []string {
	c.presenceMu.RLock()
	defer c.presenceMu.RUnlock()
	return slices.Clone(c.presence)
}

func (c *Conn) setPresence(ids []string) {
	c.presenceMu.Lock()
	c.presence = ids
	c.presenceMu.Unlock()
}

func (c *Conn) Publish(ctx context.Context, event string, payload any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.write(ws.Event{Op: ws.OpBroadcast, Data: ws.BroadcastData{
		Topic:   c.topic,
		Event:   event,
		Payload: raw,
	}})
}

func (c *Conn) Events() <-chan Envelope { return c.events }

// Close unsubscribes and closes the socket.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.write(ws.Event{Op: ws.OpUnsubscribe, Data: ws.UnsubscribeData{Topic: c.topic}})

		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}
