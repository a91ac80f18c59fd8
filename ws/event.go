// Package ws is the realtime broadcast relay.
//
// Architecture:
//   - Hub: every connection and the topics they subscribed to
//   - Client: one websocket connection with its read and write pumps
//   - Event: the frame exchanged in both directions
//
// Flow of a broadcast:
//  1. A participant subscribes to a topic with a room token for that topic
//  2. It sends {op: "broadcast", d: {topic, event, payload}}
//  3. The Hub forwards the frame to every subscriber of the topic; the
//     sender's own connection only gets it when it subscribed with self=true
//  4. Each client's WritePump writes the frame to its socket
//
// The relay never looks inside payloads. Signaling semantics (offer,
// answer, candidates) live in the participants.
package ws

import "encoding/json"

// Event is an outbound frame.
//
// Seq increases by one for every frame the Hub fans out, so a client can
// detect a gap.
type Event struct {
	Op   string `json:"op"`
	Data any    `json:"d,omitempty"`
	Seq  int64  `json:"seq,omitempty"`
}

// InboundEvent is a frame as read from the socket. Data is decoded once
// the op is known.
type InboundEvent struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
	Seq  int64           `json:"seq,omitempty"`
}

// Decode unmarshals the payload into v.
func (e InboundEvent) Decode(v any) error {
	if len(e.Data) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(e.Data, v)
}

// Client → Server operations
const (
	OpHeartbeat   = "heartbeat"   // sent every 30s
	OpSubscribe   = "subscribe"   // join a topic
	OpUnsubscribe = "unsubscribe" // leave a topic
	OpBroadcast   = "broadcast"   // fan out to the topic (also Server → Client)
)

// Server → Client operations
const (
	OpReady        = "ready"         // first frame after connect
	OpHeartbeatAck = "heartbeat_ack" // reply to heartbeat
	OpSubscribed   = "subscribed"    // subscribe accepted
	OpPresence     = "presence"      // topic membership changed
	OpError        = "error"         // request rejected
)

// Error codes carried by OpError.
const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeUnauthorized  = "unauthorized"
	ErrCodeNotSubscribed = "not_subscribed"
	ErrCodeRateLimited   = "rate_limited"
)

// ReadyData is the payload of OpReady.
type ReadyData struct {
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
}

// SubscribeData is the payload of OpSubscribe.
//
// Self asks for the subscriber's own broadcasts to be delivered back to it.
type SubscribeData struct {
	Topic     string `json:"topic"`
	RoomToken string `json:"room_token"`
	Self      bool   `json:"self"`
}

// UnsubscribeData is the payload of OpUnsubscribe.
type UnsubscribeData struct {
	Topic string `json:"topic"`
}

// BroadcastData is the payload of OpBroadcast. FromUser is set by the relay
// on delivery and ignored on input.
type BroadcastData struct {
	Topic    string          `json:"topic"`
	Event    string          `json:"event"`
	Payload  json.RawMessage `json:"payload"`
	FromUser string          `json:"from_user,omitempty"`
}

// SubscribedData acknowledges a subscription.
type SubscribedData struct {
	Topic   string   `json:"topic"`
	Members []string `json:"members"`
}

// PresenceData lists a topic's subscribers after a change.
type PresenceData struct {
	Topic   string   `json:"topic"`
	UserIDs []string `json:"user_ids"`
}

// ErrorData rejects one request. The connection stays open.
type ErrorData struct {
	Op         string `json:"op"`
	Topic      string `json:"topic,omitempty"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}
