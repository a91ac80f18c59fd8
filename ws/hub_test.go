package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg/ratelimit"
	"github.com/gorilla/websocket"
)

// access token == user id
type stubTokens struct{}

func (stubTokens) ValidateAccessToken(token string) (*models.AuthUser, error) {
	if token == "" || token == "bad" {
		return nil, errors.New("invalid")
	}
	return &models.AuthUser{ID: token, Role: models.RoleStudent}, nil
}

// room token == "identity:room"
type stubRooms struct{}

func (stubRooms) Verify(token string) (string, string, error) {
	identity, room, ok := strings.Cut(token, ":")
	if !ok {
		return "", "", errors.New("invalid room token")
	}
	return identity, room, nil
}

func newTestRelay(t *testing.T, limiter BroadcastLimiter) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	go hub.Run()

	h := NewHandler(hub, stubTokens{}, stubRooms{}, limiter, nil, nil)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleConnection))
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", token, err)
	}
	t.Cleanup(func() { conn.Close() })
	readOp(t, conn, OpReady)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, op string, data any) {
	t.Helper()
	if err := conn.WriteJSON(Event{Op: op, Data: data}); err != nil {
		t.Fatalf("write %s: %v", op, err)
	}
}

// readOp reads frames until one with op arrives, skipping others.
func readOp(t *testing.T, conn *websocket.Conn, op string) InboundEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var ev InboundEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("waiting for %s: %v", op, err)
		}
		if ev.Op == op {
			return ev
		}
	}
}

// expectNoBroadcast fails if a broadcast frame arrives within d.
func expectNoBroadcast(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(d))
	for {
		var ev InboundEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		if ev.Op == OpBroadcast {
			t.Fatalf("unexpected broadcast: %s", ev.Data)
		}
	}
}

func subscribe(t *testing.T, conn *websocket.Conn, user, topic string, self bool) SubscribedData {
	t.Helper()
	send(t, conn, OpSubscribe, SubscribeData{Topic: topic, RoomToken: user + ":" + topic, Self: self})
	var ack SubscribedData
	if err := readOp(t, conn, OpSubscribed).Decode(&ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	return ack
}

func TestRelayBroadcastSelfDelivery(t *testing.T) {
	hub, srv := newTestRelay(t, nil)

	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")

	subscribe(t, alice, "alice", "lesson-1", true)
	ack := subscribe(t, bob, "bob", "lesson-1", false)
	if len(ack.Members) != 2 {
		t.Fatalf("members = %v", ack.Members)
	}
	if got := hub.TopicMembers("lesson-1"); len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("TopicMembers = %v", got)
	}

	send(t, alice, OpBroadcast, BroadcastData{Topic: "lesson-1", Event: "user-joined", Payload: json.RawMessage(`{"from":"alice"}`)})

	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		var got BroadcastData
		if err := readOp(t, conn, OpBroadcast).Decode(&got); err != nil {
			t.Fatalf("%s decode: %v", name, err)
		}
		if got.Event != "user-joined" || got.FromUser != "alice" || string(got.Payload) != `{"from":"alice"}` {
			t.Fatalf("%s got %+v", name, got)
		}
	}

	// bob subscribed without self delivery
	send(t, bob, OpBroadcast, BroadcastData{Topic: "lesson-1", Event: "user-left", Payload: json.RawMessage(`{}`)})
	var got BroadcastData
	readOp(t, alice, OpBroadcast).Decode(&got)
	if got.Event != "user-left" || got.FromUser != "bob" {
		t.Fatalf("alice got %+v", got)
	}
	expectNoBroadcast(t, bob, 200*time.Millisecond)
}

func TestRelayRejectsMismatchedRoomToken(t *testing.T) {
	_, srv := newTestRelay(t, nil)
	mallory := dial(t, srv, "mallory")

	tests := []struct {
		name  string
		token string
	}{
		{"other topic", "mallory:lesson-2"},
		{"other identity", "alice:lesson-1"},
		{"garbage", "nope"},
	}
	for _, tt := range tests {
		send(t, mallory, OpSubscribe, SubscribeData{Topic: "lesson-1", RoomToken: tt.token})
		var e ErrorData
		readOp(t, mallory, OpError).Decode(&e)
		if e.Code != ErrCodeUnauthorized || e.Op != OpSubscribe {
			t.Fatalf("%s: error = %+v", tt.name, e)
		}
	}

	send(t, mallory, OpBroadcast, BroadcastData{Topic: "lesson-1", Event: "offer", Payload: json.RawMessage(`{}`)})
	var e ErrorData
	readOp(t, mallory, OpError).Decode(&e)
	if e.Code != ErrCodeNotSubscribed {
		t.Fatalf("broadcast without subscription: %+v", e)
	}
}

func TestRelayUnsubscribeAndDisconnectUpdatePresence(t *testing.T) {
	hub, srv := newTestRelay(t, nil)

	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")
	subscribe(t, alice, "alice", "group_g1", true)
	subscribe(t, bob, "bob", "group_g1", true)

	send(t, bob, OpUnsubscribe, UnsubscribeData{Topic: "group_g1"})
	waitFor(t, func() bool { return len(hub.TopicMembers("group_g1")) == 1 })

	var p PresenceData
	for {
		readOp(t, alice, OpPresence).Decode(&p)
		if len(p.UserIDs) == 1 {
			break
		}
	}
	if p.UserIDs[0] != "alice" {
		t.Fatalf("presence = %+v", p)
	}

	alice.Close()
	waitFor(t, func() bool { return len(hub.TopicMembers("group_g1")) == 0 && hub.ConnectionCount() == 1 })
}

func TestRelayBroadcastRateLimit(t *testing.T) {
	limiter := ratelimit.NewBroadcastRateLimiter(2, time.Minute, 5*time.Second)
	t.Cleanup(limiter.Stop)
	_, srv := newTestRelay(t, limiter)

	alice := dial(t, srv, "alice")
	subscribe(t, alice, "alice", "lesson-1", true)

	for i := 0; i < 2; i++ {
		send(t, alice, OpBroadcast, BroadcastData{Topic: "lesson-1", Event: "ice-candidate", Payload: json.RawMessage(`{}`)})
		readOp(t, alice, OpBroadcast)
	}

	send(t, alice, OpBroadcast, BroadcastData{Topic: "lesson-1", Event: "ice-candidate", Payload: json.RawMessage(`{}`)})
	var e ErrorData
	readOp(t, alice, OpError).Decode(&e)
	if e.Code != ErrCodeRateLimited || e.RetryAfter <= 0 {
		t.Fatalf("error = %+v", e)
	}
}

func TestRelayRejectsBadAccessToken(t *testing.T) {
	_, srv := newTestRelay(t, nil)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=bad"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial with a bad token should fail")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("response = %v", resp)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
