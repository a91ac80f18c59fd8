package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/ws"
)

func next(t *testing.T, ch Channel) Envelope {
	t.Helper()
	select {
	case env, ok := <-ch.Events():
		if !ok {
			t.Fatal("events closed")
		}
		return env
	case <-time.After(3 * time.Second):
		t.Fatal("no event")
	}
	return Envelope{}
}

func expectNone(t *testing.T, ch Channel) {
	t.Helper()
	select {
	case env := <-ch.Events():
		t.Fatalf("unexpected %s from %s", env.Event, env.From)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBrokerDelivery(t *testing.T) {
	b := NewBroker()
	alice := b.Join("lesson-1", "alice", true)
	bob := b.Join("lesson-1", "bob", false)
	other := b.Join("lesson-2", "carol", true)
	defer other.Close()

	if got := b.Members("lesson-1"); len(got) != 2 || got[0] != "alice" {
		t.Fatalf("members = %v", got)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := alice.Publish(ctx, "ice-candidate", map[string]int{"n": i}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		want := `{"n":` + string(rune('0'+i)) + `}`
		for name, ch := range map[string]Channel{"alice": alice, "bob": bob} {
			env := next(t, ch)
			if env.From != "alice" || string(env.Payload) != want {
				t.Fatalf("%s got %+v, want %s", name, env, want)
			}
		}
	}
	expectNone(t, other)

	bob.Publish(ctx, "user-left", nil)
	if env := next(t, alice); env.Event != "user-left" {
		t.Fatalf("alice got %+v", env)
	}
	expectNone(t, bob)

	bob.Close()
	bob.Close()
	if err := bob.Publish(ctx, "offer", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("publish after close = %v", err)
	}
	if _, ok := <-bob.Events(); ok {
		t.Fatal("events open after close")
	}
	if got := b.Members("lesson-1"); len(got) != 1 {
		t.Fatalf("members after close = %v", got)
	}
	alice.Close()
}

type tokens struct{}

func (tokens) ValidateAccessToken(token string) (*models.AuthUser, error) {
	if token == "" {
		return nil, errors.New("missing")
	}
	return &models.AuthUser{ID: token, Role: models.RoleStudent}, nil
}

type rooms struct{}

func (rooms) Verify(token string) (string, string, error) {
	identity, room, ok := strings.Cut(token, ":")
	if !ok {
		return "", "", errors.New("invalid room token")
	}
	return identity, room, nil
}

func newRelay(t *testing.T) string {
	t.Helper()
	hub := ws.NewHub()
	go hub.Run()
	srv := httptest.NewServer(http.HandlerFunc(ws.NewHandler(hub, tokens{}, rooms{}, nil, nil, nil).HandleConnection))
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, relay, user, topic string, self bool) *Conn {
	t.Helper()
	c, err := Dial(context.Background(), DialOptions{
		URL:         relay,
		AccessToken: user,
		Topic:       topic,
		RoomToken:   user + ":" + topic,
		Self:        self,
	})
	if err != nil {
		t.Fatalf("dial %s: %v", user, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestConnOverRelay(t *testing.T) {
	relay := newRelay(t)

	alice := dial(t, relay, "alice", "group_g1", true)
	bob := dial(t, relay, "bob", "group_g1", true)
	if alice.UserID() != "alice" {
		t.Fatalf("user id = %q", alice.UserID())
	}
	if got := bob.Presence(); len(got) != 2 {
		t.Fatalf("presence = %v", got)
	}

	if err := bob.Publish(context.Background(), "user-joined", map[string]string{"from": "bob"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for name, c := range map[string]*Conn{"alice": alice, "bob": bob} {
		env := next(t, c)
		if env.Event != "user-joined" || env.From != "bob" || string(env.Payload) != `{"from":"bob"}` {
			t.Fatalf("%s got %+v", name, env)
		}
	}

	bob.Close()
	if err := bob.Publish(context.Background(), "offer", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("publish after close = %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for len(alice.Presence()) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("presence after leave = %v", alice.Presence())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestConnRejectedSubscription(t *testing.T) {
	relay := newRelay(t)

	_, err := Dial(context.Background(), DialOptions{
		URL:         relay,
		AccessToken: "mallory",
		Topic:       "group_g1",
		RoomToken:   "mallory:group_g2",
	})
	if !errors.Is(err, ErrSubscribeRejected) {
		t.Fatalf("err = %v", err)
	}
}
