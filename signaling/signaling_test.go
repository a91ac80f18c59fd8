package signaling

import (
	"context"
	"testing"
	"time"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/realtime"
	"github.com/pion/webrtc/v4"
)

func TestChannelName(t *testing.T) {
	tests := []struct {
		lesson, group, want string
		wantErr             bool
	}{
		{"lesson-1", "", "lesson-1", false},
		{"", "g1", "group_g1", false},
		{"lesson-1", "g1", "group_g1", false},
		{"", "", "", true},
	}
	for _, tt := range tests {
		got, err := ChannelName(tt.lesson, tt.group)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ChannelName(%q, %q) = %q, %v", tt.lesson, tt.group, got, err)
		}
	}
}

func TestAccept(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want bool
	}{
		{"join from other", Join{From: "bob"}, true},
		{"join echo", Join{From: "me"}, false},
		{"leave echo", Leave{From: "me"}, false},
		{"screen share echo", ScreenShareStarted{From: "me"}, false},
		{"screen share stop", ScreenShareStopped{From: "bob"}, true},
		{"offer to me", Offer{From: "bob", To: "me"}, true},
		{"offer to other", Offer{From: "bob", To: "carol"}, false},
		{"answer to me", Answer{From: "bob", To: "me"}, true},
		{"answer without to", Answer{From: "bob"}, false},
		{"candidate to other", ICECandidate{From: "bob", To: "carol"}, false},
		{"candidate to self from self", ICECandidate{From: "me", To: "me"}, false},
		{"ai feedback echo", AIFeedback{From: "me"}, true},
		{"renegotiate to me", Renegotiate{From: "bob", To: "me"}, true},
		{"renegotiate to other", Renegotiate{From: "bob", To: "carol"}, false},
	}
	for _, tt := range tests {
		if got := Accept("me", tt.msg); got != tt.want {
			t.Errorf("%s: Accept = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDecode(t *testing.T) {
	msg, err := Decode("offer", []byte(`{"from":"bob","to":"me","negotiation_id":3,"sdp":{"type":"offer","sdp":"v=0"},"display_name":"Bob","role":"teacher"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	offer, ok := msg.(Offer)
	if !ok {
		t.Fatalf("type = %T", msg)
	}
	if offer.NegotiationID != 3 || offer.SDP.Type != webrtc.SDPTypeOffer || offer.DisplayName != "Bob" || offer.Role != models.RoleTeacher {
		t.Fatalf("offer = %+v", offer)
	}

	for _, bad := range []struct{ event, payload string }{
		{"nope", `{"from":"bob"}`},
		{"user-joined", `{"display_name":"no sender"}`},
		{"answer", `not json`},
	} {
		if _, err := Decode(bad.event, []byte(bad.payload)); err == nil {
			t.Errorf("Decode(%s, %s) succeeded", bad.event, bad.payload)
		}
	}
}

func TestChannelRun(t *testing.T) {
	broker := realtime.NewBroker()
	me := NewChannel(broker.Join("lesson-1", "me", true), "me", nil)
	bob := NewChannel(broker.Join("lesson-1", "bob", true), "bob", nil)
	mallory := broker.Join("lesson-1", "mallory", true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Message, 16)
	done := make(chan error, 1)
	go func() { done <- me.Run(ctx, func(m Message) { got <- m }) }()

	me.Send(ctx, Join{From: "me", Identity: Identity{DisplayName: "Me"}})
	sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	bob.Send(ctx, Offer{From: "bob", To: "carol", SDP: sdp})
	mallory.Publish(ctx, string(TypeLeave), Leave{From: "bob"})
	bob.Send(ctx, Offer{From: "bob", To: "me", NegotiationID: 1, SDP: sdp})
	bob.Send(ctx, Renegotiate{From: "bob", To: "carol"})
	bob.Send(ctx, Renegotiate{From: "bob", To: "me"})
	me.Send(ctx, AIFeedback{From: "me", Feedback: models.AIFeedback{Type: models.FeedbackTip, Tip: "천천히"}})

	want := []Type{TypeOffer, TypeRenegotiate, TypeAIFeedback}
	for _, w := range want {
		select {
		case m := <-got:
			if m.Type() != w {
				t.Fatalf("got %s, want %s", m.Type(), w)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("no %s", w)
		}
	}
	select {
	case m := <-got:
		t.Fatalf("unexpected %s from %s", m.Type(), m.Sender())
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("Run = %v", err)
	}
	me.Close()
	bob.Close()
	mallory.Close()
}
