// Package signaling carries the lesson room's connection-setup and session
// messages over a realtime channel.
//
// Every message names its sender. Offers, answers, ICE candidates and
// renegotiation requests are unicast over the broadcast medium: they name a recipient and everyone
// else drops them.
package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/pion/webrtc/v4"
)

// Type is the event name a message is broadcast under.
type Type string

const (
	TypeJoin               Type = "user-joined"
	TypeOffer              Type = "offer"
	TypeAnswer             Type = "answer"
	TypeICECandidate       Type = "ice-candidate"
	TypeLeave              Type = "user-left"
	TypeScreenShareStarted Type = "screen-share-started"
	TypeScreenShareStopped Type = "screen-share-stopped"
	TypeAIFeedback         Type = "ai_feedback"
	TypeRenegotiate        Type = "renegotiate"
)

// Message is one of the concrete message types below.
type Message interface {
	Type() Type
	Sender() string
}

// Identity is what a participant shows the others.
type Identity struct {
	DisplayName       string      `json:"display_name"`
	Role              models.Role `json:"role"`
	ProfilePictureURL string      `json:"profile_picture_url,omitempty"`
}

// Join announces a participant. Existing members answer it with an offer.
type Join struct {
	From string `json:"from"`
	Identity
}

// Offer opens or renegotiates a connection. It carries the sender's
// identity so the receiver can register a participant whose join it missed.
type Offer struct {
	From          string                    `json:"from"`
	To            string                    `json:"to"`
	NegotiationID uint64                    `json:"negotiation_id"`
	SDP           webrtc.SessionDescription `json:"sdp"`
	Identity
}

// Answer completes the negotiation NegotiationID.
type Answer struct {
	From          string                    `json:"from"`
	To            string                    `json:"to"`
	NegotiationID uint64                    `json:"negotiation_id"`
	SDP           webrtc.SessionDescription `json:"sdp"`
}

type ICECandidate struct {
	From      string                  `json:"from"`
	To        string                  `json:"to"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// Renegotiate asks To for a fresh offer. Once a connection is established
// only the impolite side offers; the polite side sends this instead.
type Renegotiate struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Leave is final for this participant entry; a rejoin is a new entry.
type Leave struct {
	From string `json:"from"`
}

type ScreenShareStarted struct {
	From string `json:"from"`
}

type ScreenShareStopped struct {
	From string `json:"from"`
}

// AIFeedback fans one assist response out to the whole room, requester
// included.
type AIFeedback struct {
	From     string            `json:"from"`
	Feedback models.AIFeedback `json:"feedback"`
}

func (Join) Type() Type               { return TypeJoin }
func (Offer) Type() Type              { return TypeOffer }
func (Answer) Type() Type             { return TypeAnswer }
func (ICECandidate) Type() Type       { return TypeICECandidate }
func (Leave) Type() Type              { return TypeLeave }
func (ScreenShareStarted) Type() Type { return TypeScreenShareStarted }
func (ScreenShareStopped) Type() Type { return TypeScreenShareStopped }
func (AIFeedback) Type() Type         { return TypeAIFeedback }
func (Renegotiate) Type() Type        { return TypeRenegotiate }

func (m Join) Sender() string               { return m.From }
func (m Offer) Sender() string              { return m.From }
func (m Answer) Sender() string             { return m.From }
func (m ICECandidate) Sender() string       { return m.From }
func (m Leave) Sender() string              { return m.From }
func (m ScreenShareStarted) Sender() string { return m.From }
func (m ScreenShareStopped) Sender() string { return m.From }
func (m AIFeedback) Sender() string         { return m.From }
func (m Renegotiate) Sender() string        { return m.From }

// recipient returns the To of unicast messages.
func recipient(msg Message) (string, bool) {
	switch m := msg.(type) {
	case Offer:
		return m.To, true
	case Answer:
		return m.To, true
	case ICECandidate:
		return m.To, true
	case Renegotiate:
		return m.To, true
	}
	return "", false
}

// Decode parses the payload of an event.
func Decode(event string, payload []byte) (Message, error) {
	var (
		msg Message
		err error
	)
	switch Type(event) {
	case TypeJoin:
		msg, err = decodeAs[Join](payload)
	case TypeOffer:
		msg, err = decodeAs[Offer](payload)
	case TypeAnswer:
		msg, err = decodeAs[Answer](payload)
	case TypeICECandidate:
		msg, err = decodeAs[ICECandidate](payload)
	case TypeLeave:
		msg, err = decodeAs[Leave](payload)
	case TypeScreenShareStarted:
		msg, err = decodeAs[ScreenShareStarted](payload)
	case TypeScreenShareStopped:
		msg, err = decodeAs[ScreenShareStopped](payload)
	case TypeAIFeedback:
		msg, err = decodeAs[AIFeedback](payload)
	case TypeRenegotiate:
		msg, err = decodeAs[Renegotiate](payload)
	default:
		return nil, fmt.Errorf("unknown event %q", event)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", event, err)
	}
	if msg.Sender() == "" {
		return nil, fmt.Errorf("%s without from", event)
	}
	return msg, nil
}

func decodeAs[T Message](payload []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	return m, nil
}
