package signaling

import (
	"context"
	"log"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/realtime"
)

// ChannelName is the realtime topic of a session: the lesson id for an
// individual lesson, group_{groupID} for a group session.
func ChannelName(lessonID, groupID string) (string, error) {
	return models.TopicFor(lessonID, groupID)
}

// Accept reports whether self should act on msg. Unicast messages must be
// addressed to self. Announcements from self are echoes and dropped; AI
// feedback is the exception, the requester renders it like everyone else.
func Accept(self string, msg Message) bool {
	if to, unicast := recipient(msg); unicast {
		return to == self && msg.Sender() != self
	}
	if msg.Type() == TypeAIFeedback {
		return true
	}
	return msg.Sender() != self
}

// Channel sends and receives typed messages for one participant.
type Channel struct {
	rt     realtime.Channel
	self   string
	logger *log.Logger
}

// NewChannel wraps rt for participant self. logger may be nil.
func NewChannel(rt realtime.Channel, self string, logger *log.Logger) *Channel {
	if logger == nil {
		logger = log.Default()
	}
	return &Channel{rt: rt, self: self, logger: logger}
}

func (c *Channel) Self() string { return c.self }

// Send broadcasts msg under its event name.
func (c *Channel) Send(ctx context.Context, msg Message) error {
	return c.rt.Publish(ctx, string(msg.Type()), msg)
}

// Run delivers accepted messages to handle, one at a time in arrival order,
// until ctx is done or the channel closes. Malformed and spoofed messages
// are logged and skipped.
func (c *Channel) Run(ctx context.Context, handle func(Message)) error {
	events := c.rt.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-events:
			if !ok {
				return nil
			}

			msg, err := Decode(env.Event, env.Payload)
			if err != nil {
				c.logger.Printf("[signaling] dropping message from %s: %v", env.From, err)
				continue
			}
			if env.From != "" && env.From != msg.Sender() {
				c.logger.Printf("[signaling] dropping %s claiming to be from %s, sent by %s", msg.Type(), msg.Sender(), env.From)
				continue
			}
			if !Accept(c.self, msg) {
				continue
			}
			handle(msg)
		}
	}
}

// Close unsubscribes from the topic.
func (c *Channel) Close() error { return c.rt.Close() }
