// Package realtime is the client side of the broadcast relay: a topic-scoped
// channel that fans every published event out to the topic's members.
//
// Conn talks to the relay server over a websocket. Broker is an in-process
// relay with the same delivery rules for tests and single-process use.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

var (
	// ErrClosed is returned by Publish after Close.
	ErrClosed = errors.New("realtime: channel closed")
	// ErrSubscribeRejected means the relay refused the subscription.
	ErrSubscribeRejected = errors.New("realtime: subscription rejected")
)

// Envelope is one event delivered on a topic.
type Envelope struct {
	Event   string
	Payload json.RawMessage
	// From is the relay-authenticated sender.
	From string
}

// Channel is a subscription to one topic.
type Channel interface {
	// Publish broadcasts payload, JSON encoded, to the topic.
	Publish(ctx context.Context, event string, payload any) error
	// Events delivers the topic's events in relay order. It is closed when
	// the channel closes.
	Events() <-chan Envelope
	// Close unsubscribes. Safe to call more than once.
	Close() error
}

// inbox is an unbounded FIFO drained into out by one goroutine, so
// publishers never block on a slow subscriber.
type inbox struct {
	mu     sync.Mutex
	queue  []Envelope
	notify chan struct{}
	done   chan struct{}
	out    chan Envelope
}

func newInbox() *inbox {
	in := &inbox{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan Envelope),
	}
	go in.run()
	return in
}

func (in *inbox) push(env Envelope) {
	in.mu.Lock()
	in.queue = append(in.queue, env)
	in.mu.Unlock()

	select {
	case in.notify <- struct{}{}:
	default:
	}
}

func (in *inbox) run() {
	defer close(in.out)
	for {
		in.mu.Lock()
		batch := in.queue
		in.queue = nil
		in.mu.Unlock()

		for _, env := range batch {
			select {
			case in.out <- env:
			case <-in.done:
				return
			}
		}

		select {
		case <-in.notify:
		case <-in.done:
			return
		}
	}
}

func (in *inbox) close() { close(in.done) }
