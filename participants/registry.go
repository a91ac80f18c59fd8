// Package participants is the lesson room's registry of remote
// participants: who is in the session and which stream belongs to whom.
package participants

import (
	"errors"
	"slices"
	"sync"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/media"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
)

// ErrUnknownParticipant is returned when a stream arrives for an id the
// registry has never seen.
var ErrUnknownParticipant = errors.New("participants: unknown participant")

type Participant struct {
	UserID            string
	DisplayName       string
	Role              models.Role
	ProfilePictureURL string
	// Stream is nil until the participant's media arrives.
	Stream *media.Stream
}

// Registry is safe for concurrent use. Reads return copies; callers never
// hold a reference into the registry.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*Participant
	order []string

	subsMu sync.Mutex
	subs   map[int]func([]Participant)
	nextID int
}

func New() *Registry {
	return &Registry{
		byID: make(map[string]*Participant),
		subs: make(map[int]func([]Participant)),
	}
}

// Add registers p. For a known id the identity fields that are set in p
// replace the stored ones and the stream is kept. It reports whether p was
// new.
func (r *Registry) Add(p Participant) bool {
	r.mu.Lock()
	existing, ok := r.byID[p.UserID]
	if ok {
		if p.DisplayName != "" {
			existing.DisplayName = p.DisplayName
		}
		if p.Role != "" {
			existing.Role = p.Role
		}
		if p.ProfilePictureURL != "" {
			existing.ProfilePictureURL = p.ProfilePictureURL
		}
	} else {
		p.Stream = nil
		r.byID[p.UserID] = &p
		r.order = append(r.order, p.UserID)
	}
	r.mu.Unlock()

	r.notify()
	return !ok
}

// AttachStream binds a stream to a known participant.
func (r *Registry) AttachStream(userID string, s *media.Stream) error {
	r.mu.Lock()
	p, ok := r.byID[userID]
	if ok {
		p.Stream = s
	}
	r.mu.Unlock()

	if !ok {
		return ErrUnknownParticipant
	}
	r.notify()
	return nil
}

// Update applies fn to a known participant.
func (r *Registry) Update(userID string, fn func(*Participant)) error {
	r.mu.Lock()
	p, ok := r.byID[userID]
	if ok {
		fn(p)
		p.UserID = userID
	}
	r.mu.Unlock()

	if !ok {
		return ErrUnknownParticipant
	}
	r.notify()
	return nil
}

// Remove deletes a participant and returns what was stored. The caller
// owns stopping its stream.
func (r *Registry) Remove(userID string) (Participant, bool) {
	r.mu.Lock()
	p, ok := r.byID[userID]
	if ok {
		delete(r.byID, userID)
		r.order = slices.DeleteFunc(r.order, func(id string) bool { return id == userID })
	}
	r.mu.Unlock()

	if !ok {
		return Participant{}, false
	}
	r.notify()
	return *p, true
}

// Clear removes everyone and returns who was there.
func (r *Registry) Clear() []Participant {
	r.mu.Lock()
	out := r.snapshotLocked()
	r.byID = make(map[string]*Participant)
	r.order = nil
	r.mu.Unlock()

	if len(out) > 0 {
		r.notify()
	}
	return out
}

func (r *Registry) Get(userID string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[userID]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Snapshot returns every participant in join order.
func (r *Registry) Snapshot() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []Participant {
	out := make([]Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Subscribe calls fn with a fresh snapshot after every change. fn runs on
// the mutating goroutine and must not call back into the registry's
// mutators.
func (r *Registry) Subscribe(fn func([]Participant)) (cancel func()) {
	r.subsMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	r.subsMu.Unlock()

	return func() {
		r.subsMu.Lock()
		delete(r.subs, id)
		r.subsMu.Unlock()
	}
}

func (r *Registry) notify() {
	r.subsMu.Lock()
	subs := make([]func([]Participant), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.subsMu.Unlock()

	if len(subs) == 0 {
		return
	}
	snap := r.Snapshot()
	for _, fn := range subs {
		fn(snap)
	}
}
