package media

import "sync"

// bus tracks every live local track for StopAll.
var bus = &stopBus{tracks: make(map[*Track]struct{}), subs: make(map[int]func())}

type stopBus struct {
	mu     sync.Mutex
	tracks map[*Track]struct{}
	subs   map[int]func()
	nextID int
}

func (b *stopBus) add(t *Track) {
	b.mu.Lock()
	b.tracks[t] = struct{}{}
	b.mu.Unlock()
}

func (b *stopBus) remove(t *Track) {
	b.mu.Lock()
	delete(b.tracks, t)
	b.mu.Unlock()
}

// StopAll releases every local capture device in the process, e.g. on
// sign-out. Subscribers run first so a session can begin its own cleanup
// before its tracks disappear under it.
func StopAll() {
	bus.mu.Lock()
	subs := make([]func(), 0, len(bus.subs))
	for _, fn := range bus.subs {
		subs = append(subs, fn)
	}
	tracks := make([]*Track, 0, len(bus.tracks))
	for t := range bus.tracks {
		tracks = append(tracks, t)
	}
	bus.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
	for _, t := range tracks {
		t.Stop()
	}
}

// OnStopAll registers fn to run on StopAll. fn must not block. The
// returned func unregisters it.
func OnStopAll(fn func()) (cancel func()) {
	bus.mu.Lock()
	id := bus.nextID
	bus.nextID++
	bus.subs[id] = fn
	bus.mu.Unlock()

	return func() {
		bus.mu.Lock()
		delete(bus.subs, id)
		bus.mu.Unlock()
	}
}
