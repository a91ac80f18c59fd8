// Package media acquires the local camera, microphone and screen and wraps
// them, and the tracks received from peers, behind one Track type.
//
// Local tracks are pion sample tracks shared by every peer connection:
// video is VP8, audio is PCMU at 8 kHz. Every track also exposes a tap for
// the composite recorder: the latest decoded picture for video and a
// 48 kHz mono PCM buffer for audio.
package media

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrNoDevice means the requested device does not exist.
	ErrNoDevice         = errors.New("media: no such device")
	// ErrPermissionDenied means the device exists but cannot be opened.
	ErrPermissionDenied = errors.New("media: permission denied")
	// ErrOverconstrained means the device cannot satisfy the constraints.
	ErrOverconstrained  = errors.New("media: constraints cannot be satisfied")
)

// Kind is the media type of a track.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Source says where a track's media comes from.
type Source string

const (
	SourceCamera     Source = "camera"
	SourceMicrophone Source = "microphone"
	SourceScreen     Source = "screen"
	SourceRemote     Source = "remote"
)

const (
	// SampleRate is the rate of every PCM tap.
	SampleRate = 48000
	// wireRate is the PCMU clock rate on the wire.
	wireRate   = 8000
	// upsample is SampleRate / wireRate.
	upsample   = SampleRate / wireRate
)

// Constraints describes what a lesson asks of the camera and microphone.
type Constraints struct {
	Width     int
	Height    int
	FrameRate int

	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	SampleRate       int
}

// DefaultConstraints asks for 720p video and 48 kHz processed audio.
func DefaultConstraints() Constraints {
	return Constraints{
		Width:            1280,
		Height:           720,
		FrameRate:        30,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		SampleRate:       SampleRate,
	}
}

// Devices opens local capture devices.
type Devices interface {
	// UserMedia opens the camera and microphone together. Either failing
	// fails the call; there is no audio-only fallback.
	UserMedia(ctx context.Context, c Constraints) (*Stream, error)
	// DisplayMedia opens a screen capture. Its video track ends on its own
	// when the capture stops.
	DisplayMedia(ctx context.Context) (*Stream, error)
}

// Stream is an ordered set of tracks that belong together.
type Stream struct {
	id string

	mu     sync.RWMutex
	tracks []*Track
}

// NewStream groups tracks into a stream with a fresh id.
func NewStream(tracks ...*Track) *Stream {
	return &Stream{id: uuid.NewString(), tracks: tracks}
}

func (s *Stream) ID() string { return s.id }

// AddTrack appends a track. Remote streams grow one track at a time.
func (s *Stream) AddTrack(t *Track) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

// Tracks returns a copy of the stream's tracks in insertion order.
func (s *Stream) Tracks() []*Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *Stream) AudioTracks() []*Track { return s.byKind(KindAudio) }

func (s *Stream) VideoTracks() []*Track { return s.byKind(KindVideo) }

func (s *Stream) byKind(k Kind) []*Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Track
	for _, t := range s.tracks {
		if t.kind == k {
			out = append(out, t)
		}
	}
	return out
}

// Stop stops every track. Safe to call more than once.
func (s *Stream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
