package media

import (
	"bytes"
	"errors"
	"image"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"golang.org/x/image/vp8"
)

// Track is one audio or video track, local or received from a peer.
//
// A stopped track stays stopped; Stop is idempotent and closes Ended.
type Track struct {
	id     string
	kind   Kind
	source Source
	label  string

	enabled  atomic.Bool
	stopOnce sync.Once
	ended    chan struct{}

	mu    sync.RWMutex
	frame image.Image

	pcm   *pcmBuffer
	local *webrtc.TrackLocalStaticSample
}

func newTrack(kind Kind, source Source, label string, local *webrtc.TrackLocalStaticSample) *Track {
	t := &Track{
		id:     uuid.NewString(),
		kind:   kind,
		source: source,
		label:  label,
		ended:  make(chan struct{}),
		local:  local,
	}
	if kind == KindAudio {
		t.pcm = newPCMBuffer(SampleRate)
	}
	t.enabled.Store(true)
	return t
}

// newLocalTrack builds a track backed by a pion sample track and registers
// it with the stop-all bus.
func newLocalTrack(kind Kind, source Source, label, streamID string) (*Track, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	if kind == KindAudio {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: wireRate, Channels: 1}
	}

	id := uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, err
	}

	t := newTrack(kind, source, label, local)
	t.id = id
	bus.add(t)
	return t, nil
}

func (t *Track) ID() string     { return t.id }
func (t *Track) Kind() Kind     { return t.kind }
func (t *Track) Source() Source { return t.source }
func (t *Track) Label() string  { return t.label }

// Enabled reports whether the track is producing media. A disabled audio
// track sends silence; a disabled video track sends nothing.
func (t *Track) Enabled() bool { return t.enabled.Load() }

func (t *Track) SetEnabled(on bool) { t.enabled.Store(on) }

// Local returns the pion track to attach to peer connections, or nil for
// a remote track.
func (t *Track) Local() *webrtc.TrackLocalStaticSample { return t.local }

// Stop ends the track and releases its device.
func (t *Track) Stop() {
	t.stopOnce.Do(func() {
		close(t.ended)
		bus.remove(t)
	})
}

// Ended is closed once the track has stopped, whether by Stop or because
// its source ran out.
func (t *Track) Ended() <-chan struct{} { return t.ended }

func (t *Track) Stopped() bool {
	select {
	case <-t.ended:
		return true
	default:
		return false
	}
}

// Frame returns the latest decoded picture, or nil when the track is a
// stopped or disabled video track or nothing has been decoded yet.
func (t *Track) Frame() image.Image {
	if t.kind != KindVideo || !t.Enabled() || t.Stopped() {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frame
}

func (t *Track) setFrame(img image.Image) {
	t.mu.Lock()
	t.frame = img
	t.mu.Unlock()
}

// ReadPCM drains up to len(buf) buffered 48 kHz mono samples and returns
// how many were copied. Disabled and video tracks yield nothing.
//
// The buffer has a single reader: the composite recorder.
func (t *Track) ReadPCM(buf []int16) int {
	if t.pcm == nil {
		return 0
	}
	if !t.Enabled() {
		t.pcm.reset()
		return 0
	}
	return t.pcm.read(buf)
}

func (t *Track) writePCM(samples []int16) {
	if t.pcm != nil {
		t.pcm.write(samples)
	}
}

// pcmBuffer is a ring that drops the oldest samples when full.
type pcmBuffer struct {
	mu    sync.Mutex
	buf   []int16
	start int
	n     int
}

func newPCMBuffer(capacity int) *pcmBuffer {
	return &pcmBuffer{buf: make([]int16, capacity)}
}

func (b *pcmBuffer) write(samples []int16) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range samples {
		end := (b.start + b.n) % len(b.buf)
		b.buf[end] = s
		if b.n == len(b.buf) {
			b.start = (b.start + 1) % len(b.buf)
		} else {
			b.n++
		}
	}
}

func (b *pcmBuffer) read(out []int16) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := min(len(out), b.n)
	for i := 0; i < n; i++ {
		out[i] = b.buf[(b.start+i)%len(b.buf)]
	}
	b.start = (b.start + n) % len(b.buf)
	b.n -= n
	return n
}

func (b *pcmBuffer) reset() {
	b.mu.Lock()
	b.start, b.n = 0, 0
	b.mu.Unlock()
}

var errNotKeyFrame = errors.New("media: not a key frame")

// isKeyFrame checks the VP8 frame tag and start code.
func isKeyFrame(b []byte) bool {
	return len(b) >= 10 && b[0]&1 == 0 && b[3] == 0x9d && b[4] == 0x01 && b[5] == 0x2a
}

// decodeKeyFrame decodes one VP8 key frame. A fresh decoder per frame
// because vp8.Decoder reuses its output image.
func decodeKeyFrame(b []byte) (image.Image, error) {
	if !isKeyFrame(b) {
		return nil, errNotKeyFrame
	}
	d := vp8.NewDecoder()
	d.Init(bytes.NewReader(b), len(b))
	if _, err := d.DecodeFrameHeader(); err != nil {
		return nil, err
	}
	return d.DecodeFrame()
}
