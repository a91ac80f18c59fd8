// Package recorder composites every participant of a lesson into one
// recording: a grid of video tiles with name labels and the sum of all
// audio, muxed as WebM.
//
// Recording starts on the first frame that has a picture, so a session in
// which nobody's video ever rendered produces an empty recording, which
// Stop reports as ErrEmptyRecording.
package recorder

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/webm"
)

var (
	ErrEmptyRecording   = errors.New("recorder: recording is empty")
	ErrNotRecording     = errors.New("recorder: not recording")
	ErrAlreadyRecording = errors.New("recorder: already recording")
)

const (
	mixRate      = 48000
	flushTimeout = 2 * time.Second
)

// VideoSource is the latest picture of one participant. *media.Track
// implements it.
type VideoSource interface {
	Frame() image.Image
}

// AudioSource drains 48 kHz mono PCM. *media.Track implements it.
type AudioSource interface {
	ReadPCM(buf []int16) int
}

// Tile is one participant on the canvas. Video and Audio may be nil.
type Tile struct {
	Name  string
	Video VideoSource
	Audio AudioSource
}

// TileSource is asked for the current tiles on every frame, so joins and
// leaves show up in the next frame.
type TileSource interface {
	Tiles() []Tile
}

// TileFunc adapts a function to TileSource.
type TileFunc func() []Tile

func (f TileFunc) Tiles() []Tile { return f() }

// Options configures a Recorder. Zero fields take the defaults noted.
type Options struct {
	Width  int // default 1280
	Height int // default 720
	// FrameRate of the composite, default 15.
	FrameRate int
	// ChunkInterval is how often muxed output is cut into a chunk,
	// default 1s.
	ChunkInterval time.Duration
	JPEGQuality   int // default 75

	// OnFrame is called on the recorder goroutine after each frame is
	// drawn, with the tile names in grid order. frame is reused.
	OnFrame func(frame image.Image, names []string)
	Logger  *log.Logger
}

func (o *Options) defaults() {
	if o.Width <= 0 {
		o.Width = 1280
	}
	if o.Height <= 0 {
		o.Height = 720
	}
	if o.FrameRate <= 0 {
		o.FrameRate = 15
	}
	if o.ChunkInterval <= 0 {
		o.ChunkInterval = time.Second
	}
	if o.JPEGQuality <= 0 {
		o.JPEGQuality = 75
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
}

// State describes the recording in progress.
type State struct {
	IsRecording bool
	StartedAt   time.Time
	Chunks      int
	Bytes       int64
	FramesDrawn int64
}

// Recorder composites a TileSource into a WebM recording. Start and Stop
// may be called from any goroutine; one recording runs at a time.
type Recorder struct {
	src  TileSource
	opts Options

	mu    sync.Mutex
	state State
	cur   *session
}

// session is one Start..Stop run.
type session struct {
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	blob []byte
	err  error

	// owned by the run goroutine
	canvas  *image.RGBA
	sink    *chunkSink
	video   webm.BlockWriteCloser
	audio   webm.BlockWriteCloser
	started time.Time
	cutAt   time.Time
	chunks  [][]byte
	mix     []int32
	pcm     []int16

	// audio clock: samples mixed since clock
	clock time.Time
	mixed int64
}

func New(src TileSource, opts Options) *Recorder {
	opts.defaults()
	return &Recorder{src: src, opts: opts}
}

// Start begins drawing frames.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cur != nil {
		return ErrAlreadyRecording
	}

	s := &session{
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		canvas: image.NewRGBA(image.Rect(0, 0, r.opts.Width, r.opts.Height)),
	}
	r.cur = s
	r.state = State{IsRecording: true, StartedAt: time.Now()}

	go r.run(s)
	return nil
}

// Stop flushes the final chunk and returns the whole recording. It blocks
// until the flush is done or ctx ends. Concurrent calls share one result.
func (r *Recorder) Stop(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	s := r.cur
	r.mu.Unlock()
	if s == nil {
		return nil, ErrNotRecording
	}

	s.stopOnce.Do(func() { close(s.stop) })
	select {
	case <-s.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	r.mu.Lock()
	if r.cur == s {
		r.cur = nil
		r.state.IsRecording = false
	}
	r.mu.Unlock()

	return s.blob, s.err
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Recorder) run(s *session) {
	defer close(s.done)

	ticker := time.NewTicker(time.Second / time.Duration(r.opts.FrameRate))
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			s.blob, s.err = r.finish(s)
			return
		case now := <-ticker.C:
			if err := r.tick(s, now); err != nil {
				r.opts.Logger.Printf("[recorder] frame dropped: %v", err)
			}
		}
	}
}

func (r *Recorder) tick(s *session, now time.Time) error {
	tiles := r.src.Tiles()
	if len(tiles) == 0 {
		return nil
	}

	drew := drawTiles(s.canvas, tiles)
	pcm := s.mixAudio(tiles, s.audioSamples(now, time.Second/time.Duration(r.opts.FrameRate)))

	if r.opts.OnFrame != nil {
		names := make([]string, len(tiles))
		for i, t := range tiles {
			names[i] = t.Name
		}
		r.opts.OnFrame(s.canvas, names)
	}

	if s.sink == nil {
		if !drew {
			return nil
		}
		if err := r.startMuxer(s, now); err != nil {
			return err
		}
	}

	var frame bytes.Buffer
	if err := jpeg.Encode(&frame, s.canvas, &jpeg.Options{Quality: r.opts.JPEGQuality}); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	ts := now.Sub(s.started).Milliseconds()
	if _, err := s.video.Write(true, ts, frame.Bytes()); err != nil {
		return fmt.Errorf("write video: %w", err)
	}
	if _, err := s.audio.Write(true, ts, pcm); err != nil {
		return fmt.Errorf("write audio: %w", err)
	}

	r.mu.Lock()
	r.state.FramesDrawn++
	r.mu.Unlock()

	if now.Sub(s.cutAt) >= r.opts.ChunkInterval {
		r.cut(s, now)
	}
	return nil
}

// audioSamples is the number of samples the tick at now covers. It follows
// the wall clock, so a dropped tick makes the next block longer instead of
// losing audio. A stall longer than a second is cut to one second.
func (s *session) audioSamples(now time.Time, interval time.Duration) int {
	if s.clock.IsZero() {
		s.clock = now.Add(-interval)
	}
	due := int64(now.Sub(s.clock)) * mixRate / int64(time.Second)
	n := due - s.mixed
	s.mixed = due
	switch {
	case n < 0:
		return 0
	case n > mixRate:
		return mixRate
	}
	return int(n)
}

// mixAudio sums n samples of every tile's PCM with clipping and returns
// them as little-endian 16-bit samples.
func (s *session) mixAudio(tiles []Tile, n int) []byte {
	if cap(s.mix) < n {
		s.mix = make([]int32, n)
		s.pcm = make([]int16, n)
	}
	mix, pcm := s.mix[:n], s.pcm[:n]
	clear(mix)
	for _, t := range tiles {
		if t.Audio == nil {
			continue
		}
		read := t.Audio.ReadPCM(pcm)
		for i := 0; i < read; i++ {
			mix[i] += int32(pcm[i])
		}
	}

	out := make([]byte, 2*n)
	for i, v := range mix {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(clip(v)))
	}
	return out
}

func clip(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}

func (r *Recorder) startMuxer(s *session, now time.Time) error {
	sink := newChunkSink()
	writers, err := webm.NewSimpleBlockWriter(sink, []webm.TrackEntry{
		{
			Name:            "Video",
			TrackNumber:     1,
			TrackUID:        1,
			CodecID:         "V_MJPEG",
			TrackType:       1,
			DefaultDuration: uint64(time.Second / time.Duration(r.opts.FrameRate)),
			Video: &webm.Video{
				PixelWidth:  uint64(r.opts.Width),
				PixelHeight: uint64(r.opts.Height),
			},
		},
		{
			Name:        "Audio",
			TrackNumber: 2,
			TrackUID:    2,
			CodecID:     "A_PCM/INT/LIT",
			TrackType:   2,
			Audio: &webm.Audio{
				SamplingFrequency: mixRate,
				Channels:          1,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("start muxer: %w", err)
	}

	s.sink = sink
	s.video, s.audio = writers[0], writers[1]
	s.started = now
	s.cutAt = now
	return nil
}

// cut moves what the muxer wrote since the last cut into a new chunk.
func (r *Recorder) cut(s *session, now time.Time) {
	s.cutAt = now
	b := s.sink.take()
	if len(b) == 0 {
		return
	}
	s.chunks = append(s.chunks, b)

	r.mu.Lock()
	r.state.Chunks++
	r.state.Bytes += int64(len(b))
	r.mu.Unlock()
}

// finish closes the muxer, cuts the final chunk and joins all chunks.
func (r *Recorder) finish(s *session) ([]byte, error) {
	if s.sink == nil {
		return nil, ErrEmptyRecording
	}

	var errs []error
	if err := s.video.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.audio.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		r.opts.Logger.Printf("[recorder] closing muxer: %v", err)
	}
	// the muxer writes the tail from its own goroutine
	select {
	case <-s.sink.closed:
	case <-time.After(flushTimeout):
		r.opts.Logger.Printf("[recorder] muxer did not flush within %s", flushTimeout)
	}
	r.cut(s, time.Now())

	blob := bytes.Join(s.chunks, nil)
	if len(blob) == 0 {
		return nil, ErrEmptyRecording
	}
	return blob, nil
}

// chunkSink collects muxer output between cuts.
type chunkSink struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	closeOnce sync.Once
	closed    chan struct{}
}

func newChunkSink() *chunkSink {
	return &chunkSink{closed: make(chan struct{})}
}

func (c *chunkSink) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *chunkSink) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *chunkSink) take() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := bytes.Clone(c.buf.Bytes())
	c.buf.Reset()
	return b
}
