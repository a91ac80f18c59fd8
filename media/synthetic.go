package media

import (
	"context"
	_ "embed"
	"io"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
)

// testPattern is a single 150x100 VP8 key frame.
//
//go:embed testpattern.vp8
var testPattern []byte

// SyntheticDevices produces a test pattern and a tone without touching
// any file or device. Used by -fake-media and tests.
type SyntheticDevices struct {
	// Err, when set, is returned by UserMedia and DisplayMedia.
	Err error
	// ToneHz is the microphone tone; 0 means 440.
	ToneHz float64
	// ScreenFrames ends the screen capture after that many frames; 0 runs
	// until stopped.
	ScreenFrames int

	Logger *log.Logger
}

func (d *SyntheticDevices) logger() *log.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log.Default()
}

func (d *SyntheticDevices) UserMedia(ctx context.Context, _ Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.Err != nil {
		return nil, d.Err
	}

	streamID := uuid.NewString()
	video, err := newLocalTrack(KindVideo, SourceCamera, "test pattern", streamID)
	if err != nil {
		return nil, err
	}
	audio, err := newLocalTrack(KindAudio, SourceMicrophone, "tone", streamID)
	if err != nil {
		video.Stop()
		return nil, err
	}
	audio.SetEnabled(true)

	hz := d.ToneHz
	if hz == 0 {
		hz = 440
	}

	go runVideo(video, &patternSource{}, d.logger())
	go runAudio(audio, &toneSource{step: 2 * math.Pi * hz / SampleRate}, d.logger())

	return &Stream{id: streamID, tracks: []*Track{audio, video}}, nil
}

func (d *SyntheticDevices) DisplayMedia(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.Err != nil {
		return nil, d.Err
	}

	streamID := uuid.NewString()
	video, err := newLocalTrack(KindVideo, SourceScreen, "test screen", streamID)
	if err != nil {
		return nil, err
	}

	go runVideo(video, &patternSource{limit: d.ScreenFrames}, d.logger())

	return &Stream{id: streamID, tracks: []*Track{video}}, nil
}

// patternSource repeats the test pattern key frame at 15 fps.
type patternSource struct {
	limit int
	sent  int
}

func (s *patternSource) next() ([]byte, error) {
	if s.limit > 0 && s.sent >= s.limit {
		return nil, io.EOF
	}
	s.sent++
	return testPattern, nil
}

func (s *patternSource) interval() time.Duration { return time.Second / 15 }

func (s *patternSource) close() error { return nil }

type toneSource struct {
	step  float64
	phase float64
}

func (s *toneSource) next(buf []int16) error {
	for i := range buf {
		buf[i] = int16(6000 * math.Sin(s.phase))
		s.phase += s.step
		if s.phase > 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
	}
	return nil
}

func (s *toneSource) close() error { return nil }
