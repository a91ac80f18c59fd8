package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
)

// FileDevices captures from files: the camera is an IVF (VP8) file played
// in a loop, the microphone a 16-bit 48 kHz WAV file played in a loop, and
// the screen an IVF file played once. The screen track ends at EOF, like a
// user pressing "stop sharing".
type FileDevices struct {
	Camera     string
	Microphone string
	Screen     string

	// Logger defaults to log.Default().
	Logger *log.Logger
}

func (d *FileDevices) logger() *log.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log.Default()
}

// UserMedia opens the camera and microphone files.
func (d *FileDevices) UserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := uuid.NewString()

	cam, err := openIVF(d.Camera, true)
	if err != nil {
		return nil, fmt.Errorf("camera: %w", err)
	}
	mic, err := openWAV(d.Microphone, c.SampleRate)
	if err != nil {
		cam.close()
		return nil, fmt.Errorf("microphone: %w", err)
	}

	video, err := newLocalTrack(KindVideo, SourceCamera, d.Camera, streamID)
	if err != nil {
		cam.close()
		return nil, err
	}
	audio, err := newLocalTrack(KindAudio, SourceMicrophone, d.Microphone, streamID)
	if err != nil {
		video.Stop()
		cam.close()
		return nil, err
	}
	audio.SetEnabled(true)

	go runVideo(video, cam, d.logger())
	go runAudio(audio, mic, d.logger())

	return &Stream{id: streamID, tracks: []*Track{audio, video}}, nil
}

// DisplayMedia opens the screen file.
func (d *FileDevices) DisplayMedia(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	screen, err := openIVF(d.Screen, false)
	if err != nil {
		return nil, fmt.Errorf("screen: %w", err)
	}

	streamID := uuid.NewString()
	video, err := newLocalTrack(KindVideo, SourceScreen, d.Screen, streamID)
	if err != nil {
		screen.close()
		return nil, err
	}

	go runVideo(video, screen, d.logger())

	return &Stream{id: streamID, tracks: []*Track{video}}, nil
}

// openDevice maps file errors onto device errors.
func openDevice(path string) (*os.File, error) {
	if path == "" {
		return nil, ErrNoDevice
	}
	f, err := os.Open(path)
	switch {
	case err == nil:
		return f, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrNoDevice, path)
	default:
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
}

type ivfSource struct {
	f     *os.File
	r     *ivfreader.IVFReader
	loop  bool
	every time.Duration
}

func openIVF(path string, loop bool) (*ivfSource, error) {
	f, err := openDevice(path)
	if err != nil {
		return nil, err
	}

	r, header, err := ivfreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrPermissionDenied, path, err)
	}
	if header.FourCC != "VP80" {
		f.Close()
		return nil, fmt.Errorf("%w: %s is %s, want VP80", ErrOverconstrained, path, header.FourCC)
	}

	every := time.Second / 30
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		every = time.Second * time.Duration(header.TimebaseNumerator) / time.Duration(header.TimebaseDenominator)
	}

	return &ivfSource{f: f, r: r, loop: loop, every: every}, nil
}

func (s *ivfSource) next() ([]byte, error) {
	frame, _, err := s.r.ParseNextFrame()
	if errors.Is(err, io.EOF) && s.loop {
		if _, err := s.f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		if s.r, _, err = ivfreader.NewWith(s.f); err != nil {
			return nil, err
		}
		frame, _, err = s.r.ParseNextFrame()
	}
	return frame, err
}

func (s *ivfSource) interval() time.Duration { return s.every }

func (s *ivfSource) close() error { return s.f.Close() }

// loopSource plays a decoded clip forever.
type loopSource struct {
	samples []int16
	pos     int
}

func openWAV(path string, wantRate int) (*loopSource, error) {
	f, err := openDevice(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s is not a WAV file", ErrPermissionDenied, path)
	}
	if wantRate > 0 && int(dec.SampleRate) != wantRate {
		return nil, fmt.Errorf("%w: %s is %d Hz, want %d", ErrOverconstrained, path, dec.SampleRate, wantRate)
	}
	if dec.BitDepth != 16 {
		return nil, fmt.Errorf("%w: %s is %d-bit, want 16", ErrOverconstrained, path, dec.BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPermissionDenied, path, err)
	}

	chans := max(int(dec.NumChans), 1)
	samples := make([]int16, 0, len(buf.Data)/chans)
	for i := 0; i < len(buf.Data); i += chans {
		samples = append(samples, int16(buf.Data[i]))
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: %s has no samples", ErrPermissionDenied, path)
	}
	return &loopSource{samples: samples}, nil
}

func (s *loopSource) next(buf []int16) error {
	for i := range buf {
		buf[i] = s.samples[s.pos]
		s.pos = (s.pos + 1) % len(s.samples)
	}
	return nil
}

func (s *loopSource) close() error { return nil }
