package media

import (
	"errors"
	"io"
	"log"
	"time"

	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/zaf/g711"
)

const (
	audioFrame    = 20 * time.Millisecond
	samplesPerPkt = SampleRate / int(time.Second/audioFrame)
	// previewEvery bounds how often key frames are decoded for Frame.
	previewEvery  = 200 * time.Millisecond
	// ulawSilence is PCMU for a zero sample.
	ulawSilence   = 0xFF
)

// frameSource yields encoded VP8 frames. io.EOF ends the track.
type frameSource interface {
	next() ([]byte, error)
	interval() time.Duration
	close() error
}

// pcmSource fills buf with 48 kHz mono samples.
type pcmSource interface {
	next(buf []int16) error
	close() error
}

// runVideo paces src onto t until t stops or src runs out.
func runVideo(t *Track, src frameSource, logger *log.Logger) {
	defer src.close()

	every := src.interval()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var lastPreview time.Time
	for {
		select {
		case <-t.ended:
			return
		case <-ticker.C:
		}

		frame, err := src.next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Printf("[media] %s track %s: %v", t.source, t.id, err)
			}
			t.Stop()
			return
		}

		if isKeyFrame(frame) && time.Since(lastPreview) >= previewEvery {
			if img, err := decodeKeyFrame(frame); err == nil {
				t.setFrame(img)
				lastPreview = time.Now()
			}
		}

		if !t.Enabled() {
			continue
		}
		if err := t.local.WriteSample(pionmedia.Sample{Data: frame, Duration: every}); err != nil {
			logger.Printf("[media] write %s sample: %v", t.source, err)
		}
	}
}

// runAudio sends src as PCMU in 20 ms packets and feeds the 48 kHz tap.
func runAudio(t *Track, src pcmSource, logger *log.Logger) {
	defer src.close()

	ticker := time.NewTicker(audioFrame)
	defer ticker.Stop()

	pcm := make([]int16, samplesPerPkt)
	for {
		select {
		case <-t.ended:
			return
		case <-ticker.C:
		}

		if err := src.next(pcm); err != nil {
			logger.Printf("[media] %s track %s: %v", t.source, t.id, err)
			t.Stop()
			return
		}

		enabled := t.Enabled()
		if enabled {
			t.writePCM(pcm)
		}
		if err := t.local.WriteSample(pionmedia.Sample{Data: encodeUlaw(pcm, enabled), Duration: audioFrame}); err != nil {
			logger.Printf("[media] write audio sample: %v", err)
		}
	}
}

// encodeUlaw box-filters 48 kHz down to 8 kHz and encodes PCMU. Muted
// audio is all silence.
func encodeUlaw(pcm []int16, enabled bool) []byte {
	out := make([]byte, len(pcm)/upsample)
	for i := range out {
		if !enabled {
			out[i] = ulawSilence
			continue
		}
		var sum int
		for _, s := range pcm[i*upsample : (i+1)*upsample] {
			sum += int(s)
		}
		out[i] = g711.EncodeUlawFrame(int16(sum / upsample))
	}
	return out
}

// decodeUlaw decodes PCMU and upsamples to 48 kHz by linear interpolation
// from prev, the last sample of the previous packet. It returns the new
// last sample.
func decodeUlaw(payload []byte, prev int16, out []int16) ([]int16, int16) {
	out = out[:0]
	for _, b := range payload {
		cur := g711.DecodeUlawFrame(b)
		for k := 1; k <= upsample; k++ {
			out = append(out, int16(int(prev)+(int(cur)-int(prev))*k/upsample))
		}
		prev = cur
	}
	return out, prev
}
