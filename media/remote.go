package media

import (
	"log"
	"strings"

	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
)

// maxLate is how many packets the sample builder waits for a gap to fill.
const maxLate = 128

// NewRemoteTrack wraps a track received from a peer and starts reading it.
// VP8 key frames are decoded for Frame and PCMU is decoded into the PCM
// tap; other codecs are drained without a tap.
//
// The reader runs until the peer connection closes. Stop only detaches the
// tap.
func NewRemoteTrack(tr *webrtc.TrackRemote, logger *log.Logger) *Track {
	if logger == nil {
		logger = log.Default()
	}

	kind := KindVideo
	if tr.Kind() == webrtc.RTPCodecTypeAudio {
		kind = KindAudio
	}
	t := newTrack(kind, SourceRemote, tr.StreamID(), nil)

	mime := tr.Codec().MimeType
	switch {
	case strings.EqualFold(mime, webrtc.MimeTypeVP8):
		go readVP8(t, tr, logger)
	case strings.EqualFold(mime, webrtc.MimeTypePCMU):
		go readPCMU(t, tr)
	default:
		logger.Printf("[media] no tap for remote %s codec %s", kind, mime)
		go drain(t, tr)
	}
	return t
}

func readVP8(t *Track, tr *webrtc.TrackRemote, logger *log.Logger) {
	defer t.Stop()

	sb := samplebuilder.New(maxLate, &codecs.VP8Packet{}, tr.Codec().ClockRate)
	for {
		pkt, _, err := tr.ReadRTP()
		if err != nil {
			return
		}
		if t.Stopped() {
			continue
		}

		sb.Push(pkt)
		for s := sb.Pop(); s != nil; s = sb.Pop() {
			if !isKeyFrame(s.Data) {
				continue
			}
			img, err := decodeKeyFrame(s.Data)
			if err != nil {
				logger.Printf("[media] remote key frame on %s: %v", t.label, err)
				continue
			}
			t.setFrame(img)
		}
	}
}

func readPCMU(t *Track, tr *webrtc.TrackRemote) {
	defer t.Stop()

	var (
		prev int16
		out  []int16
	)
	for {
		pkt, _, err := tr.ReadRTP()
		if err != nil {
			return
		}
		if t.Stopped() {
			continue
		}
		out, prev = decodeUlaw(pkt.Payload, prev, out)
		t.writePCM(out)
	}
}

func drain(t *Track, tr *webrtc.TrackRemote) {
	defer t.Stop()
	for {
		if _, _, err := tr.ReadRTP(); err != nil {
			return
		}
	}
}
