package peer

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
)

// APIOptions tunes the pion API shared by every connection of a session.
type APIOptions struct {
	// PLIInterval is how often receivers ask for a key frame. Remote
	// pictures are decoded from key frames only. Default 2s.
	PLIInterval time.Duration
	// Loopback gathers 127.0.0.1 candidates, for peers on one host.
	Loopback bool
}

// NewAPI builds a pion API with the default codecs, the default
// interceptors and a periodic PLI generator.
func NewAPI(opts APIOptions) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	every := opts.PLIInterval
	if every <= 0 {
		every = 2 * time.Second
	}
	pli, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(every))
	if err != nil {
		return nil, fmt.Errorf("pli interceptor: %w", err)
	}
	ir.Add(pli)

	s := webrtc.SettingEngine{}
	if opts.Loopback {
		s.SetIncludeLoopbackCandidate(true)
		s.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(s),
	), nil
}
