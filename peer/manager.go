// Package peer keeps one WebRTC connection per remote participant and
// drives the offer/answer/candidate exchange over signaling.
//
// Manager is an actor: a single goroutine owns every connection and all
// negotiation state. Public methods and pion callbacks post closures to
// its mailbox, so no connection state is ever touched concurrently.
//
// Either side may send the first offer of a pair. After that only the
// impolite side (the larger user id) offers; the polite side asks it for
// an offer with signaling.Renegotiate. Offers therefore never collide on
// an established connection, which pion could not roll back.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/media"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/signaling"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

var (
	// ErrNoConnection means a message referred to a peer without a
	// connection. The message is stale or out of protocol.
	ErrNoConnection = errors.New("peer: no connection")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("peer: manager closed")
)

// State is the lifecycle of one remote participant's connection.
type State string

const (
	StateNoConnection State = "no-connection"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateClosed       State = "closed"
)

const sendTimeout = 10 * time.Second

// Signaler sends a message to the session. *signaling.Channel implements
// it.
type Signaler interface {
	Send(ctx context.Context, msg signaling.Message) error
}

// StreamAttacher binds a received stream to a known participant.
// *participants.Registry implements it.
type StreamAttacher interface {
	AttachStream(userID string, s *media.Stream) error
}

// Config wires a Manager to the local participant and its collaborators.
type Config struct {
	Self string
	// Identity is sent with every offer.
	Identity signaling.Identity

	API        *webrtc.API
	ICEServers []webrtc.ICEServer

	Signaler Signaler
	Streams  StreamAttacher

	// Audio and Video are the local outbound tracks attached to every new
	// connection.
	Audio *media.Track
	Video *media.Track

	// OnStateChange runs on the manager goroutine. It must not call back
	// into the Manager.
	OnStateChange func(userID string, s State)

	Logger *log.Logger
}

type peerConn struct {
	id     string
	pc     *webrtc.PeerConnection
	polite bool
	state  State

	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender

	// negotiationID numbers the offers this side sent.
	negotiationID        uint64
	awaitingAnswer       bool
	pendingRenegotiation bool
	pendingCandidates    []webrtc.ICECandidateInit

	remote *media.Stream
}

// Manager owns one connection per remote participant. It is safe for
// concurrent use.
type Manager struct {
	cfg    Config
	logger *log.Logger

	mu     sync.Mutex
	queue  []func()
	notify chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	loopDone  chan struct{}

	keyFrameRequests atomic.Uint64

	// owned by the loop goroutine
	peers map[string]*peerConn
	audio *media.Track
	video *media.Track
}

// NewManager starts the manager goroutine.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		logger:   logger,
		notify:   make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		loopDone: make(chan struct{}),
		peers:    make(map[string]*peerConn),
		audio:    cfg.Audio,
		video:    cfg.Video,
	}
	go m.loop()
	return m
}

func (m *Manager) loop() {
	defer close(m.loopDone)
	for {
		m.mu.Lock()
		batch := m.queue
		m.queue = nil
		m.mu.Unlock()

		for _, fn := range batch {
			fn()
		}

		select {
		case <-m.notify:
		case <-m.ctx.Done():
			m.closeAll()
			return
		}
	}
}

// post queues fn for the loop. It never blocks.
func (m *Manager) post(fn func()) bool {
	if m.ctx.Err() != nil {
		return false
	}
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

// do runs fn on the loop and waits for its result.
func (m *Manager) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	if !m.post(func() { errc <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.loopDone:
		return ErrClosed
	}
}

// Close tears down every connection and stops the remote streams.
func (m *Manager) Close() {
	m.closeOnce.Do(m.cancel)
	<-m.loopDone
}

// HandleJoin offers a connection to a newcomer. The newcomer itself stays
// passive until offered. A join from someone already connected means they
// came back without leaving, so the old connection is replaced.
func (m *Manager) HandleJoin(ctx context.Context, msg signaling.Join) error {
	return m.do(ctx, func() error {
		if p, ok := m.peers[msg.From]; ok {
			if p.state != StateClosed {
				m.logger.Printf("[peer] %s joined again, replacing its connection", msg.From)
			}
			m.dropPeer(p)
			m.setState(p, StateClosed)
		}
		p, err := m.newPeer(msg.From, 0)
		if err != nil {
			return err
		}
		return m.negotiate(p)
	})
}

// HandleOffer answers an offer, creating the connection if needed.
//
// Glare only happens on a pair's first negotiation, when both sides handle
// each other's join. The side with the smaller user id is polite: it
// rebuilds its unanswered connection and answers. The impolite side
// ignores the colliding offer and waits for its answer.
func (m *Manager) HandleOffer(ctx context.Context, msg signaling.Offer) error {
	return m.do(ctx, func() error {
		p, ok := m.peers[msg.From]
		if ok && p.state == StateClosed {
			m.dropPeer(p)
			ok = false
		}
		if !ok {
			var err error
			if p, err = m.newPeer(msg.From, 0); err != nil {
				return err
			}
		}

		if p.awaitingAnswer || p.pc.SignalingState() != webrtc.SignalingStateStable {
			if !p.polite {
				m.logger.Printf("[peer] ignoring colliding offer %d from %s", msg.NegotiationID, msg.From)
				return nil
			}
			var err error
			if p, err = m.abandonOffer(p); err != nil {
				return err
			}
		}

		if err := p.pc.SetRemoteDescription(msg.SDP); err != nil {
			return fmt.Errorf("set offer from %s: %w", msg.From, err)
		}
		m.flushCandidates(p)

		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer for %s: %w", msg.From, err)
		}
		if err := p.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set answer for %s: %w", msg.From, err)
		}
		m.setState(p, StateConnecting)

		if err := m.send(signaling.Answer{
			From:          m.cfg.Self,
			To:            msg.From,
			NegotiationID: msg.NegotiationID,
			SDP:           answer,
		}); err != nil {
			return err
		}

		if p.pendingRenegotiation {
			p.pendingRenegotiation = false
			return m.negotiate(p)
		}
		return nil
	})
}

// abandonOffer drops the polite side's unanswered first offer by rebuilding
// the connection. An established connection is never rebuilt.
func (m *Manager) abandonOffer(p *peerConn) (*peerConn, error) {
	if established(p) {
		return nil, fmt.Errorf("offer collision with %s on an established connection", p.id)
	}
	m.logger.Printf("[peer] offer collision with %s before first answer, rebuilding connection", p.id)
	return m.rebuild(p)
}

// rebuild replaces p's connection with a fresh one, keeping its
// negotiation counter.
func (m *Manager) rebuild(p *peerConn) (*peerConn, error) {
	m.dropPeer(p)
	return m.newPeer(p.id, p.negotiationID)
}

// HandleAnswer applies an answer to the offer it names. Answers to any
// other offer are stale and dropped.
func (m *Manager) HandleAnswer(ctx context.Context, msg signaling.Answer) error {
	return m.do(ctx, func() error {
		p, ok := m.peers[msg.From]
		if !ok || p.state == StateClosed {
			return fmt.Errorf("%w: answer from %s", ErrNoConnection, msg.From)
		}
		if !p.awaitingAnswer || msg.NegotiationID != p.negotiationID {
			m.logger.Printf("[peer] dropping stale answer %d from %s (outstanding %d, awaiting %v)",
				msg.NegotiationID, msg.From, p.negotiationID, p.awaitingAnswer)
			return nil
		}

		if err := p.pc.SetRemoteDescription(msg.SDP); err != nil {
			return fmt.Errorf("set answer from %s: %w", msg.From, err)
		}
		p.awaitingAnswer = false
		m.flushCandidates(p)

		if p.pendingRenegotiation {
			p.pendingRenegotiation = false
			return m.negotiate(p)
		}
		return nil
	})
}

// HandleRenegotiate sends the offer the polite side asked for, or queues
// it behind the offer already outstanding.
func (m *Manager) HandleRenegotiate(ctx context.Context, msg signaling.Renegotiate) error {
	return m.do(ctx, func() error {
		p, ok := m.peers[msg.From]
		if !ok || p.state == StateClosed {
			return fmt.Errorf("%w: renegotiation request from %s", ErrNoConnection, msg.From)
		}
		if !mayOffer(p) {
			m.logger.Printf("[peer] ignoring renegotiation request from %s: it offers on this connection", msg.From)
			return nil
		}
		return m.negotiate(p)
	})
}

// HandleCandidate adds a remote candidate. Candidates that arrive before
// the remote description are held until it is set. A candidate that fails
// is logged; ICE carries on with the rest.
func (m *Manager) HandleCandidate(ctx context.Context, msg signaling.ICECandidate) error {
	return m.do(ctx, func() error {
		p, ok := m.peers[msg.From]
		if !ok || p.state == StateClosed {
			return fmt.Errorf("%w: candidate from %s", ErrNoConnection, msg.From)
		}
		if p.pc.RemoteDescription() == nil {
			p.pendingCandidates = append(p.pendingCandidates, msg.Candidate)
			return nil
		}
		if err := p.pc.AddICECandidate(msg.Candidate); err != nil {
			m.logger.Printf("[peer] candidate from %s: %v", msg.From, err)
		}
		return nil
	})
}

// HandleLeave closes the participant's connection and stops its stream.
func (m *Manager) HandleLeave(ctx context.Context, userID string) error {
	return m.do(ctx, func() error {
		if p, ok := m.peers[userID]; ok {
			m.dropPeer(p)
			m.setState(p, StateClosed)
		}
		return nil
	})
}

// Renegotiate sends a fresh offer to userID, or queues one behind the
// offer already outstanding. On the polite side of an established
// connection it asks userID for the offer instead.
func (m *Manager) Renegotiate(ctx context.Context, userID string) error {
	return m.do(ctx, func() error {
		p, ok := m.peers[userID]
		if !ok || p.state == StateClosed {
			return fmt.Errorf("%w: %s", ErrNoConnection, userID)
		}
		return m.negotiate(p)
	})
}

// ReplaceVideoTrack switches the outbound video of every connection to t
// without tearing any of them down, then renegotiates each.
func (m *Manager) ReplaceVideoTrack(ctx context.Context, t *media.Track) error {
	return m.do(ctx, func() error {
		m.video = t

		var errs []error
		for _, p := range m.sortedPeers() {
			if p.state == StateClosed {
				continue
			}
			if err := m.setVideo(p, t); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", p.id, err))
				continue
			}
			if err := m.negotiate(p); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", p.id, err))
			}
		}
		return errors.Join(errs...)
	})
}

func (m *Manager) setVideo(p *peerConn, t *media.Track) error {
	if p.videoSender == nil {
		sender, err := p.pc.AddTrack(t.Local())
		if err != nil {
			return err
		}
		p.videoSender = sender
		go m.readRTCP(sender)
		return nil
	}
	return p.videoSender.ReplaceTrack(t.Local())
}

// OutboundVideo returns, per connected participant, the id of the local
// track its video sender is sending.
func (m *Manager) OutboundVideo(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	err := m.do(ctx, func() error {
		for id, p := range m.peers {
			if p.videoSender == nil || p.state == StateClosed {
				continue
			}
			if tr := p.videoSender.Track(); tr != nil {
				out[id] = tr.ID()
			}
		}
		return nil
	})
	return out, err
}

// States returns every known connection's state.
func (m *Manager) States(ctx context.Context) (map[string]State, error) {
	out := make(map[string]State)
	err := m.do(ctx, func() error {
		for id, p := range m.peers {
			out[id] = p.state
		}
		return nil
	})
	return out, err
}

// KeyFrameRequests counts the PLIs received for local video.
func (m *Manager) KeyFrameRequests() uint64 { return m.keyFrameRequests.Load() }

func (m *Manager) sortedPeers() []*peerConn {
	ids := make([]string, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]*peerConn, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.peers[id])
	}
	return out
}

// newPeer creates the connection for id with the local tracks attached.
func (m *Manager) newPeer(id string, negotiationID uint64) (*peerConn, error) {
	pc, err := m.cfg.API.NewPeerConnection(webrtc.Configuration{ICEServers: m.cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection for %s: %w", id, err)
	}

	p := &peerConn{
		id:            id,
		pc:            pc,
		polite:        m.cfg.Self < id,
		state:         StateNoConnection,
		negotiationID: negotiationID,
		remote:        media.NewStream(),
	}

	if m.audio != nil {
		if p.audioSender, err = pc.AddTrack(m.audio.Local()); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add audio for %s: %w", id, err)
		}
		go m.readRTCP(p.audioSender)
	}
	if m.video != nil {
		if p.videoSender, err = pc.AddTrack(m.video.Local()); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add video for %s: %w", id, err)
		}
		go m.readRTCP(p.videoSender)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		m.post(func() {
			if m.peers[id] != p {
				return
			}
			if err := m.send(signaling.ICECandidate{From: m.cfg.Self, To: id, Candidate: init}); err != nil {
				m.logger.Printf("[peer] send candidate to %s: %v", id, err)
			}
		})
	})

	pc.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		track := media.NewRemoteTrack(tr, m.logger)
		if !m.post(func() { m.attachRemote(p, track) }) {
			track.Stop()
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		m.post(func() { m.connectionStateChanged(p, s) })
	})

	m.peers[id] = p
	return p, nil
}

func (m *Manager) attachRemote(p *peerConn, track *media.Track) {
	if m.peers[p.id] != p {
		track.Stop()
		return
	}
	p.remote.AddTrack(track)
	if err := m.cfg.Streams.AttachStream(p.id, p.remote); err != nil {
		m.logger.Printf("[peer] dropping %s stream of unknown participant %s: %v", track.Kind(), p.id, err)
		p.remote.Stop()
	}
}

func (m *Manager) connectionStateChanged(p *peerConn, s webrtc.PeerConnectionState) {
	if m.peers[p.id] != p {
		return
	}
	switch s {
	case webrtc.PeerConnectionStateConnected:
		m.setState(p, StateConnected)
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		m.logger.Printf("[peer] connection with %s %s", p.id, s)
		m.dropPeer(p)
		m.setState(p, StateClosed)
	default:
		if p.state == StateConnected && s == webrtc.PeerConnectionStateDisconnected {
			m.setState(p, StateConnecting)
		}
	}
}

func (m *Manager) setState(p *peerConn, s State) {
	if p.state == s {
		return
	}
	p.state = s
	if m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(p.id, s)
	}
}

// established reports whether p completed at least one negotiation.
func established(p *peerConn) bool {
	return p.pc.CurrentRemoteDescription() != nil
}

// mayOffer reports whether this side sends offers on p.
func mayOffer(p *peerConn) bool {
	return !p.polite || !established(p)
}

// negotiate sends an offer, or marks one pending while another is
// outstanding. The polite side of an established connection requests the
// offer from its peer.
func (m *Manager) negotiate(p *peerConn) error {
	if p.awaitingAnswer || p.pc.SignalingState() != webrtc.SignalingStateStable {
		p.pendingRenegotiation = true
		return nil
	}
	if !mayOffer(p) {
		return m.send(signaling.Renegotiate{From: m.cfg.Self, To: p.id})
	}

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer for %s: %w", p.id, err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set offer for %s: %w", p.id, err)
	}
	p.negotiationID++
	p.awaitingAnswer = true
	if p.state == StateNoConnection {
		m.setState(p, StateConnecting)
	}

	return m.send(signaling.Offer{
		From:          m.cfg.Self,
		To:            p.id,
		NegotiationID: p.negotiationID,
		SDP:           offer,
		Identity:      m.cfg.Identity,
	})
}

func (m *Manager) flushCandidates(p *peerConn) {
	for _, c := range p.pendingCandidates {
		if err := p.pc.AddICECandidate(c); err != nil {
			m.logger.Printf("[peer] buffered candidate from %s: %v", p.id, err)
		}
	}
	p.pendingCandidates = nil
}

// dropPeer closes p's connection and stops its remote stream. p.state is
// left to the caller.
func (m *Manager) dropPeer(p *peerConn) {
	if m.peers[p.id] == p {
		delete(m.peers, p.id)
	}
	if err := p.pc.Close(); err != nil {
		m.logger.Printf("[peer] close connection with %s: %v", p.id, err)
	}
	p.remote.Stop()
}

func (m *Manager) closeAll() {
	for _, p := range m.peers {
		m.dropPeer(p)
		p.state = StateClosed
	}
}

func (m *Manager) send(msg signaling.Message) error {
	ctx, cancel := context.WithTimeout(m.ctx, sendTimeout)
	defer cancel()
	if err := m.cfg.Signaler.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type(), err)
	}
	return nil
}

// readRTCP drains a sender's RTCP so the interceptors keep running, and
// counts key frame requests.
func (m *Manager) readRTCP(sender *webrtc.RTPSender) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			if _, ok := pkt.(*rtcp.PictureLossIndication); ok {
				m.keyFrameRequests.Add(1)
			}
		}
	}
}
