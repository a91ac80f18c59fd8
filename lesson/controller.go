// Package lesson runs one participant's side of a lesson session: it
// acquires media, joins signaling, keeps a connection to every other
// participant, records group lessons and tears everything down exactly
// once when the lesson ends.
package lesson

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/media"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/participants"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/peer"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg/i18n"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/realtime"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/recorder"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/signaling"
	"github.com/pion/webrtc/v4"
)

var (
	ErrNotActive      = errors.New("lesson: not active")
	ErrAlreadyStarted = errors.New("lesson: already started")
	ErrAlreadySharing = errors.New("lesson: screen already shared")
	ErrNotRecorder    = errors.New("lesson: only the teacher of a group lesson records")
)

type State string

const (
	StateInitializing State = "initializing"
	StateActive       State = "active"
	StateEnding       State = "ending"
	StateEnded        State = "ended"
)

const (
	noticeBuffer   = 64
	feedbackBuffer = 16
	sendTimeout    = 5 * time.Second
	profileTimeout = 5 * time.Second
)

// Uploader stores a finished recording. *clients.RecordingClient
// implements it.
type Uploader interface {
	Upload(ctx context.Context, groupID, title, date string, blob []byte) (*models.Recording, error)
}

// Assistant answers AI help requests. *clients.AssistClient implements it.
type Assistant interface {
	Feedback(ctx context.Context, level, topic string) (models.AIFeedback, error)
}

// Profiles resolves display names. On failure it returns a placeholder
// together with the error. *clients.ProfileClient implements it.
type Profiles interface {
	Get(ctx context.Context, userID string) (models.Profile, error)
}

// Config describes one lesson session and the services it talks to.
type Config struct {
	UserID   string
	Identity signaling.Identity
	LessonID string
	GroupID  string

	Devices     media.Devices
	Constraints media.Constraints // zero means media.DefaultConstraints

	// Join subscribes to the session topic. A failure aborts Start.
	Join func(ctx context.Context, topic string) (realtime.Channel, error)

	API        *webrtc.API
	ICEServers []webrtc.ICEServer

	// Optional collaborators.
	Recordings Uploader
	Assist     Assistant
	Profiles   Profiles

	// AutoRecordDelay is how long after joining a group lesson the
	// teacher starts recording. Default 1s.
	AutoRecordDelay time.Duration
	// MaxRecording stops and uploads a recording that runs this long.
	// Default 2h.
	MaxRecording  time.Duration
	UploadTimeout time.Duration // default 2m
	// RecordingsDir keeps a local copy of every recording when set.
	RecordingsDir string
	Recorder      recorder.Options

	Language string // "en" or "ko"
	Logger   *log.Logger
}

func (c *Config) defaults() {
	if c.Constraints == (media.Constraints{}) {
		c.Constraints = media.DefaultConstraints()
	}
	if c.AutoRecordDelay <= 0 {
		c.AutoRecordDelay = time.Second
	}
	if c.MaxRecording <= 0 {
		c.MaxRecording = 2 * time.Hour
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = 2 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.Recorder.Logger == nil {
		c.Recorder.Logger = c.Logger
	}
}

// Controller is safe for concurrent use.
type Controller struct {
	cfg    Config
	topic  string
	loc    *i18n.Localizer
	logger *log.Logger

	reg      *participants.Registry
	notices  chan Notice
	feedback chan models.AIFeedback

	mu            sync.Mutex
	state         State
	started       bool
	local         *media.Stream
	camera        *media.Track
	mic           *media.Track
	screen        *media.Stream
	ch            *signaling.Channel
	mgr           *peer.Manager
	rec           *recorder.Recorder
	recording     bool
	autoRecord    *time.Timer
	maxRecord     *time.Timer
	runCancel     context.CancelFunc
	runDone       chan struct{}
	stopAllCancel func()

	endOnce sync.Once
	endDone chan struct{}
	result  *models.Recording
	endErr  error
}

// New validates cfg. Nothing is acquired until Start.
func New(cfg Config) (*Controller, error) {
	cfg.defaults()
	if cfg.UserID == "" {
		return nil, fmt.Errorf("lesson: user id is required")
	}
	if cfg.Devices == nil || cfg.Join == nil || cfg.API == nil {
		return nil, fmt.Errorf("lesson: devices, join and api are required")
	}
	topic, err := signaling.ChannelName(cfg.LessonID, cfg.GroupID)
	if err != nil {
		return nil, fmt.Errorf("lesson: %w", err)
	}
	if err := i18n.LoadEmbedded(); err != nil {
		cfg.Logger.Printf("[lesson] translations unavailable: %v", err)
	}

	return &Controller{
		cfg:      cfg,
		topic:    topic,
		loc:      i18n.NewLocalizer(cfg.Language),
		logger:   cfg.Logger,
		reg:      participants.New(),
		notices:  make(chan Notice, noticeBuffer),
		feedback: make(chan models.AIFeedback, feedbackBuffer),
		state:    StateInitializing,
		endDone:  make(chan struct{}),
	}, nil
}

func (c *Controller) Topic() string { return c.topic }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Participants is the registry of remote participants. Subscribe to it
// for view updates.
func (c *Controller) Participants() *participants.Registry { return c.reg }

// Notices delivers user-facing messages. Notices are dropped when nobody
// reads them.
func (c *Controller) Notices() <-chan Notice { return c.notices }

// Feedback delivers AI feedback broadcast to the room, including the
// responses to this participant's own requests.
func (c *Controller) Feedback() <-chan models.AIFeedback { return c.feedback }

// Done is closed once cleanup has finished.
func (c *Controller) Done() <-chan struct{} { return c.endDone }

// LocalStream is the camera and microphone stream, nil before Start.
func (c *Controller) LocalStream() *media.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

// Start brings the session to active. Media or signaling failures abort
// it and release whatever was acquired. Cancelling ctx after Start
// returns ends the lesson.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	c.resolveSelf(ctx)

	local, err := c.cfg.Devices.UserMedia(ctx, c.cfg.Constraints)
	if err != nil {
		key := "lesson.connectionError"
		if errors.Is(err, media.ErrPermissionDenied) {
			key = "lesson.mediaDenied"
		}
		c.notify(NoticeError, key, nil)
		c.abort()
		return fmt.Errorf("acquire media: %w", err)
	}

	rt, err := c.cfg.Join(ctx, c.topic)
	if err != nil {
		local.Stop()
		c.notify(NoticeError, "lesson.connectionError", nil)
		c.abort()
		return fmt.Errorf("join signaling: %w", err)
	}

	var audio, video *media.Track
	if a := local.AudioTracks(); len(a) > 0 {
		audio = a[0]
	}
	if v := local.VideoTracks(); len(v) > 0 {
		video = v[0]
	}

	ch := signaling.NewChannel(rt, c.cfg.UserID, c.logger)
	mgr := peer.NewManager(peer.Config{
		Self:          c.cfg.UserID,
		Identity:      c.cfg.Identity,
		API:           c.cfg.API,
		ICEServers:    c.cfg.ICEServers,
		Signaler:      ch,
		Streams:       c.reg,
		Audio:         audio,
		Video:         video,
		OnStateChange: c.peerStateChanged,
		Logger:        c.logger,
	})

	runCtx, runCancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})

	c.mu.Lock()
	if c.state != StateInitializing {
		// End ran while media and signaling were being acquired
		c.mu.Unlock()
		mgr.Close()
		ch.Close()
		local.Stop()
		runCancel()
		return ErrNotActive
	}
	c.local, c.mic, c.camera = local, audio, video
	c.ch, c.mgr = ch, mgr
	c.runCancel, c.runDone = runCancel, runDone
	c.mu.Unlock()

	go func() {
		defer close(runDone)
		if err := ch.Run(runCtx, c.route); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Printf("[lesson] signaling stopped: %v", err)
		}
	}()

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	err = ch.Send(sendCtx, signaling.Join{From: c.cfg.UserID, Identity: c.cfg.Identity})
	cancel()
	if err != nil {
		c.notify(NoticeError, "lesson.connectionError", nil)
		c.endOnce.Do(func() {
			c.cleanup()
			close(c.endDone)
		})
		return fmt.Errorf("announce presence: %w", err)
	}

	c.mu.Lock()
	if c.state != StateInitializing {
		c.mu.Unlock()
		return ErrNotActive
	}
	c.state = StateActive
	if c.canRecord() {
		c.rec = recorder.New(recorder.TileFunc(c.tiles), c.cfg.Recorder)
		c.autoRecord = time.AfterFunc(c.cfg.AutoRecordDelay, c.autoStartRecording)
	}
	c.stopAllCancel = media.OnStopAll(func() { go c.End(context.Background()) })
	c.mu.Unlock()

	c.logger.Printf("[lesson] %s joined %s as %s", c.cfg.UserID, c.topic, c.cfg.Identity.Role)

	go func() {
		select {
		case <-ctx.Done():
			c.End(context.Background())
		case <-c.endDone:
		}
	}()
	return nil
}

// resolveSelf fills in a missing display name from the profile service.
func (c *Controller) resolveSelf(ctx context.Context) {
	if c.cfg.Identity.DisplayName != "" || c.cfg.Profiles == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, profileTimeout)
	defer cancel()

	p, err := c.cfg.Profiles.Get(ctx, c.cfg.UserID)
	if err != nil {
		c.logger.Printf("[lesson] own profile: %v", err)
	}
	c.cfg.Identity.DisplayName = p.DisplayName
	if c.cfg.Identity.Role == "" {
		c.cfg.Identity.Role = p.Role
	}
	if c.cfg.Identity.ProfilePictureURL == "" {
		c.cfg.Identity.ProfilePictureURL = p.ProfilePictureURL
	}
}

// abort marks a failed Start as ended so End returns at once.
func (c *Controller) abort() {
	c.mu.Lock()
	c.state = StateEnded
	c.mu.Unlock()
	c.endOnce.Do(func() { close(c.endDone) })
}

// canRecord reports whether this participant records the session: the
// teacher of a group lesson.
func (c *Controller) canRecord() bool {
	return c.cfg.Identity.Role == models.RoleTeacher && models.IsGroupTopic(c.topic)
}

// route handles one accepted message on the signaling goroutine.
func (c *Controller) route(msg signaling.Message) {
	ctx := context.Background()
	mgr := c.manager()
	if mgr == nil {
		return
	}

	var err error
	switch m := msg.(type) {
	case signaling.Join:
		c.register(m.From, m.Identity)
		err = mgr.HandleJoin(ctx, m)
	case signaling.Offer:
		c.register(m.From, m.Identity)
		err = mgr.HandleOffer(ctx, m)
	case signaling.Answer:
		err = mgr.HandleAnswer(ctx, m)
	case signaling.ICECandidate:
		err = mgr.HandleCandidate(ctx, m)
	case signaling.Renegotiate:
		err = mgr.HandleRenegotiate(ctx, m)
	case signaling.Leave:
		err = mgr.HandleLeave(ctx, m.From)
		if p, ok := c.reg.Remove(m.From); ok {
			c.notify(NoticeInfo, "lesson.participantLeft", map[string]string{"name": p.DisplayName})
		}
	case signaling.ScreenShareStarted:
		if p, ok := c.reg.Get(m.From); ok {
			c.notify(NoticeInfo, "lesson.participantSharing", map[string]string{"name": p.DisplayName})
		}
	case signaling.ScreenShareStopped:
		// the new video arrives through renegotiation
	case signaling.AIFeedback:
		select {
		case c.feedback <- m.Feedback:
		default:
			c.logger.Printf("[lesson] dropping AI feedback from %s: nobody is reading", m.From)
		}
	}

	switch {
	case err == nil:
	case errors.Is(err, peer.ErrNoConnection):
		c.logger.Printf("[lesson] dropping %s from %s: %v", msg.Type(), msg.Sender(), err)
	case errors.Is(err, peer.ErrClosed):
	default:
		c.logger.Printf("[lesson] handling %s from %s: %v", msg.Type(), msg.Sender(), err)
	}
}

// register adds or refreshes a participant from the identity it
// announced. A name it did not announce is looked up in the background.
func (c *Controller) register(userID string, id signaling.Identity) {
	name := id.DisplayName
	if name == "" {
		name = c.loc.T("lesson.unknownParticipant")
	}
	added := c.reg.Add(participants.Participant{
		UserID:            userID,
		DisplayName:       name,
		Role:              id.Role,
		ProfilePictureURL: id.ProfilePictureURL,
	})
	if !added {
		return
	}

	c.notify(NoticeInfo, "lesson.participantJoined", map[string]string{"name": name})
	if id.DisplayName == "" && c.cfg.Profiles != nil {
		go c.resolveName(userID)
	}
}

func (c *Controller) resolveName(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), profileTimeout)
	defer cancel()

	p, err := c.cfg.Profiles.Get(ctx, userID)
	if err != nil {
		c.logger.Printf("[lesson] profile of %s: %v", userID, err)
		return
	}
	err = c.reg.Update(userID, func(pt *participants.Participant) {
		pt.DisplayName = p.DisplayName
		if pt.ProfilePictureURL == "" {
			pt.ProfilePictureURL = p.ProfilePictureURL
		}
	})
	if err != nil && !errors.Is(err, participants.ErrUnknownParticipant) {
		c.logger.Printf("[lesson] updating %s: %v", userID, err)
	}
}

// peerStateChanged runs on the peer manager goroutine. A connection that
// closes without a leave keeps the participant listed without media.
func (c *Controller) peerStateChanged(userID string, s peer.State) {
	c.logger.Printf("[lesson] connection with %s: %s", userID, s)
	if s != peer.StateClosed {
		return
	}
	err := c.reg.Update(userID, func(p *participants.Participant) { p.Stream = nil })
	if err != nil && !errors.Is(err, participants.ErrUnknownParticipant) {
		c.logger.Printf("[lesson] clearing stream of %s: %v", userID, err)
	}
}

func (c *Controller) manager() *peer.Manager {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mgr
}

// tiles is the recorder's view of the room: this participant first, then
// everyone else in join order.
func (c *Controller) tiles() []recorder.Tile {
	c.mu.Lock()
	self := recorder.Tile{Name: c.cfg.Identity.DisplayName}
	if v := c.outboundVideoLocked(); v != nil {
		self.Video = v
	}
	if c.mic != nil {
		self.Audio = c.mic
	}
	c.mu.Unlock()

	out := []recorder.Tile{self}
	for _, p := range c.reg.Snapshot() {
		t := recorder.Tile{Name: p.DisplayName}
		if p.Stream != nil {
			if v := p.Stream.VideoTracks(); len(v) > 0 {
				t.Video = v[0]
			}
			if a := p.Stream.AudioTracks(); len(a) > 0 {
				t.Audio = a[0]
			}
		}
		out = append(out, t)
	}
	return out
}

func (c *Controller) outboundVideoLocked() *media.Track {
	if c.screen != nil {
		if v := c.screen.VideoTracks(); len(v) > 0 {
			return v[0]
		}
	}
	return c.camera
}

func (c *Controller) send(msg signaling.Message) error {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch == nil {
		return ErrNotActive
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return ch.Send(ctx, msg)
}
