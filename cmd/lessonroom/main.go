// Command lessonroom joins a lesson as a headless participant. It sends
// media from files (or a synthetic test pattern), connects to everyone
// else in the session, records group lessons when run as the teacher, and
// leaves cleanly on SIGINT, SIGTERM or after -duration.
//
//	lessonroom -group g1 -role teacher -fake-media -duration 10m
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/clients"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/config"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/lesson"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/media"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/participants"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/peer"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/realtime"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/recorder"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/settings"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/signaling"
	"github.com/pion/webrtc/v4"
)

const endTimeout = 3 * time.Minute

type options struct {
	lessonID   string
	groupID    string
	role       string
	fakeMedia  bool
	duration   time.Duration
	language   string
	shareAfter time.Duration
	aiLevel    string
	aiTopic    string
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	var opts options
	flag.StringVar(&opts.lessonID, "lesson", "", "individual lesson id")
	flag.StringVar(&opts.groupID, "group", "", "group id, for a group session")
	flag.StringVar(&opts.role, "role", "", "student or teacher (default: the profile's role)")
	flag.BoolVar(&opts.fakeMedia, "fake-media", false, "send a synthetic test pattern and tone")
	flag.DurationVar(&opts.duration, "duration", 0, "leave after this long (0 = until interrupted)")
	flag.StringVar(&opts.language, "lang", "", "set and remember the notice language (en, ko)")
	flag.DurationVar(&opts.shareAfter, "share-after", 0, "share the screen file after this long")
	flag.StringVar(&opts.aiLevel, "ai-level", "beginner", "learner level sent with -ai-topic")
	flag.StringVar(&opts.aiTopic, "ai-topic", "", "ask the AI assistant for help on this topic once joined")
	flag.Parse()

	if err := run(opts); err != nil {
		log.Fatalf("[lessonroom] %v", err)
	}
}

func run(opts options) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := settings.Load(cfg.SettingsPath)
	if err != nil {
		return err
	}
	cancelSettings := store.Subscribe(func(s settings.Settings) {
		log.Printf("[lessonroom] settings saved: language=%s dark_mode=%t", s.Language, s.DarkMode)
	})
	defer cancelSettings()
	if opts.language != "" {
		if err := store.Update(func(s *settings.Settings) { s.Language = opts.language }); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	profiles := clients.NewProfileClient(cfg.APIURL, cfg.AccessToken, nil)
	defer profiles.Close()

	me, err := profiles.Me(ctx)
	if err != nil {
		return err
	}
	role := me.Role
	if opts.role != "" {
		role = models.Role(opts.role)
	}

	session, err := clients.NewSessionClient(cfg.APIURL, cfg.AccessToken, nil).Token(ctx, opts.lessonID, opts.groupID)
	if err != nil {
		return err
	}

	api, err := peer.NewAPI(peer.APIOptions{})
	if err != nil {
		return err
	}

	var devices media.Devices = &media.FileDevices{
		Camera:     cfg.CameraFile,
		Microphone: cfg.MicrophoneFile,
		Screen:     cfg.ScreenFile,
	}
	if opts.fakeMedia {
		devices = &media.SyntheticDevices{}
	}

	lcfg := lesson.Config{
		UserID: me.UserID,
		Identity: signaling.Identity{
			DisplayName:       me.DisplayName,
			Role:              role,
			ProfilePictureURL: me.ProfilePictureURL,
		},
		LessonID: opts.lessonID,
		GroupID:  opts.groupID,
		Devices:  devices,
		Join: func(ctx context.Context, topic string) (realtime.Channel, error) {
			conn, err := realtime.Dial(ctx, realtime.DialOptions{
				URL:         cfg.RelayURL,
				AccessToken: cfg.AccessToken,
				Topic:       topic,
				RoomToken:   session.RoomToken,
				Self:        true,
			})
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
		API:             api,
		ICEServers:      iceServers(session.ICEServers),
		Recordings:      clients.NewRecordingClient(cfg.APIURL, cfg.AccessToken, nil),
		Profiles:        profiles,
		AutoRecordDelay: cfg.AutoRecordDelay,
		MaxRecording:    cfg.MaxRecording,
		RecordingsDir:   cfg.RecordingsDir,
		Language:        store.Get().Language,
	}
	if cfg.AssistURL != "" {
		lcfg.Assist = clients.NewAssistClient(cfg.AssistURL, cfg.AccessToken, nil)
	}

	ctrl, err := lesson.New(lcfg)
	if err != nil {
		return err
	}
	go report(ctrl)

	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	log.Printf("[lessonroom] joined %s as %s (%s)", ctrl.Topic(), me.DisplayName, role)

	if opts.aiTopic != "" {
		if err := ctrl.RequestAIHelp(ctx, opts.aiLevel, opts.aiTopic); err != nil {
			log.Printf("[lessonroom] AI help: %v", err)
		}
	}
	if opts.shareAfter > 0 {
		time.AfterFunc(opts.shareAfter, func() {
			if err := ctrl.StartScreenShare(ctx); err != nil {
				log.Printf("[lessonroom] screen share: %v", err)
			}
		})
	}

	select {
	case <-ctx.Done():
	case <-ctrl.Done():
	}

	endCtx, cancel := context.WithTimeout(context.Background(), endTimeout)
	defer cancel()
	rec, err := ctrl.End(endCtx)
	switch {
	case errors.Is(err, recorder.ErrEmptyRecording):
		return errors.New("the lesson ended with an empty recording; nothing was saved")
	case err != nil:
		return fmt.Errorf("ending lesson: %w", err)
	case rec != nil:
		log.Printf("[lessonroom] recording %s saved (%d bytes)", rec.ID, rec.FileSize)
	}
	return nil
}

// report logs notices, AI feedback and room changes until the lesson ends.
func report(ctrl *lesson.Controller) {
	cancel := ctrl.Participants().Subscribe(func(ps []participants.Participant) {
		log.Printf("[lessonroom] %d other participant(s) in the room", len(ps))
	})
	defer cancel()

	for {
		select {
		case n := <-ctrl.Notices():
			log.Printf("[lessonroom] %s: %s", n.Kind, n.Text)
		case fb := <-ctrl.Feedback():
			log.Printf("[lessonroom] AI %s: %s%s%s", fb.Type, fb.Tip, fb.GrammarCorrection, fb.SuggestedPhrase)
		case <-ctrl.Done():
			return
		}
	}
}

func iceServers(in []models.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(in))
	for _, s := range in {
		out = append(out, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}
