package lesson

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/clients"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/media"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/peer"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/realtime"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/recorder"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/signaling"
)

type fakeUploader struct {
	mu    sync.Mutex
	blobs [][]byte
	err   error
}

func (u *fakeUploader) Upload(_ context.Context, groupID, title, date string, blob []byte) (*models.Recording, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return nil, u.err
	}
	u.blobs = append(u.blobs, blob)
	return &models.Recording{ID: "rec-1", GroupID: groupID, LessonDate: date, FileSize: int64(len(blob))}, nil
}

func (u *fakeUploader) uploads() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.blobs)
}

type fakeAssist struct {
	fb  models.AIFeedback
	err error
}

func (a fakeAssist) Feedback(context.Context, string, string) (models.AIFeedback, error) {
	return a.fb, a.err
}

// recordingDevices remembers the stream it handed out.
type recordingDevices struct {
	media.SyntheticDevices
	mu     sync.Mutex
	stream *media.Stream
}

func (d *recordingDevices) UserMedia(ctx context.Context, c media.Constraints) (*media.Stream, error) {
	s, err := d.SyntheticDevices.UserMedia(ctx, c)
	d.mu.Lock()
	d.stream = s
	d.mu.Unlock()
	return s, err
}

func newLesson(t *testing.T, broker *realtime.Broker, id, name string, role models.Role, groupID string, mutate func(*Config)) *Controller {
	t.Helper()

	api, err := peer.NewAPI(peer.APIOptions{Loopback: true, PLIInterval: 500 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	cfg := Config{
		UserID:   id,
		Identity: signaling.Identity{DisplayName: name, Role: role},
		LessonID: "lesson-1",
		GroupID:  groupID,
		Devices:  &media.SyntheticDevices{},
		Join: func(_ context.Context, topic string) (realtime.Channel, error) {
			return broker.Join(topic, id, true), nil
		},
		API:      api,
		Recorder: recorder.Options{Width: 320, Height: 180},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		c.End(ctx)
	})
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func waitNotice(t *testing.T, c *Controller, key string) Notice {
	t.Helper()
	timeout := time.After(15 * time.Second)
	for {
		select {
		case n := <-c.Notices():
			if n.Key == key {
				return n
			}
		case <-timeout:
			t.Fatalf("no %s notice", key)
		}
	}
}

func hasMedia(c *Controller, id string) bool {
	p, ok := c.Participants().Get(id)
	return ok && p.Stream != nil && len(p.Stream.VideoTracks()) == 1 && len(p.Stream.AudioTracks()) == 1
}

func TestStartFailsWithoutMedia(t *testing.T) {
	var joined bool
	c := newLesson(t, realtime.NewBroker(), "student-1", "Student", models.RoleStudent, "", func(cfg *Config) {
		cfg.Devices = &media.SyntheticDevices{Err: media.ErrPermissionDenied}
		inner := cfg.Join
		cfg.Join = func(ctx context.Context, topic string) (realtime.Channel, error) {
			joined = true
			return inner(ctx, topic)
		}
	})

	err := c.Start(context.Background())
	if !errors.Is(err, media.ErrPermissionDenied) {
		t.Fatalf("Start = %v", err)
	}
	if joined {
		t.Fatal("joined signaling without media")
	}
	if c.State() != StateEnded {
		t.Fatalf("state = %s", c.State())
	}
	if n := waitNotice(t, c, "lesson.mediaDenied"); n.Kind != NoticeError {
		t.Fatalf("notice = %+v", n)
	}
	if _, err := c.End(context.Background()); err != nil {
		t.Fatalf("End after failed start = %v", err)
	}
}

func TestStartFailsWithoutSignaling(t *testing.T) {
	devices := &recordingDevices{}
	boom := errors.New("relay refused")
	c := newLesson(t, realtime.NewBroker(), "student-1", "Student", models.RoleStudent, "", func(cfg *Config) {
		cfg.Devices = devices
		cfg.Join = func(context.Context, string) (realtime.Channel, error) { return nil, boom }
	})

	if err := c.Start(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Start = %v", err)
	}
	for _, tr := range devices.stream.Tracks() {
		if !tr.Stopped() {
			t.Fatalf("%s track left running", tr.Kind())
		}
	}
	if c.State() != StateEnded {
		t.Fatalf("state = %s", c.State())
	}
}

func TestTwoPartyLesson(t *testing.T) {
	broker := realtime.NewBroker()
	ctx := context.Background()

	student := newLesson(t, broker, "student-1", "Student Lee", models.RoleStudent, "", nil)
	if err := student.Start(ctx); err != nil {
		t.Fatalf("student Start: %v", err)
	}
	if student.Participants().Len() != 0 {
		t.Fatal("student sees someone in an empty lesson")
	}

	teacher := newLesson(t, broker, "teacher-1", "Teacher Kim", models.RoleTeacher, "", nil)
	if err := teacher.Start(ctx); err != nil {
		t.Fatalf("teacher Start: %v", err)
	}

	waitFor(t, "media both ways", func() bool {
		return hasMedia(student, "teacher-1") && hasMedia(teacher, "student-1")
	})

	p, _ := teacher.Participants().Get("student-1")
	if p.DisplayName != "Student Lee" || p.Role != models.RoleStudent {
		t.Fatalf("teacher sees %+v", p)
	}
	if student.State() != StateActive || teacher.State() != StateActive {
		t.Fatalf("states = %s, %s", student.State(), teacher.State())
	}
	// individual lessons are not recorded
	if _, ok := teacher.RecorderState(); ok {
		t.Fatal("individual lesson has a recorder")
	}

	if _, err := teacher.End(ctx); err != nil {
		t.Fatalf("teacher End: %v", err)
	}
	waitFor(t, "student saw leave", func() bool { return student.Participants().Len() == 0 })
}

func TestGroupLessonAutoRecording(t *testing.T) {
	broker := realtime.NewBroker()
	ctx := context.Background()
	uploads := &fakeUploader{}
	frames := make(chan []string, 512)

	teacher := newLesson(t, broker, "teacher-1", "Teacher Kim", models.RoleTeacher, "g1", func(cfg *Config) {
		cfg.Recordings = uploads
		cfg.AutoRecordDelay = 200 * time.Millisecond
		cfg.RecordingsDir = t.TempDir()
		cfg.Recorder.OnFrame = func(_ image.Image, names []string) {
			select {
			case frames <- names:
			default:
			}
		}
	})
	if err := teacher.Start(ctx); err != nil {
		t.Fatalf("teacher Start: %v", err)
	}
	if teacher.Topic() != "group_g1" {
		t.Fatalf("topic = %s", teacher.Topic())
	}
	waitFor(t, "recording started", teacher.Recording)

	student := newLesson(t, broker, "student-1", "Student Lee", models.RoleStudent, "g1", nil)
	if err := student.Start(ctx); err != nil {
		t.Fatalf("student Start: %v", err)
	}
	if _, ok := student.RecorderState(); ok {
		t.Fatal("student records")
	}

	waitFor(t, "student tile", func() bool {
		for {
			select {
			case names := <-frames:
				if slices.Equal(names, []string{"Teacher Kim", "Student Lee"}) {
					return true
				}
			default:
				return false
			}
		}
	})
	waitFor(t, "student media", func() bool { return hasMedia(teacher, "student-1") })

	rec, err := teacher.End(ctx)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if rec == nil || rec.GroupID != "g1" || rec.FileSize == 0 {
		t.Fatalf("recording = %+v", rec)
	}
	if uploads.uploads() != 1 {
		t.Fatalf("uploads = %d", uploads.uploads())
	}
	if teacher.Recording() {
		t.Fatal("still recording")
	}
}

func TestEmptyRecordingIsNotUploaded(t *testing.T) {
	uploads := &fakeUploader{}
	teacher := newLesson(t, realtime.NewBroker(), "teacher-1", "Teacher Kim", models.RoleTeacher, "g1", func(cfg *Config) {
		cfg.Recordings = uploads
		cfg.AutoRecordDelay = 300 * time.Millisecond
	})
	if err := teacher.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if off, err := teacher.ToggleVideo(); err != nil || !off {
		t.Fatalf("ToggleVideo = %v, %v", off, err)
	}
	waitFor(t, "recording started", teacher.Recording)
	time.Sleep(300 * time.Millisecond)

	_, err := teacher.End(context.Background())
	if !errors.Is(err, recorder.ErrEmptyRecording) {
		t.Fatalf("End = %v", err)
	}
	if uploads.uploads() != 0 {
		t.Fatal("empty recording uploaded")
	}
	waitNotice(t, teacher, "lesson.recordingEmpty")
}

func TestFailedUploadKeepsLocalCopy(t *testing.T) {
	boom := errors.New("storage unavailable")
	uploads := &fakeUploader{err: boom}
	dir := t.TempDir()
	teacher := newLesson(t, realtime.NewBroker(), "teacher-1", "Teacher Kim", models.RoleTeacher, "g1", func(cfg *Config) {
		cfg.Recordings = uploads
		cfg.AutoRecordDelay = 200 * time.Millisecond
		cfg.RecordingsDir = dir
	})
	if err := teacher.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "frames recorded", func() bool {
		s, ok := teacher.RecorderState()
		return ok && s.FramesDrawn > 0
	})

	rec, err := teacher.End(context.Background())
	if !errors.Is(err, boom) || rec != nil {
		t.Fatalf("End = %+v, %v", rec, err)
	}
	if n := waitNotice(t, teacher, "lesson.recordingUploadFailed"); n.Kind != NoticeError {
		t.Fatalf("notice = %+v", n)
	}

	files, err := filepath.Glob(filepath.Join(dir, "g1", "*.webm"))
	if err != nil || len(files) != 1 {
		t.Fatalf("local copies = %v, %v", files, err)
	}
	blob, err := os.ReadFile(files[0])
	if err != nil || len(blob) == 0 {
		t.Fatalf("local copy: %d bytes, %v", len(blob), err)
	}
}

func TestEndIsIdempotent(t *testing.T) {
	devices := &recordingDevices{}
	c := newLesson(t, realtime.NewBroker(), "student-1", "Student", models.RoleStudent, "", func(cfg *Config) {
		cfg.Devices = devices
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.End(context.Background()); err != nil {
				t.Errorf("End = %v", err)
			}
		}()
	}
	wg.Wait()
	if _, err := c.End(context.Background()); err != nil {
		t.Fatalf("End again = %v", err)
	}

	if c.State() != StateEnded {
		t.Fatalf("state = %s", c.State())
	}
	for _, tr := range devices.stream.Tracks() {
		if !tr.Stopped() {
			t.Fatalf("%s track left running", tr.Kind())
		}
	}
	if _, err := c.ToggleMute(); !errors.Is(err, ErrNotActive) {
		t.Fatalf("ToggleMute after end = %v", err)
	}
}

func TestStopAllEndsLesson(t *testing.T) {
	c := newLesson(t, realtime.NewBroker(), "student-1", "Student", models.RoleStudent, "", nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	media.StopAll()

	select {
	case <-c.Done():
	case <-time.After(15 * time.Second):
		t.Fatal("lesson did not end on StopAll")
	}
	if c.State() != StateEnded {
		t.Fatalf("state = %s", c.State())
	}
}

func TestContextCancelEndsLesson(t *testing.T) {
	c := newLesson(t, realtime.NewBroker(), "student-1", "Student", models.RoleStudent, "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case <-c.Done():
	case <-time.After(15 * time.Second):
		t.Fatal("lesson did not end on cancellation")
	}
}

func TestToggles(t *testing.T) {
	c := newLesson(t, realtime.NewBroker(), "student-1", "Student", models.RoleStudent, "", nil)
	if _, err := c.ToggleMute(); !errors.Is(err, ErrNotActive) {
		t.Fatalf("ToggleMute before start = %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	mic := c.LocalStream().AudioTracks()[0]
	if !mic.Enabled() {
		t.Fatal("microphone starts disabled")
	}
	if muted, _ := c.ToggleMute(); !muted || mic.Enabled() {
		t.Fatal("mute did not disable the microphone")
	}
	if muted, _ := c.ToggleMute(); muted || !mic.Enabled() {
		t.Fatal("unmute did not enable the microphone")
	}

	camera := c.LocalStream().VideoTracks()[0]
	if off, _ := c.ToggleVideo(); !off || camera.Enabled() {
		t.Fatal("camera still on")
	}
	if err := c.StartRecording(); !errors.Is(err, ErrNotRecorder) {
		t.Fatal("student allowed to record")
	}
}

func TestAIHelp(t *testing.T) {
	broker := realtime.NewBroker()
	tip := models.AIFeedback{Type: models.FeedbackTip, Tip: "Try -아요/어요 endings"}

	student := newLesson(t, broker, "student-1", "Student", models.RoleStudent, "", func(cfg *Config) {
		cfg.Assist = fakeAssist{fb: tip}
	})
	teacher := newLesson(t, broker, "teacher-1", "Teacher", models.RoleTeacher, "", nil)
	if err := student.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := teacher.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := student.RequestAIHelp(context.Background(), "beginner", "greetings"); err != nil {
		t.Fatalf("RequestAIHelp: %v", err)
	}
	for _, c := range []*Controller{student, teacher} {
		select {
		case fb := <-c.Feedback():
			if fb.Tip != tip.Tip {
				t.Fatalf("feedback = %+v", fb)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("feedback not delivered")
		}
	}
}

func TestAIHelpSoftFailures(t *testing.T) {
	tests := []struct {
		err error
		key string
	}{
		{clients.ErrQuotaExceeded, "lesson.aiQuotaExceeded"},
		{clients.ErrRateLimited, "lesson.aiRateLimited"},
		{errors.New("gateway timeout"), "lesson.aiUnavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			c := newLesson(t, realtime.NewBroker(), "student-1", "Student", models.RoleStudent, "", func(cfg *Config) {
				cfg.Assist = fakeAssist{err: tt.err}
				cfg.Language = "ko"
			})
			if err := c.Start(context.Background()); err != nil {
				t.Fatal(err)
			}
			if err := c.RequestAIHelp(context.Background(), "beginner", "food"); err != nil {
				t.Fatalf("RequestAIHelp = %v", err)
			}
			n := waitNotice(t, c, tt.key)
			if n.Kind != NoticeWarning || n.Text == tt.key {
				t.Fatalf("notice = %+v", n)
			}
			if c.State() != StateActive {
				t.Fatalf("state = %s", c.State())
			}
		})
	}
}

func TestScreenShareEndsWithCapture(t *testing.T) {
	broker := realtime.NewBroker()
	ctx := context.Background()

	teacher := newLesson(t, broker, "teacher-1", "Teacher Kim", models.RoleTeacher, "", func(cfg *Config) {
		cfg.Devices = &media.SyntheticDevices{ScreenFrames: 30}
	})
	student := newLesson(t, broker, "student-1", "Student Lee", models.RoleStudent, "", nil)
	if err := student.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := teacher.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "connected", func() bool { return hasMedia(student, "teacher-1") })

	if err := teacher.StartScreenShare(ctx); err != nil {
		t.Fatalf("StartScreenShare: %v", err)
	}
	if err := teacher.StartScreenShare(ctx); !errors.Is(err, ErrAlreadySharing) {
		t.Fatalf("second share = %v", err)
	}
	waitNotice(t, student, "lesson.participantSharing")

	// the synthetic screen ends after 30 frames, like pressing stop sharing
	waitFor(t, "share ended", func() bool { return !teacher.Sharing() })
	waitNotice(t, teacher, "lesson.screenShareEnded")

	if err := teacher.StopScreenShare(ctx); err != nil {
		t.Fatalf("StopScreenShare when idle = %v", err)
	}
	if teacher.State() != StateActive {
		t.Fatalf("state = %s", teacher.State())
	}
}
