package peer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/media"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/participants"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/realtime"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/signaling"
	"github.com/pion/webrtc/v4"
)

type side struct {
	id       string
	mgr      *Manager
	reg      *participants.Registry
	ch       *signaling.Channel
	camera   *media.Stream
	handlerr chan error
}

func newSide(t *testing.T, broker *realtime.Broker, id string, role models.Role) *side {
	t.Helper()

	api, err := NewAPI(APIOptions{Loopback: true, PLIInterval: 500 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	camera, err := (&media.SyntheticDevices{}).UserMedia(context.Background(), media.DefaultConstraints())
	if err != nil {
		t.Fatalf("UserMedia: %v", err)
	}

	s := &side{
		id:       id,
		reg:      participants.New(),
		ch:       signaling.NewChannel(broker.Join("lesson-1", id, true), id, nil),
		camera:   camera,
		handlerr: make(chan error, 64),
	}
	s.mgr = NewManager(Config{
		Self:     id,
		Identity: signaling.Identity{DisplayName: id, Role: role},
		API:      api,
		Signaler: s.ch,
		Streams:  s.reg,
		Audio:    camera.AudioTracks()[0],
		Video:    camera.VideoTracks()[0],
	})

	ctx, cancel := context.WithCancel(context.Background())
	go s.ch.Run(ctx, s.route)
	t.Cleanup(func() {
		cancel()
		s.mgr.Close()
		s.ch.Close()
		camera.Stop()
	})
	return s
}

// route is the dispatch a lesson controller performs.
func (s *side) route(msg signaling.Message) {
	ctx := context.Background()
	var err error
	switch m := msg.(type) {
	case signaling.Join:
		s.reg.Add(participants.Participant{UserID: m.From, DisplayName: m.DisplayName, Role: m.Role})
		err = s.mgr.HandleJoin(ctx, m)
	case signaling.Offer:
		s.reg.Add(participants.Participant{UserID: m.From, DisplayName: m.DisplayName, Role: m.Role})
		err = s.mgr.HandleOffer(ctx, m)
	case signaling.Answer:
		err = s.mgr.HandleAnswer(ctx, m)
	case signaling.ICECandidate:
		err = s.mgr.HandleCandidate(ctx, m)
	case signaling.Renegotiate:
		err = s.mgr.HandleRenegotiate(ctx, m)
	case signaling.Leave:
		err = s.mgr.HandleLeave(ctx, m.From)
		s.reg.Remove(m.From)
	}
	if err != nil {
		s.handlerr <- err
	}
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

func stateOf(t *testing.T, m *Manager, id string) State {
	t.Helper()
	states, err := m.States(context.Background())
	if err != nil {
		t.Fatalf("States: %v", err)
	}
	if s, ok := states[id]; ok {
		return s
	}
	return StateNoConnection
}

func hasMedia(reg *participants.Registry, id string) bool {
	p, ok := reg.Get(id)
	return ok && p.Stream != nil && len(p.Stream.AudioTracks()) == 1 && len(p.Stream.VideoTracks()) == 1
}

func connectPair(t *testing.T) (student, teacher *side) {
	t.Helper()
	return connectPairOn(t, realtime.NewBroker())
}

func connectPairOn(t *testing.T, broker *realtime.Broker) (student, teacher *side) {
	t.Helper()

	student = newSide(t, broker, "student-1", models.RoleStudent)
	teacher = newSide(t, broker, "teacher-1", models.RoleTeacher)

	if err := teacher.ch.Send(context.Background(), signaling.Join{
		From:     teacher.id,
		Identity: signaling.Identity{DisplayName: "Teacher", Role: models.RoleTeacher},
	}); err != nil {
		t.Fatalf("join: %v", err)
	}

	waitFor(t, "both connected", func() bool {
		return stateOf(t, student.mgr, teacher.id) == StateConnected && stateOf(t, teacher.mgr, student.id) == StateConnected
	})
	waitFor(t, "streams attached", func() bool {
		return hasMedia(student.reg, teacher.id) && hasMedia(teacher.reg, student.id)
	})
	return student, teacher
}

func TestTwoPartyLesson(t *testing.T) {
	student, teacher := connectPair(t)

	// the teacher learned the student's identity from the offer
	p, _ := teacher.reg.Get(student.id)
	if p.DisplayName != student.id || p.Role != models.RoleStudent {
		t.Fatalf("teacher registered student as %+v", p)
	}
	if teacher.reg.Len() != 1 || student.reg.Len() != 1 {
		t.Fatalf("registries = %d, %d", teacher.reg.Len(), student.reg.Len())
	}

	remote, _ := student.reg.Get(teacher.id)
	waitFor(t, "remote picture", func() bool { return remote.Stream.VideoTracks()[0].Frame() != nil })

	select {
	case err := <-student.handlerr:
		t.Fatalf("student handler error: %v", err)
	case err := <-teacher.handlerr:
		t.Fatalf("teacher handler error: %v", err)
	default:
	}
}

func TestScreenShareRoundTrip(t *testing.T) {
	student, teacher := connectPair(t)
	ctx := context.Background()
	camera := teacher.camera.VideoTracks()[0]

	screen, err := (&media.SyntheticDevices{}).DisplayMedia(ctx)
	if err != nil {
		t.Fatalf("DisplayMedia: %v", err)
	}
	defer screen.Stop()

	outbound := func(want string) func() bool {
		return func() bool {
			got, err := teacher.mgr.OutboundVideo(ctx)
			return err == nil && len(got) == 1 && got[student.id] == want
		}
	}

	if err := teacher.mgr.ReplaceVideoTrack(ctx, screen.VideoTracks()[0]); err != nil {
		t.Fatalf("replace with screen: %v", err)
	}
	waitFor(t, "screen outbound", outbound(screen.VideoTracks()[0].ID()))

	// toggled straight back: the second offer waits for the first answer
	if err := teacher.mgr.ReplaceVideoTrack(ctx, camera); err != nil {
		t.Fatalf("replace with camera: %v", err)
	}
	waitFor(t, "camera outbound", outbound(camera.ID()))

	waitFor(t, "renegotiation settled", func() bool {
		var settled bool
		teacher.mgr.do(ctx, func() error {
			p := teacher.mgr.peers[student.id]
			settled = !p.awaitingAnswer && !p.pendingRenegotiation
			return nil
		})
		return settled
	})
	if s := stateOf(t, teacher.mgr, student.id); s != StateConnected {
		t.Fatalf("state after toggling = %s", s)
	}
}

// connection returns the live connection m holds for id, or nil.
func connection(m *Manager, id string) *webrtc.PeerConnection {
	var pc *webrtc.PeerConnection
	m.do(context.Background(), func() error {
		if p, ok := m.peers[id]; ok {
			pc = p.pc
		}
		return nil
	})
	return pc
}

// settled reports whether m's connection to id is pc with no offer
// outstanding or queued.
func settled(m *Manager, id string, pc *webrtc.PeerConnection) bool {
	var ok bool
	m.do(context.Background(), func() error {
		p := m.peers[id]
		ok = p != nil && p.pc == pc && !p.awaitingAnswer && !p.pendingRenegotiation &&
			p.pc.SignalingState() == webrtc.SignalingStateStable
		return nil
	})
	return ok
}

func TestSimultaneousScreenShares(t *testing.T) {
	student, teacher := connectPair(t)
	ctx := context.Background()

	studentPC := connection(student.mgr, teacher.id)
	teacherPC := connection(teacher.mgr, student.id)

	var screens [2]*media.Stream
	for i := range screens {
		s, err := (&media.SyntheticDevices{}).DisplayMedia(ctx)
		if err != nil {
			t.Fatalf("DisplayMedia: %v", err)
		}
		defer s.Stop()
		screens[i] = s
	}

	errs := make(chan error, 2)
	go func() { errs <- student.mgr.ReplaceVideoTrack(ctx, screens[0].VideoTracks()[0]) }()
	go func() { errs <- teacher.mgr.ReplaceVideoTrack(ctx, screens[1].VideoTracks()[0]) }()
	for range 2 {
		if err := <-errs; err != nil {
			t.Fatalf("ReplaceVideoTrack: %v", err)
		}
	}

	waitFor(t, "both sides settled on the original connections", func() bool {
		return settled(student.mgr, teacher.id, studentPC) && settled(teacher.mgr, student.id, teacherPC)
	})
	for _, c := range []struct {
		s    *side
		peer string
		want string
	}{
		{student, teacher.id, screens[0].VideoTracks()[0].ID()},
		{teacher, student.id, screens[1].VideoTracks()[0].ID()},
	} {
		got, err := c.s.mgr.OutboundVideo(ctx)
		if err != nil || got[c.peer] != c.want {
			t.Fatalf("%s outbound video = %v, %v", c.s.id, got, err)
		}
		if st := stateOf(t, c.s.mgr, c.peer); st != StateConnected {
			t.Fatalf("%s sees %s as %s", c.s.id, c.peer, st)
		}
	}

	select {
	case err := <-student.handlerr:
		t.Fatalf("student handler error: %v", err)
	case err := <-teacher.handlerr:
		t.Fatalf("teacher handler error: %v", err)
	default:
	}
}

func TestRejoinWithoutLeave(t *testing.T) {
	broker := realtime.NewBroker()
	student, teacher := connectPairOn(t, broker)
	oldPC := connection(student.mgr, teacher.id)
	old, _ := student.reg.Get(teacher.id)

	// the teacher's process dies without announcing a leave
	teacher.mgr.Close()
	teacher.ch.Close()

	back := newSide(t, broker, teacher.id, models.RoleTeacher)
	if err := back.ch.Send(context.Background(), signaling.Join{
		From:     back.id,
		Identity: signaling.Identity{DisplayName: "Teacher", Role: models.RoleTeacher},
	}); err != nil {
		t.Fatalf("join: %v", err)
	}

	waitFor(t, "rejoined pair connected", func() bool {
		return stateOf(t, student.mgr, back.id) == StateConnected && stateOf(t, back.mgr, student.id) == StateConnected
	})
	waitFor(t, "fresh streams", func() bool {
		p, ok := student.reg.Get(back.id)
		return ok && p.Stream != old.Stream && hasMedia(student.reg, back.id) && hasMedia(back.reg, student.id)
	})
	if connection(student.mgr, back.id) == oldPC {
		t.Fatal("student kept the stale connection")
	}
	for _, tr := range old.Stream.Tracks() {
		if !tr.Stopped() {
			t.Fatalf("stale remote %s track still running", tr.Kind())
		}
	}
	if student.reg.Len() != 1 {
		t.Fatalf("student registry has %d entries", student.reg.Len())
	}
}

func TestAnswerWithoutConnection(t *testing.T) {
	broker := realtime.NewBroker()
	s := newSide(t, broker, "student-1", models.RoleStudent)
	s.reg.Add(participants.Participant{UserID: "carol"})
	before := s.reg.Snapshot()

	err := s.mgr.HandleAnswer(context.Background(), signaling.Answer{From: "ghost", To: s.id, NegotiationID: 1})
	if !errors.Is(err, ErrNoConnection) {
		t.Fatalf("err = %v", err)
	}
	err = s.mgr.HandleCandidate(context.Background(), signaling.ICECandidate{From: "ghost", To: s.id})
	if !errors.Is(err, ErrNoConnection) {
		t.Fatalf("candidate err = %v", err)
	}

	after := s.reg.Snapshot()
	if len(after) != len(before) || after[0].UserID != "carol" {
		t.Fatalf("registry changed: %+v", after)
	}
}

func TestStaleAnswerDropped(t *testing.T) {
	student, teacher := connectPair(t)

	err := student.mgr.HandleAnswer(context.Background(), signaling.Answer{From: teacher.id, To: student.id, NegotiationID: 99})
	if err != nil {
		t.Fatalf("stale answer = %v", err)
	}
	if s := stateOf(t, student.mgr, teacher.id); s != StateConnected {
		t.Fatalf("state = %s", s)
	}
}

func TestLeaveClosesConnection(t *testing.T) {
	student, teacher := connectPair(t)
	remote, _ := student.reg.Get(teacher.id)

	teacher.ch.Send(context.Background(), signaling.Leave{From: teacher.id})
	waitFor(t, "student saw leave", func() bool { return student.reg.Len() == 0 })

	if s := stateOf(t, student.mgr, teacher.id); s != StateNoConnection {
		t.Fatalf("connection still tracked as %s", s)
	}
	for _, tr := range remote.Stream.Tracks() {
		if !tr.Stopped() {
			t.Fatalf("remote %s track not stopped", tr.Kind())
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	broker := realtime.NewBroker()
	s := newSide(t, broker, "student-1", models.RoleStudent)
	s.mgr.Close()
	s.mgr.Close()
	if err := s.mgr.Renegotiate(context.Background(), "x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("after close = %v", err)
	}
}
