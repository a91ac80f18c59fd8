package lesson

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/clients"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/media"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/recorder"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/signaling"
)

// ToggleMute flips the microphone and reports whether it is now muted.
// A muted microphone keeps sending silence.
func (c *Controller) ToggleMute() (muted bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateActive {
		return false, ErrNotActive
	}
	if c.mic == nil {
		return false, media.ErrNoDevice
	}
	on := !c.mic.Enabled()
	c.mic.SetEnabled(on)
	return !on, nil
}

// ToggleVideo flips the camera and reports whether it is now off. The
// camera stays acquired while off.
func (c *Controller) ToggleVideo() (off bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateActive {
		return false, ErrNotActive
	}
	if c.camera == nil {
		return false, media.ErrNoDevice
	}
	on := !c.camera.Enabled()
	c.camera.SetEnabled(on)
	return !on, nil
}

// Sharing reports whether the screen replaces the camera right now.
func (c *Controller) Sharing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.screen != nil
}

// StartScreenShare sends the screen instead of the camera on every
// connection. Sharing stops by itself when the screen capture ends.
func (c *Controller) StartScreenShare(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.state != StateActive:
		c.mu.Unlock()
		return ErrNotActive
	case c.screen != nil:
		c.mu.Unlock()
		return ErrAlreadySharing
	}
	mgr := c.mgr
	c.mu.Unlock()

	screen, err := c.cfg.Devices.DisplayMedia(ctx)
	if err != nil {
		return fmt.Errorf("share screen: %w", err)
	}
	tracks := screen.VideoTracks()
	if len(tracks) == 0 {
		screen.Stop()
		return fmt.Errorf("share screen: %w", media.ErrNoDevice)
	}
	track := tracks[0]

	c.mu.Lock()
	if c.state != StateActive || c.screen != nil {
		active := c.state == StateActive
		c.mu.Unlock()
		screen.Stop()
		if !active {
			return ErrNotActive
		}
		return ErrAlreadySharing
	}
	c.screen = screen
	c.mu.Unlock()

	if err := mgr.ReplaceVideoTrack(ctx, track); err != nil {
		c.logger.Printf("[lesson] switching to screen: %v", err)
	}
	if err := c.send(signaling.ScreenShareStarted{From: c.cfg.UserID}); err != nil {
		c.logger.Printf("[lesson] announcing screen share: %v", err)
	}

	go func() {
		<-track.Ended()
		c.stopScreen(context.Background(), screen, true)
	}()
	return nil
}

// StopScreenShare puts the camera back on every connection. It is a no-op
// when nothing is shared.
func (c *Controller) StopScreenShare(ctx context.Context) error {
	c.stopScreen(ctx, nil, true)
	return nil
}

// stopScreen ends the share of which, or of whatever is shared when which
// is nil.
func (c *Controller) stopScreen(ctx context.Context, which *media.Stream, restoreCamera bool) {
	c.mu.Lock()
	screen := c.screen
	if screen == nil || (which != nil && which != screen) {
		c.mu.Unlock()
		return
	}
	c.screen = nil
	camera, mgr := c.camera, c.mgr
	c.mu.Unlock()

	screen.Stop()
	if restoreCamera && mgr != nil && camera != nil {
		if err := mgr.ReplaceVideoTrack(ctx, camera); err != nil {
			c.logger.Printf("[lesson] switching back to camera: %v", err)
		}
	}
	if err := c.send(signaling.ScreenShareStopped{From: c.cfg.UserID}); err != nil {
		c.logger.Printf("[lesson] announcing end of screen share: %v", err)
	}
	c.notify(NoticeInfo, "lesson.screenShareEnded", nil)
}

// RequestAIHelp asks the assistant for feedback and shares it with the
// room. Assistant failures become notices and the lesson carries on; only
// an inactive lesson or a failed broadcast is an error.
func (c *Controller) RequestAIHelp(ctx context.Context, level, topic string) error {
	if c.State() != StateActive {
		return ErrNotActive
	}
	if c.cfg.Assist == nil {
		c.notify(NoticeWarning, "lesson.aiUnavailable", nil)
		return nil
	}

	fb, err := c.cfg.Assist.Feedback(ctx, level, topic)
	switch {
	case errors.Is(err, clients.ErrQuotaExceeded):
		c.logger.Printf("[lesson] AI assist: %v", err)
		c.notify(NoticeWarning, "lesson.aiQuotaExceeded", nil)
		return nil
	case errors.Is(err, clients.ErrRateLimited):
		c.logger.Printf("[lesson] AI assist: %v", err)
		c.notify(NoticeWarning, "lesson.aiRateLimited", nil)
		return nil
	case err != nil:
		c.logger.Printf("[lesson] AI assist: %v", err)
		c.notify(NoticeWarning, "lesson.aiUnavailable", nil)
		return nil
	}

	if err := c.send(signaling.AIFeedback{From: c.cfg.UserID, Feedback: fb}); err != nil {
		return fmt.Errorf("share AI feedback: %w", err)
	}
	return nil
}

// Recording reports whether the composite recorder is running.
func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// RecorderState describes the running or last recording. ok is false for
// participants that do not record.
func (c *Controller) RecorderState() (s recorder.State, ok bool) {
	c.mu.Lock()
	rec := c.rec
	c.mu.Unlock()
	if rec == nil {
		return recorder.State{}, false
	}
	return rec.State(), true
}

// StartRecording starts the composite recorder ahead of the automatic
// start, or again after a manual stop.
func (c *Controller) StartRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.state != StateActive:
		return ErrNotActive
	case c.rec == nil:
		return ErrNotRecorder
	case c.recording:
		return nil
	}

	if err := c.rec.Start(); err != nil {
		return fmt.Errorf("start recorder: %w", err)
	}
	c.recording = true
	stopTimer(c.autoRecord)
	c.maxRecord = time.AfterFunc(c.cfg.MaxRecording, c.maxRecordingReached)

	c.logger.Printf("[lesson] recording %s", c.topic)
	c.notify(NoticeInfo, "lesson.recordingStarted", nil)
	return nil
}

func (c *Controller) autoStartRecording() {
	if err := c.StartRecording(); err != nil && !errors.Is(err, ErrNotActive) {
		c.logger.Printf("[lesson] automatic recording: %v", err)
	}
}

func (c *Controller) maxRecordingReached() {
	c.notify(NoticeWarning, "lesson.recordingMaxDuration", nil)

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.UploadTimeout)
	defer cancel()
	if _, err := c.StopRecording(ctx); err != nil && !errors.Is(err, recorder.ErrNotRecording) {
		c.logger.Printf("[lesson] stopping recording at its maximum length: %v", err)
	}
}

// StopRecording waits for the recorder to flush and uploads the result.
// An empty recording is never uploaded; it is reported to the user and
// returned as recorder.ErrEmptyRecording.
func (c *Controller) StopRecording(ctx context.Context) (*models.Recording, error) {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return nil, recorder.ErrNotRecording
	}
	c.recording = false
	stopTimer(c.maxRecord)
	rec := c.rec
	c.mu.Unlock()

	return c.finishRecording(ctx, rec)
}

func (c *Controller) finishRecording(ctx context.Context, rec *recorder.Recorder) (*models.Recording, error) {
	blob, err := rec.Stop(ctx)
	if errors.Is(err, recorder.ErrEmptyRecording) {
		c.logger.Printf("[lesson] recording of %s is empty, not uploading", c.topic)
		c.notify(NoticeError, "lesson.recordingEmpty", nil)
		return nil, err
	}
	if err != nil {
		c.notify(NoticeError, "lesson.recordingUploadFailed", map[string]string{"reason": err.Error()})
		return nil, fmt.Errorf("stop recorder: %w", err)
	}

	c.keepLocalCopy(blob)

	if c.cfg.Recordings == nil {
		c.logger.Printf("[lesson] no recording store configured, %d bytes kept locally only", len(blob))
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout)
	defer cancel()
	saved, err := c.cfg.Recordings.Upload(ctx, c.cfg.GroupID, "", time.Now().Format(time.DateOnly), blob)
	if err != nil {
		c.notify(NoticeError, "lesson.recordingUploadFailed", map[string]string{"reason": err.Error()})
		return nil, fmt.Errorf("upload recording: %w", err)
	}

	c.logger.Printf("[lesson] recording %s saved (%d bytes)", saved.ID, saved.FileSize)
	c.notify(NoticeInfo, "lesson.recordingSaved", map[string]string{"size": strconv.Itoa(len(blob))})
	return saved, nil
}

// keepLocalCopy writes blob under RecordingsDir with the same
// {groupId}/{timestamp}.webm key the store uses.
func (c *Controller) keepLocalCopy(blob []byte) {
	if c.cfg.RecordingsDir == "" {
		return
	}
	dir := filepath.Join(c.cfg.RecordingsDir, c.cfg.GroupID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.logger.Printf("[lesson] local recording copy: %v", err)
		return
	}
	path := filepath.Join(dir, strconv.FormatInt(time.Now().UnixMilli(), 10)+".webm")
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		c.logger.Printf("[lesson] local recording copy: %v", err)
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
