package lesson

import (
	"context"
	"time"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/signaling"
)

// flushGrace is added to UploadTimeout for the recorder's final flush.
const flushGrace = 10 * time.Second

// End ends the lesson and waits until cleanup has finished or ctx is done.
// Calling it again, concurrently or after the lesson ended on its own,
// waits for the same cleanup and returns the same result: the recording
// this participant uploaded, if any.
func (c *Controller) End(ctx context.Context) (*models.Recording, error) {
	c.endOnce.Do(func() {
		go func() {
			c.cleanup()
			close(c.endDone)
		}()
	})

	select {
	case <-c.endDone:
		return c.result, c.endErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// cleanup releases everything the session acquired. It runs once, and
// tolerates a session that never got past initializing.
func (c *Controller) cleanup() {
	c.mu.Lock()
	c.started = true
	c.state = StateEnding
	c.mu.Unlock()

	c.stopScreen(context.Background(), nil, false)

	c.mu.Lock()
	stopTimer(c.autoRecord)
	stopTimer(c.maxRecord)
	recording := c.recording
	c.recording = false
	rec, local, mgr, ch := c.rec, c.local, c.mgr, c.ch
	runCancel, runDone, stopAllCancel := c.runCancel, c.runDone, c.stopAllCancel
	c.mu.Unlock()

	if stopAllCancel != nil {
		stopAllCancel()
	}

	if ch != nil {
		if err := c.send(signaling.Leave{From: c.cfg.UserID}); err != nil {
			c.logger.Printf("[lesson] announcing leave: %v", err)
		}
	}

	if recording {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.UploadTimeout+flushGrace)
		c.result, c.endErr = c.finishRecording(ctx, rec)
		cancel()
	}

	if local != nil {
		local.Stop()
	}

	if mgr != nil {
		mgr.Close()
	}
	for _, p := range c.reg.Clear() {
		if p.Stream != nil {
			p.Stream.Stop()
		}
	}

	if runCancel != nil {
		runCancel()
		<-runDone
	}
	if ch != nil {
		if err := ch.Close(); err != nil {
			c.logger.Printf("[lesson] unsubscribing: %v", err)
		}
	}

	c.mu.Lock()
	c.state = StateEnded
	c.mu.Unlock()

	c.logger.Printf("[lesson] %s left %s", c.cfg.UserID, c.topic)
}
