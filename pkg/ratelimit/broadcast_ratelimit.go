package ratelimit

import (
	"sync"
	"time"
)

// broadcastBucket is either counting inside a window or cooling down
// (cooldownUntil in the future).
type broadcastBucket struct {
	count         int
	windowStart   time.Time
	cooldownUntil time.Time
}

// BroadcastRateLimiter limits relayed broadcasts per user.
//
// maxMessages are allowed per window. The first message over the cap starts
// a cooldown during which every message is rejected; after it the window
// starts over.
//
//	limiter := NewBroadcastRateLimiter(50, time.Second, 5*time.Second)
//	if !limiter.Allow(userID) { ... }
type BroadcastRateLimiter struct {
	mu          sync.RWMutex
	buckets     map[string]*broadcastBucket
	maxMessages int
	window      time.Duration
	cooldown    time.Duration
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewBroadcastRateLimiter creates the limiter and starts its cleanup loop.
func NewBroadcastRateLimiter(maxMessages int, window, cooldown time.Duration) *BroadcastRateLimiter {
	rl := &BroadcastRateLimiter{
		buckets:     make(map[string]*broadcastBucket),
		maxMessages: maxMessages,
		window:      window,
		cooldown:    cooldown,
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow counts one message for userID and reports whether it may be relayed.
func (rl *BroadcastRateLimiter) Allow(userID string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.buckets[userID]
	if !exists {
		rl.buckets[userID] = &broadcastBucket{count: 1, windowStart: now}
		return true
	}

	if !b.cooldownUntil.IsZero() && now.Before(b.cooldownUntil) {
		return false
	}

	if !b.cooldownUntil.IsZero() {
		b.count = 1
		b.windowStart = now
		b.cooldownUntil = time.Time{}
		return true
	}

	if now.Sub(b.windowStart) > rl.window {
		b.count = 1
		b.windowStart = now
		return true
	}

	b.count++
	if b.count > rl.maxMessages {
		b.cooldownUntil = now.Add(rl.cooldown)
		return false
	}

	return true
}

// CooldownSeconds returns the remaining cooldown for userID, rounded up.
// Zero when the user is not cooling down.
func (rl *BroadcastRateLimiter) CooldownSeconds(userID string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	b, exists := rl.buckets[userID]
	if !exists || b.cooldownUntil.IsZero() {
		return 0
	}

	remaining := time.Until(b.cooldownUntil)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Seconds()) + 1
}

// Stop ends the cleanup goroutine. Safe to call more than once.
func (rl *BroadcastRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

func (rl *BroadcastRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup drops buckets whose window and cooldown have both expired.
func (rl *BroadcastRateLimiter) cleanup() {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for userID, b := range rl.buckets {
		windowExpired := now.Sub(b.windowStart) > rl.window
		cooldownExpired := b.cooldownUntil.IsZero() || now.After(b.cooldownUntil)

		if windowExpired && cooldownExpired {
			delete(rl.buckets, userID)
		}
	}
}
