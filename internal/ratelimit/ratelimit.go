// Package ratelimit implements the per-user reply cool-down for group chats.
package ratelimit

import (
	"sync"
	"time"

	"github.com/stellarlinkco/yuki/internal/bus"
)

// DefaultCooldown is the minimum gap between two replies to the same user in
// a group chat.
const DefaultCooldown = 30 * time.Second

// Cooldown remembers when each user was last answered in a group chat.
// Direct chats are never limited and never touch the map.
type Cooldown struct {
	mu       sync.Mutex
	window   time.Duration
	lastSeen map[string]time.Time
	now      func() time.Time
}

func New(window time.Duration) *Cooldown {
	if window <= 0 {
		window = DefaultCooldown
	}
	return &Cooldown{
		window:   window,
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// WithClock replaces the time source; intended for tests.
func (c *Cooldown) WithClock(now func() time.Time) *Cooldown {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

// Allow reports whether userID may get a reply now. In a group chat an
// accepted call stamps the current time; a rejected call leaves the previous
// stamp untouched.
func (c *Cooldown) Allow(userID string, kind bus.ChatKind) bool {
	if kind != bus.ChatGroup {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if last, ok := c.lastSeen[userID]; ok && now.Sub(last) < c.window {
		return false
	}
	c.lastSeen[userID] = now
	return true
}

// LastSeen returns the stamp recorded for userID, if any.
func (c *Cooldown) LastSeen(userID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.lastSeen[userID]
	return t, ok
}
