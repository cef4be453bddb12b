package server

import (
	"fmt"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

// TestRateLimiter_Allow tests the basic per-window limit
func TestRateLimiter_Allow(t *testing.T) {
	limiter := NewRateLimiter(10, time.Second)
	connID := "conn-1"

	for i := 0; i < 10; i++ {
		if !limiter.Allow(connID) {
			t.Errorf("Message %d should be allowed", i+1)
		}
	}

	if limiter.Allow(connID) {
		t.Error("11th message should be denied")
	}
}

// TestRateLimiter_SlidingWindow tests that capacity comes back as old messages age out
func TestRateLimiter_SlidingWindow(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(2, time.Second)
	limiter.now = clock.now
	connID := "conn-2"

	limiter.Allow(connID)
	clock.advance(600 * time.Millisecond)
	limiter.Allow(connID)

	if limiter.Allow(connID) {
		t.Error("Third message inside the window should be denied")
	}

	// The first message leaves the window, the second one is still in it
	clock.advance(500 * time.Millisecond)
	if !limiter.Allow(connID) {
		t.Error("Message after the oldest one expired should be allowed")
	}
	if limiter.Allow(connID) {
		t.Error("Window is full again and should deny")
	}
}

// TestRateLimiter_DeniedNotRecorded tests that rejected messages do not extend the penalty
func TestRateLimiter_DeniedNotRecorded(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(1, time.Second)
	limiter.now = clock.now

	limiter.Allow("c")
	for i := 0; i < 5; i++ {
		clock.advance(100 * time.Millisecond)
		limiter.Allow("c")
	}

	clock.advance(600 * time.Millisecond)
	if !limiter.Allow("c") {
		t.Error("Denied messages must not count against the next window")
	}
}

// TestRateLimiter_IndependentConnections tests that limits are per connection
func TestRateLimiter_IndependentConnections(t *testing.T) {
	limiter := NewRateLimiter(3, time.Second)

	for i := 0; i < 3; i++ {
		limiter.Allow("conn-a")
	}
	if limiter.Allow("conn-a") {
		t.Error("conn-a should be rate limited")
	}

	for i := 0; i < 3; i++ {
		if !limiter.Allow("conn-b") {
			t.Errorf("conn-b message %d should be allowed", i+1)
		}
	}
}

// TestRateLimiter_Cleanup tests that idle connections are forgotten
func TestRateLimiter_Cleanup(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(10, time.Second)
	limiter.now = clock.now

	for i := 0; i < 5; i++ {
		limiter.Allow(fmt.Sprintf("conn-%d", i))
	}
	clock.advance(2 * time.Second)
	limiter.Allow("fresh")

	limiter.Cleanup()

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if len(limiter.requests) != 1 {
		t.Errorf("Expected only the fresh connection after cleanup, got %d", len(limiter.requests))
	}
	if _, ok := limiter.requests["fresh"]; !ok {
		t.Error("Recently active connection must survive cleanup")
	}
}

func TestRateLimiter_RemoveConnection(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	limiter.Allow("c")

	limiter.RemoveConnection("c")

	if !limiter.Allow("c") {
		t.Error("Removed connection should start with a fresh window")
	}
}

// TestConnectionHealth_ActivityResetsTimer tests that new activity clears the idle state
func TestConnectionHealth_ActivityResetsTimer(t *testing.T) {
	clock := newFakeClock()
	health := NewConnectionHealth()
	health.now = clock.now
	connID := "test-conn"

	if len(health.GetInactiveConnections(time.Minute)) != 0 {
		t.Error("Untracked connection should not be inactive")
	}

	health.UpdateActivity(connID)
	if len(health.GetInactiveConnections(time.Minute)) != 0 {
		t.Error("Recently active connection should not be inactive")
	}

	clock.advance(2 * time.Minute)
	if inactive := health.GetInactiveConnections(time.Minute); len(inactive) != 1 || inactive[0] != connID {
		t.Errorf("Connection silent for two minutes should be inactive, got %v", inactive)
	}

	health.UpdateActivity(connID)
	if len(health.GetInactiveConnections(time.Minute)) != 0 {
		t.Error("Activity should reset the idle timer")
	}
}

// TestConnectionHealth_GetInactiveConnections tests batch detection
func TestConnectionHealth_GetInactiveConnections(t *testing.T) {
	clock := newFakeClock()
	health := NewConnectionHealth()
	health.now = clock.now

	health.UpdateActivity("inactive-2")
	health.UpdateActivity("inactive-1")
	clock.advance(6 * time.Minute)
	health.UpdateActivity("active-1")

	inactive := health.GetInactiveConnections(5 * time.Minute)

	if len(inactive) != 2 || inactive[0] != "inactive-1" || inactive[1] != "inactive-2" {
		t.Errorf("Expected [inactive-1 inactive-2], got %v", inactive)
	}
}

func TestConnectionHealth_RemoveConnection(t *testing.T) {
	clock := newFakeClock()
	health := NewConnectionHealth()
	health.now = clock.now

	health.UpdateActivity("c")
	health.RemoveConnection("c")
	clock.advance(time.Hour)

	if len(health.GetInactiveConnections(time.Minute)) != 0 {
		t.Error("Removed connection should not be reported")
	}
}

func TestValidateMessageType(t *testing.T) {
	for _, msgType := range []string{"ping", "join", "chat", "result", "leave"} {
		if err := ValidateMessageType(msgType); err != nil {
			t.Errorf("Valid message type '%s' should not error", msgType)
		}
	}

	for _, msgType := range []string{"invalid", "join_game", "PING", ""} {
		if err := ValidateMessageType(msgType); err == nil {
			t.Errorf("Invalid message type '%s' should error", msgType)
		}
	}
}
