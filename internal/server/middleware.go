package server

import (
	"slices"
	"sync"
	"time"

	"studygroup-server/internal/apperr"
)

// RateLimiter allows each connection at most maxRequests inbound messages in any sliding window.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	requests    map[string][]time.Time // connectionID -> accepted message times, oldest first
	now         func() time.Time
	mu          sync.Mutex
}

func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[string][]time.Time),
		now:         time.Now,
	}
}

// Allow records a message from connectionID and reports whether it is within the limit.
// Rejected messages are not recorded.
func (r *RateLimiter) Allow(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	recent := pruneBefore(r.requests[connectionID], now.Add(-r.window))
	if len(recent) >= r.maxRequests {
		r.requests[connectionID] = recent
		return false
	}
	r.requests[connectionID] = append(recent, now)
	return true
}

// Cleanup drops connections with nothing left in the current window.
func (r *RateLimiter) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.window)
	for connID, times := range r.requests {
		if len(pruneBefore(times, cutoff)) == 0 {
			delete(r.requests, connID)
		}
	}
}

func (r *RateLimiter) RemoveConnection(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, connectionID)
}

func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	return times[i:]
}

// ConnectionHealth remembers when each connection last sent something.
type ConnectionHealth struct {
	lastActivity map[string]time.Time
	now          func() time.Time
	mu           sync.RWMutex
}

func NewConnectionHealth() *ConnectionHealth {
	return &ConnectionHealth{
		lastActivity: make(map[string]time.Time),
		now:          time.Now,
	}
}

func (h *ConnectionHealth) UpdateActivity(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastActivity[connectionID] = h.now()
}

// GetInactiveConnections lists every connection silent for longer than timeout, sorted.
func (h *ConnectionHealth) GetInactiveConnections(timeout time.Duration) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	inactive := make([]string, 0)
	for connID, last := range h.lastActivity {
		if now.Sub(last) > timeout {
			inactive = append(inactive, connID)
		}
	}
	slices.Sort(inactive)
	return inactive
}

func (h *ConnectionHealth) RemoveConnection(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.lastActivity, connectionID)
}

var validMessageTypes = map[string]bool{
	TypePing:   true,
	TypeJoin:   true,
	TypeChat:   true,
	TypeResult: true,
	TypeLeave:  true,
}

// ValidateMessageType rejects envelope types the websocket handler does not know.
func ValidateMessageType(msgType string) error {
	if !validMessageTypes[msgType] {
		return apperr.InvalidInput(apperr.CodeInvalidPayload, "unknown message type '%s'", msgType)
	}
	return nil
}
