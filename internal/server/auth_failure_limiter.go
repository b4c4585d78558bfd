package server

import (
	"sync"
	"time"
)

const (
	authMaxFailures   = 10
	authFailureWindow = time.Minute
	authBlockDuration = 5 * time.Minute
	authSweepEvery    = 64
)

// authFailureLimiter blocks a client after repeated bad upload tokens.
type authFailureLimiter struct {
	mu          sync.Mutex
	clients     map[string]authFailureState
	maxFailures int
	window      time.Duration
	blockFor    time.Duration
	staleAfter  time.Duration
	ops         int
}

type authFailureState struct {
	failures     int
	windowStart  time.Time
	blockedUntil time.Time
	lastSeen     time.Time
}

func newAuthFailureLimiter(maxFailures int, window, blockFor time.Duration) *authFailureLimiter {
	if maxFailures <= 0 || window <= 0 || blockFor <= 0 {
		return nil
	}
	staleAfter := 2 * max(window, blockFor)
	if staleAfter < 10*time.Minute {
		staleAfter = 10 * time.Minute
	}
	return &authFailureLimiter{
		clients:     make(map[string]authFailureState),
		maxFailures: maxFailures,
		window:      window,
		blockFor:    blockFor,
		staleAfter:  staleAfter,
	}
}

// Blocked reports whether client is inside a block period.
func (l *authFailureLimiter) Blocked(client string, now time.Time) bool {
	if l == nil || client == "" {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	state := l.clients[client]
	state.lastSeen = now
	blocked := now.Before(state.blockedUntil)
	if !blocked {
		state.blockedUntil = time.Time{}
		if !state.windowStart.IsZero() && now.Sub(state.windowStart) > l.window {
			state.failures = 0
			state.windowStart = time.Time{}
		}
	}
	l.clients[client] = state
	l.sweepLocked(now)
	return blocked
}

// Fail records a rejected token; reaching maxFailures within the window
// blocks the client for blockFor.
func (l *authFailureLimiter) Fail(client string, now time.Time) {
	if l == nil || client == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	state := l.clients[client]
	if state.windowStart.IsZero() || now.Sub(state.windowStart) > l.window {
		state.failures = 0
		state.windowStart = now
	}
	state.failures++
	if state.failures >= l.maxFailures {
		state.blockedUntil = now.Add(l.blockFor)
		state.failures = 0
		state.windowStart = time.Time{}
	}
	state.lastSeen = now
	l.clients[client] = state
	l.sweepLocked(now)
}

// Succeed forgets a client's failure history.
func (l *authFailureLimiter) Succeed(client string) {
	if l == nil || client == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.clients, client)
}

func (l *authFailureLimiter) sweepLocked(now time.Time) {
	l.ops++
	if l.ops%authSweepEvery != 0 {
		return
	}
	for client, state := range l.clients {
		if now.Sub(state.lastSeen) > l.staleAfter {
			delete(l.clients, client)
		}
	}
}
