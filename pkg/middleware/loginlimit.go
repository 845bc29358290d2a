package middleware

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Login throttling defaults. Five attempts inside the window are tolerated;
// the next attempt from the same address is refused before any password
// verification happens. A successful login clears the address's history, so
// only failures accumulate.
const (
	DefaultLoginFailureThreshold = 5
	DefaultLoginFailureWindow    = 15 * time.Minute

	// loginBucketCap bounds memory under address-spoofing floods. Evicting
	// the oldest bucket forgets that address's failures, which only helps
	// the attacker who has already moved on.
	loginBucketCap = 4096
)

type loginWindow struct {
	attempts    int
	windowStart time.Time
}

// LoginLimiter tracks login attempts per client address over a fixed window.
// The attempt is counted at admission, inside Allow's critical section, so
// two requests racing past the same counter cannot both claim the last slot
// while their password checks run. Successful logins call Reset, leaving
// only failures on the books.
type LoginLimiter struct {
	mu        sync.Mutex
	buckets   *lru.Cache[string, *loginWindow]
	threshold int
	window    time.Duration
	now       func() time.Time
}

// NewLoginLimiter creates a limiter. Zero threshold or window fall back to
// the defaults.
func NewLoginLimiter(threshold int, window time.Duration) *LoginLimiter {
	if threshold <= 0 {
		threshold = DefaultLoginFailureThreshold
	}
	if window <= 0 {
		window = DefaultLoginFailureWindow
	}
	buckets, _ := lru.New[string, *loginWindow](loginBucketCap)
	return &LoginLimiter{
		buckets:   buckets,
		threshold: threshold,
		window:    window,
		now:       time.Now,
	}
}

// Allow reports whether the address may attempt a login right now, and
// counts the attempt when it may. The window is anchored at the first
// admitted attempt; after it expires the next attempt starts a fresh one.
func (l *LoginLimiter) Allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.buckets.Get(addr)
	if !ok || now.Sub(w.windowStart) >= l.window {
		l.buckets.Add(addr, &loginWindow{attempts: 1, windowStart: now})
		return true
	}
	if w.attempts >= l.threshold {
		return false
	}
	w.attempts++
	return true
}

// Reset clears the address's history after a successful login.
func (l *LoginLimiter) Reset(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets.Remove(addr)
}

// ResetAll drops every tracked address. Used when the server is wiped.
func (l *LoginLimiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets.Purge()
}

// Attempts returns the attempt count for an address inside its current
// window. Mainly for tests and diagnostics.
func (l *LoginLimiter) Attempts(addr string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.buckets.Get(addr)
	if !ok || l.now().Sub(w.windowStart) >= l.window {
		return 0
	}
	return w.attempts
}
