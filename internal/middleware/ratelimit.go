package middleware

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultFailuresPerMinute = 10
	defaultMaxTrackedClients = 10000
	defaultSweepEvery        = time.Minute
	defaultIdleAfter         = 5 * time.Minute
)

// ThrottleConfig tunes the auth failure throttle. Zero values fall back to
// the package defaults.
type ThrottleConfig struct {
	// FailuresPerMinute is the sustained rate of failed attempts a single
	// client may make; it is also the burst allowance.
	FailuresPerMinute int

	// MaxTrackedClients caps the tracking map. When a new client would push
	// the map past the cap, the longest-idle client is dropped.
	MaxTrackedClients int

	// SweepEvery and IdleAfter control the background sweep that forgets
	// clients with no recent activity.
	SweepEvery time.Duration
	IdleAfter  time.Duration
}

func (c *ThrottleConfig) applyDefaults() {
	if c.FailuresPerMinute <= 0 {
		c.FailuresPerMinute = defaultFailuresPerMinute
	}
	if c.MaxTrackedClients <= 0 {
		c.MaxTrackedClients = defaultMaxTrackedClients
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = defaultSweepEvery
	}
	if c.IdleAfter <= 0 {
		c.IdleAfter = defaultIdleAfter
	}
}

// clientState holds the token bucket for one client IP. touched is updated on
// every interaction so the sweep and the eviction both see real activity.
type clientState struct {
	bucket  *rate.Limiter
	touched time.Time
}

// AuthThrottle throttles repeated authentication failures per client IP.
// Clients with no recorded failures are never throttled; each failure drains
// a token from the client's bucket and the client is rejected once the
// bucket runs dry.
type AuthThrottle struct {
	cfg    ThrottleConfig
	cancel context.CancelFunc

	mu      sync.Mutex
	clients map[string]*clientState
}

// NewAuthThrottle starts a throttle and its background sweep. The sweep runs
// until ctx is cancelled or Stop is called.
func NewAuthThrottle(ctx context.Context, cfg ThrottleConfig) *AuthThrottle {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(ctx)
	t := &AuthThrottle{
		cfg:     cfg,
		cancel:  cancel,
		clients: make(map[string]*clientState),
	}
	go t.sweep(ctx)
	return t
}

// Allow reports whether ip may attempt authentication. It does not count as
// an attempt and never creates tracking state.
func (t *AuthThrottle) Allow(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.clients[ip]
	if !ok {
		return true
	}
	state.touched = time.Now()
	return state.bucket.Allow()
}

// Fail records a failed attempt for ip and reports whether the client is
// still within its allowance.
func (t *AuthThrottle) Fail(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.stateLocked(ip).bucket.Allow()
}

// Stop halts the background sweep.
func (t *AuthThrottle) Stop() {
	t.cancel()
}

func (t *AuthThrottle) stateLocked(ip string) *clientState {
	now := time.Now()
	state, ok := t.clients[ip]
	if ok {
		state.touched = now
		return state
	}

	if len(t.clients) >= t.cfg.MaxTrackedClients {
		t.evictIdlestLocked()
	}
	state = &clientState{
		bucket:  rate.NewLimiter(rate.Limit(float64(t.cfg.FailuresPerMinute)/60.0), t.cfg.FailuresPerMinute),
		touched: now,
	}
	t.clients[ip] = state
	return state
}

func (t *AuthThrottle) evictIdlestLocked() {
	var victim string
	var idlest time.Time
	for ip, state := range t.clients {
		if victim == "" || state.touched.Before(idlest) {
			victim = ip
			idlest = state.touched
		}
	}
	if victim != "" {
		delete(t.clients, victim)
	}
}

func (t *AuthThrottle) sweep(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.SweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.forgetIdle()
		}
	}
}

func (t *AuthThrottle) forgetIdle() {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-t.cfg.IdleAfter)
	for ip, state := range t.clients {
		if state.touched.Before(cutoff) {
			delete(t.clients, ip)
		}
	}
}

// ClientIP strips the port from a RemoteAddr, returning the input unchanged
// when it carries no port.
func ClientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
