package server

import (
	"sync"
	"time"

	"github.com/lawnchairsociety/balancelab/internal/config"
)

// RejectLimiter counts requests the service refused (malformed JSON, unknown
// kinds, oversized runs) per IP and locks an IP out once it reaches the
// limit. Each further lockout doubles, up to a maximum.
type RejectLimiter struct {
	mu              sync.Mutex
	clients         map[string]*rejectInfo
	maxRejected     int
	lockout         time.Duration
	maxLockout      time.Duration
	cleanupInterval time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
}

type rejectInfo struct {
	rejected     int
	lockedUntil  time.Time
	lockoutCount int
}

// NewRejectLimiter creates a limiter and starts its cleanup goroutine.
func NewRejectLimiter(cfg config.RateLimitConfig) *RejectLimiter {
	rl := &RejectLimiter{
		clients:         make(map[string]*rejectInfo),
		maxRejected:     cfg.MaxRejected,
		lockout:         time.Duration(cfg.LockoutSeconds) * time.Second,
		maxLockout:      time.Duration(cfg.MaxLockoutSeconds) * time.Second,
		cleanupInterval: 5 * time.Minute,
		stop:            make(chan struct{}),
	}

	if rl.maxRejected <= 0 {
		rl.maxRejected = 10
	}
	if rl.lockout <= 0 {
		rl.lockout = 30 * time.Second
	}
	if rl.maxLockout < rl.lockout {
		rl.maxLockout = rl.lockout
	}

	go rl.cleanupLoop()
	return rl
}

// Stop stops the cleanup goroutine.
func (rl *RejectLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// IsLocked reports whether ip is locked out and for how much longer.
func (rl *RejectLimiter) IsLocked(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	info, ok := rl.clients[ip]
	if !ok {
		return false, 0
	}
	if remaining := time.Until(info.lockedUntil); remaining > 0 {
		return true, remaining
	}
	return false, 0
}

// Reject records one refused request from ip. It returns true, with the
// lockout duration, when ip is now locked out.
func (rl *RejectLimiter) Reject(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	info, ok := rl.clients[ip]
	if !ok {
		info = &rejectInfo{}
		rl.clients[ip] = info
	}

	if remaining := time.Until(info.lockedUntil); remaining > 0 {
		return true, remaining
	}

	info.rejected++
	if info.rejected < rl.maxRejected {
		return false, 0
	}

	info.lockoutCount++
	d := rl.lockout
	for i := 1; i < info.lockoutCount && d < rl.maxLockout; i++ {
		if d >= rl.maxLockout/2 {
			d = rl.maxLockout
			break
		}
		d *= 2
	}
	if d > rl.maxLockout {
		d = rl.maxLockout
	}
	info.lockedUntil = time.Now().Add(d)
	info.rejected = 0
	return true, d
}

// Accept clears the rejected count of ip after a well-formed request. Past
// lockouts still count toward the backoff.
func (rl *RejectLimiter) Accept(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if info, ok := rl.clients[ip]; ok {
		info.rejected = 0
	}
}

// Rejected returns the current rejected count of ip.
func (rl *RejectLimiter) Rejected(ip string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if info, ok := rl.clients[ip]; ok {
		return info.rejected
	}
	return 0
}

func (rl *RejectLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.cleanup(time.Now())
		}
	}
}

// cleanup forgets IPs whose last lockout ended more than ten minutes before
// now and that have nothing pending.
func (rl *RejectLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-10 * time.Minute)
	for ip, info := range rl.clients {
		if info.lockedUntil.Before(cutoff) && info.rejected == 0 {
			delete(rl.clients, ip)
		}
	}
}
