package server

import (
	"testing"
	"time"

	"github.com/lawnchairsociety/balancelab/internal/config"
)

// expireLockout ends the current lockout of ip without sleeping.
func expireLockout(rl *RejectLimiter, ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if info, ok := rl.clients[ip]; ok {
		info.lockedUntil = time.Now().Add(-time.Millisecond)
	}
}

func TestRejectLimiter_Basic(t *testing.T) {
	rl := NewRejectLimiter(config.RateLimitConfig{
		MaxRejected:       3,
		LockoutSeconds:    1,
		MaxLockoutSeconds: 10,
	})
	defer rl.Stop()

	ip := "192.168.1.1"

	if locked, _ := rl.Reject(ip); locked {
		t.Error("first rejection should not trigger lockout")
	}
	if locked, _ := rl.Reject(ip); locked {
		t.Error("second rejection should not trigger lockout")
	}

	locked, duration := rl.Reject(ip)
	if !locked {
		t.Error("third rejection should trigger lockout")
	}
	if duration != time.Second {
		t.Errorf("lockout duration = %v, want 1s", duration)
	}

	if isLocked, _ := rl.IsLocked(ip); !isLocked {
		t.Error("IP should be locked")
	}
}

func TestRejectLimiter_AcceptClears(t *testing.T) {
	rl := NewRejectLimiter(config.RateLimitConfig{
		MaxRejected:       3,
		LockoutSeconds:    1,
		MaxLockoutSeconds: 10,
	})
	defer rl.Stop()

	ip := "192.168.1.1"
	rl.Reject(ip)
	rl.Reject(ip)

	rl.Accept(ip)
	if got := rl.Rejected(ip); got != 0 {
		t.Errorf("Rejected after Accept = %d, want 0", got)
	}

	if locked, _ := rl.Reject(ip); locked {
		t.Error("first rejection after accept should not trigger lockout")
	}
	if locked, _ := rl.Reject(ip); locked {
		t.Error("second rejection after accept should not trigger lockout")
	}
}

func TestRejectLimiter_ExponentialBackoff(t *testing.T) {
	rl := NewRejectLimiter(config.RateLimitConfig{
		MaxRejected:       1,
		LockoutSeconds:    1,
		MaxLockoutSeconds: 10,
	})
	defer rl.Stop()

	ip := "192.168.1.1"
	for _, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second} {
		locked, d := rl.Reject(ip)
		if !locked || d != want {
			t.Errorf("lockout = %v (locked %v), want %v", d, locked, want)
		}
		expireLockout(rl, ip)
	}
}

func TestRejectLimiter_WhileLocked(t *testing.T) {
	rl := NewRejectLimiter(config.RateLimitConfig{MaxRejected: 1, LockoutSeconds: 60, MaxLockoutSeconds: 60})
	defer rl.Stop()

	ip := "192.168.1.1"
	rl.Reject(ip)

	locked, remaining := rl.Reject(ip)
	if !locked || remaining <= 0 || remaining > time.Minute {
		t.Errorf("rejection while locked = %v, %v", locked, remaining)
	}
	if got := rl.Rejected(ip); got != 0 {
		t.Errorf("rejections while locked were counted: %d", got)
	}
}

func TestRejectLimiter_MultipleIPs(t *testing.T) {
	rl := NewRejectLimiter(config.RateLimitConfig{
		MaxRejected:       2,
		LockoutSeconds:    1,
		MaxLockoutSeconds: 10,
	})
	defer rl.Stop()

	rl.Reject("192.168.1.1")
	rl.Reject("192.168.1.1")

	if locked, _ := rl.IsLocked("192.168.1.1"); !locked {
		t.Error("IP1 should be locked")
	}
	if locked, _ := rl.IsLocked("192.168.1.2"); locked {
		t.Error("IP2 should not be locked")
	}
	if locked, _ := rl.Reject("192.168.1.2"); locked {
		t.Error("first rejection for IP2 should not trigger lockout")
	}
}

func TestRejectLimiter_Defaults(t *testing.T) {
	rl := NewRejectLimiter(config.RateLimitConfig{})
	defer rl.Stop()

	if rl.maxRejected != 10 || rl.lockout != 30*time.Second || rl.maxLockout != 30*time.Second {
		t.Errorf("defaults = %d/%v/%v", rl.maxRejected, rl.lockout, rl.maxLockout)
	}
}

func TestRejectLimiter_Cleanup(t *testing.T) {
	rl := NewRejectLimiter(config.RateLimitConfig{MaxRejected: 1, LockoutSeconds: 1, MaxLockoutSeconds: 1})
	defer rl.Stop()

	rl.Reject("192.168.1.1") // locked
	rl.Accept("192.168.1.2") // no entry
	rl.Reject("192.168.1.3")
	expireLockout(rl, "192.168.1.3")

	rl.cleanup(time.Now().Add(11 * time.Minute))

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.clients) != 0 {
		t.Errorf("cleanup left %d entries", len(rl.clients))
	}
}
