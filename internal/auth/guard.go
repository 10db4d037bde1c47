package auth

import (
	"context"
	"sync"
	"time"

	"payretry/internal/types"
)

// GuardConfig holds the brute force thresholds.
type GuardConfig struct {
	// Failed authentications from one IP within Window before it is blocked.
	IPBlockThreshold int
	Window           time.Duration
}

// DefaultGuardConfig blocks an IP after 20 failures in 15 minutes.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{IPBlockThreshold: 20, Window: 15 * time.Minute}
}

// FailureGuard counts recent authentication failures per IP in memory. Each
// API instance keeps its own counters.
type FailureGuard struct {
	cfg   GuardConfig
	clock types.Clock

	mu       sync.Mutex
	failures map[string][]time.Time
}

// NewFailureGuard creates a FailureGuard. clock may be nil.
func NewFailureGuard(cfg GuardConfig, clock types.Clock) *FailureGuard {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &FailureGuard{cfg: cfg, clock: clock, failures: make(map[string][]time.Time)}
}

// RecordFailure notes a failed authentication from ip.
func (g *FailureGuard) RecordFailure(_ context.Context, ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	g.failures[ip] = append(g.prune(ip, now), now)
}

// IsIPBlocked reports whether ip reached the threshold within the window.
func (g *FailureGuard) IsIPBlocked(_ context.Context, ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	recent := g.prune(ip, g.clock.Now())
	if len(recent) == 0 {
		delete(g.failures, ip)
		return false
	}
	g.failures[ip] = recent
	return len(recent) >= g.cfg.IPBlockThreshold
}

func (g *FailureGuard) prune(ip string, now time.Time) []time.Time {
	since := now.Add(-g.cfg.Window)
	list := g.failures[ip]
	i := 0
	for i < len(list) && !list[i].After(since) {
		i++
	}
	return list[i:]
}
