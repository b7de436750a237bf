// Package restart decides, given a policy and restart history, whether a
// child may restart and after what delay: exponential backoff with a
// clamped exponent and a rolling-window restart budget.
package restart

import (
	"sync"
	"time"

	"github.com/fluidmcp/gateway/internal/model"
)

const maxBackoffExponent = 10

// Policy configures backoff and budget for one server.
type Policy struct {
	Mode             model.RestartPolicy
	InitialDelay     time.Duration
	BackoffMultiplier float64
	MaxDelay         time.Duration
	MaxRestarts      int
	RestartWindow    time.Duration
}

// DefaultPolicy starts at one second and doubles up to a minute.
func DefaultPolicy(mode model.RestartPolicy, maxRestarts int, windowSec int) Policy {
	return Policy{
		Mode:              mode,
		InitialDelay:      1 * time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          60 * time.Second,
		MaxRestarts:       maxRestarts,
		RestartWindow:     time.Duration(windowSec) * time.Second,
	}
}

// Engine tracks restart history per server id and makes restart/backoff
// decisions. Safe for concurrent use.
type Engine struct {
	mu      sync.Mutex
	history map[string][]time.Time // restart timestamps, oldest first
	counts  map[string]int         // lifetime restart count
}

// NewEngine creates an empty Engine.
func NewEngine() *Engine {
	return &Engine{
		history: make(map[string][]time.Time),
		counts:  make(map[string]int),
	}
}

// CanRestart decides whether the server identified by id is permitted to
// restart given exitCode, watchdogFailed, and policy. With a window
// configured the rolling-window count alone governs; otherwise a lifetime
// cap applies.
func (e *Engine) CanRestart(id string, exitCode int, watchdogFailed bool, p Policy) bool {
	switch p.Mode {
	case model.RestartNever:
		return false
	case model.RestartOnFailure:
		if exitCode == 0 && !watchdogFailed {
			return false
		}
	case model.RestartAlways:
		// always eligible, subject to budget below
	default:
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if p.RestartWindow > 0 {
		// Budget is windowed: restarts outside the window don't count
		// against it, so a long-lived server recovers budget over time
		// as old entries age out. Lifetime count is tracked separately
		// for Stats only.
		now := time.Now()
		windowCount := 0
		for _, ts := range e.history[id] {
			if now.Sub(ts) <= p.RestartWindow {
				windowCount++
			}
		}
		return windowCount < p.MaxRestarts
	}

	// No window configured: fall back to a lifetime cap.
	return p.MaxRestarts < 0 || e.counts[id] < p.MaxRestarts
}

// CalculateBackoffDelay returns the delay before the next restart attempt
// for id, using exponent = min(restart_count, 10).
func (e *Engine) CalculateBackoffDelay(id string, p Policy) time.Duration {
	e.mu.Lock()
	attempt := e.counts[id]
	e.mu.Unlock()

	exponent := attempt
	if exponent > maxBackoffExponent {
		exponent = maxBackoffExponent
	}

	delay := float64(p.InitialDelay)
	for i := 0; i < exponent; i++ {
		delay *= p.BackoffMultiplier
	}
	d := time.Duration(delay)
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// RecordRestart appends id's restart to the history and increments its
// lifetime count. A successful transition back to running does not clear
// this history -- entries age out of the rolling window naturally.
func (e *Engine) RecordRestart(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history[id] = append(e.history[id], time.Now())
	e.counts[id]++
}

// ResetHistory clears id's restart history and lifetime count, e.g. after a
// manual intervention.
func (e *Engine) ResetHistory(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.history, id)
	delete(e.counts, id)
}

// CleanupOldHistory drops history entries for id older than window, bounding
// memory growth for long-lived servers with frequent restarts.
func (e *Engine) CleanupOldHistory(id string, window time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entries := e.history[id]
	if len(entries) == 0 {
		return
	}
	cutoff := time.Now().Add(-window)
	kept := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	e.history[id] = kept
}

// Stats reports restart counters for id, used to enrich GET
// /api/servers/{id}/status.
type Stats struct {
	LifetimeRestarts int
	Recent1h         int
	Recent24h        int
}

// GetStats computes Stats for id from its recorded history.
func (e *Engine) GetStats(id string) Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	var s Stats
	s.LifetimeRestarts = e.counts[id]
	for _, ts := range e.history[id] {
		if now.Sub(ts) <= time.Hour {
			s.Recent1h++
		}
		if now.Sub(ts) <= 24*time.Hour {
			s.Recent24h++
		}
	}
	return s
}
