// Package ledger tracks two independent keyspaces with timed expiry: the
// detection cooldown per (channel, message) and the at-most-once
// participation record per (channel, command, account). Check-and-set on a
// key is atomic with respect to concurrent callers; this is the sole
// mechanism keeping an account from double-participating when candidates
// for the same key race.
package ledger

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

type participationState int

const (
	stateInProgress participationState = iota
	stateComplete
)

type participation struct {
	state     participationState
	touchedAt time.Time // claim time while in progress, completion time once complete
}

// Ledger is safe for concurrent use by one detector per channel and many
// coordinator fan-out goroutines.
type Ledger struct {
	mu             sync.Mutex
	detections     map[string]time.Time
	participations map[string]participation

	detectionCooldown    time.Duration
	participationTimeout time.Duration
	now                  func() time.Time
}

func New(detectionCooldown, participationTimeout time.Duration) *Ledger {
	return &Ledger{
		detections:           make(map[string]time.Time),
		participations:       make(map[string]participation),
		detectionCooldown:    detectionCooldown,
		participationTimeout: participationTimeout,
		now:                  time.Now,
	}
}

func key(parts ...string) string { return strings.Join(parts, "\x00") }

// TryAnnounce reports whether a detection for (channel, msg) may fire, and
// stamps the cooldown when it may. One atomic step: two concurrent qualifying
// observations yield exactly one true.
func (l *Ledger) TryAnnounce(channel, msg string) bool {
	now := l.now()
	k := key(channel, msg)
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.detections[k]; ok && now.Sub(last) < l.detectionCooldown {
		return false
	}
	l.detections[k] = now
	return true
}

// Begin claims (channel, command, account) for participation. It returns
// false when the key is already claimed or completed within the timeout; a
// true return obligates the caller to later call either Complete or Release.
func (l *Ledger) Begin(channel, command, account string) bool {
	now := l.now()
	k := key(channel, command, account)
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.participations[k]; ok {
		if now.Sub(p.touchedAt) < l.participationTimeout {
			return false
		}
		// Expired entry: the same triple may participate again.
	}
	l.participations[k] = participation{state: stateInProgress, touchedAt: now}
	return true
}

// Complete marks a claimed participation as done; the expiry clock restarts
// from completion time.
func (l *Ledger) Complete(channel, command, account string) {
	k := key(channel, command, account)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.participations[k] = participation{state: stateComplete, touchedAt: l.now()}
}

// Release drops a claim after a failed attempt run so a later candidate for
// the same key can try again. Completed records are left untouched.
func (l *Ledger) Release(channel, command, account string) {
	k := key(channel, command, account)
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.participations[k]; ok && p.state == stateInProgress {
		delete(l.participations, k)
	}
}

// Participated reports whether the triple currently holds a claim or a live
// completion record.
func (l *Ledger) Participated(channel, command, account string) bool {
	now := l.now()
	k := key(channel, command, account)
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.participations[k]
	return ok && now.Sub(p.touchedAt) < l.participationTimeout
}

// Sweep removes expired entries from both keyspaces. It only ever deletes
// entries past their horizon, so it commutes with concurrent check-and-set.
func (l *Ledger) Sweep() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, at := range l.detections {
		if now.Sub(at) >= l.detectionCooldown {
			delete(l.detections, k)
		}
	}
	for k, p := range l.participations {
		if now.Sub(p.touchedAt) >= l.participationTimeout {
			delete(l.participations, k)
		}
	}
}

// StartJanitor sweeps on an interval until ctx is canceled.
func (l *Ledger) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}()
	slog.Debug("ledger janitor started", slog.Duration("interval", interval))
}
