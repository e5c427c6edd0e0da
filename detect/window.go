package detect

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type observation struct {
	at   time.Time
	user string
}

type messageStat struct {
	obs []observation
}

// StatStore keeps per-(channel, normalized message) observation histories
// within a sliding retention window. Eviction is lazy on touch plus a
// periodic sweep that drops fully-expired entries.
type StatStore struct {
	mu        sync.Mutex
	channels  map[string]map[string]*messageStat
	retention time.Duration
	now       func() time.Time
}

// NewStatStore creates a store that retains observations for at most
// retention (callers count within smaller windows via CountWithin).
func NewStatStore(retention time.Duration) *StatStore {
	return &StatStore{
		channels:  make(map[string]map[string]*messageStat),
		retention: retention,
		now:       time.Now,
	}
}

// Touch records one observation of msg by user in channel and prunes
// expired observations for that key.
func (s *StatStore) Touch(channel, msg, user string) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.channels[channel]
	if ch == nil {
		ch = make(map[string]*messageStat)
		s.channels[channel] = ch
	}
	st := ch[msg]
	if st == nil {
		st = &messageStat{}
		ch[msg] = st
	}
	st.prune(now.Add(-s.retention))
	st.obs = append(st.obs, observation{at: now, user: user})
}

// CountWithin returns (messageCount, uniqueUsers) for msg in channel within
// the trailing window. Observations older than the window never count, even
// if they have not been swept yet.
func (s *StatStore) CountWithin(channel, msg string, window time.Duration) (int, int) {
	cutoff := s.now().Add(-window)
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.channels[channel][msg]
	if st == nil {
		return 0, 0
	}
	count := 0
	users := make(map[string]struct{})
	for _, o := range st.obs {
		if o.at.After(cutoff) {
			count++
			users[o.user] = struct{}{}
		}
	}
	return count, len(users)
}

// Sweep removes expired observations and deletes empty entries and channels.
func (s *StatStore) Sweep() {
	cutoff := s.now().Add(-s.retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	for channel, msgs := range s.channels {
		for msg, st := range msgs {
			st.prune(cutoff)
			if len(st.obs) == 0 {
				delete(msgs, msg)
			}
		}
		if len(msgs) == 0 {
			delete(s.channels, channel)
		}
	}
}

// StartSweeper runs Sweep on an interval until ctx is canceled.
func (s *StatStore) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
	slog.Debug("stat store sweeper started", slog.Duration("interval", interval))
}

func (st *messageStat) prune(cutoff time.Time) {
	keep := st.obs[:0]
	for _, o := range st.obs {
		if o.at.After(cutoff) {
			keep = append(keep, o)
		}
	}
	st.obs = keep
}
