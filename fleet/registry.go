package fleet

import (
	"sort"
	"sync"

	"github.com/onnwee/giveaway-sentry/backend/coordinate"
	"github.com/onnwee/giveaway-sentry/backend/telemetry"
)

// Registry holds the fleet's connection handles and the desired
// monitored-channel set the resident accounts should be joined to.
type Registry struct {
	mu        sync.Mutex
	handles   []*Handle
	desired   map[string]struct{}
	blacklist map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		desired:   make(map[string]struct{}),
		blacklist: make(map[string]struct{}),
	}
}

// Add registers a handle with the fleet.
func (r *Registry) Add(h *Handle) {
	r.mu.Lock()
	r.handles = append(r.handles, h)
	n := len(r.handles)
	r.mu.Unlock()
	telemetry.SetFleetSize(n)
}

// Conns returns every handle as a coordinator connection.
func (r *Registry) Conns() []coordinate.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]coordinate.Conn, len(r.handles))
	for i, h := range r.handles {
		out[i] = h
	}
	return out
}

// Resident returns the handles that stay joined to monitored channels.
func (r *Registry) Resident() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Handle
	for _, h := range r.handles {
		if h.Resident() {
			out = append(out, h)
		}
	}
	return out
}

// Transient returns the join-on-demand handles.
func (r *Registry) Transient() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Handle
	for _, h := range r.handles {
		if !h.Resident() {
			out = append(out, h)
		}
	}
	return out
}

// SetDesired replaces the monitored-channel set. Blacklisted channels are
// filtered out regardless of what discovery produced.
func (r *Registry) SetDesired(channels []string) {
	r.mu.Lock()
	r.desired = make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		ch = normalizeChannel(ch)
		if ch == "" {
			continue
		}
		if _, banned := r.blacklist[ch]; banned {
			continue
		}
		r.desired[ch] = struct{}{}
	}
	n := len(r.desired)
	r.mu.Unlock()
	telemetry.SetMonitoredChannels(n)
}

// Desired returns the monitored-channel set, sorted for stable logging.
func (r *Registry) Desired() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.desired))
	for ch := range r.desired {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Monitored reports whether channel is in the desired set.
func (r *Registry) Monitored(channel string) bool {
	ch := normalizeChannel(channel)
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.desired[ch]
	return ok
}

// Blacklist removes a channel from monitoring permanently. The channel is
// dropped from the desired set immediately; reconciliation parts it.
func (r *Registry) Blacklist(channel string) {
	ch := normalizeChannel(channel)
	if ch == "" {
		return
	}
	r.mu.Lock()
	r.blacklist[ch] = struct{}{}
	delete(r.desired, ch)
	n := len(r.desired)
	r.mu.Unlock()
	telemetry.SetMonitoredChannels(n)
}

// Blacklisted reports whether channel has been banned from monitoring.
func (r *Registry) Blacklisted(channel string) bool {
	ch := normalizeChannel(channel)
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.blacklist[ch]
	return ok
}
