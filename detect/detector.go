package detect

import (
	"log/slog"
	"time"
)

// DetectionType says which classification path produced a candidate.
type DetectionType string

const (
	DetectionKnown   DetectionType = "known"
	DetectionLearned DetectionType = "learned"
	DetectionPattern DetectionType = "pattern"
)

// ChatEvent is one inbound chat message as delivered by the transport.
type ChatEvent struct {
	Channel    string
	Username   string
	Text       string
	ReceivedAt time.Time
}

// Candidate is emitted when a message pattern crosses detection thresholds.
type Candidate struct {
	Channel      string
	Command      string
	Type         DetectionType
	UniqueUsers  int
	MessageCount int
	At           time.Time
}

// LearnedRegistry is the learned-command registry surface the detector needs.
// RecordSighting must evaluate promotion on the same call, so the sighting
// that crosses the threshold is itself detectable.
type LearnedRegistry interface {
	RecordSighting(command string) (promoted bool)
}

// AnnounceGate throttles repeat detections of the same (channel, message).
// TryAnnounce must atomically check the cooldown and stamp it.
type AnnounceGate interface {
	TryAnnounce(channel, msg string) bool
}

// Config holds the detector's thresholds. The known path demands fewer
// distinct users than the unknown path because a known command's meaning is
// already certain; unknown tokens need stronger corroboration.
type Config struct {
	KnownCommands      []string
	MinMessageLength   int
	KnownMinUsers      int
	KnownWindow        time.Duration
	UnknownMinUsers    int
	UnknownMinMessages int
	UnknownWindow      time.Duration
	MinEntropy         float64

	// LanguageOK, when set, rejects unknown-path messages whose language is
	// unsupported. Known and learned commands bypass it.
	LanguageOK func(msg string) bool
}

// Detector classifies one message at a time. It does no I/O and never
// suspends; safe for one goroutine per channel over a shared store.
type Detector struct {
	cfg      Config
	known    map[string]struct{}
	stats    *StatStore
	registry LearnedRegistry
	gate     AnnounceGate
	now      func() time.Time
}

func NewDetector(cfg Config, stats *StatStore, registry LearnedRegistry, gate AnnounceGate) *Detector {
	known := make(map[string]struct{}, len(cfg.KnownCommands))
	for _, c := range cfg.KnownCommands {
		known[Normalize(c)] = struct{}{}
	}
	return &Detector{cfg: cfg, known: known, stats: stats, registry: registry, gate: gate, now: time.Now}
}

// Observe processes one chat event and reports whether it produced a
// candidate. Stats are updated before classification so later messages
// benefit from this one's count even when it doesn't qualify itself.
func (d *Detector) Observe(ev ChatEvent) (Candidate, bool) {
	msg := Normalize(ev.Text)
	if len([]rune(msg)) < d.cfg.MinMessageLength {
		return Candidate{}, false
	}

	d.stats.Touch(ev.Channel, msg, ev.Username)

	if _, ok := d.known[msg]; ok {
		count, users := d.stats.CountWithin(ev.Channel, msg, d.cfg.KnownWindow)
		if users >= d.cfg.KnownMinUsers {
			return d.emit(ev.Channel, msg, DetectionKnown, users, count)
		}
		return Candidate{}, false
	}

	if sightingWorthy(msg) && d.registry != nil {
		if promoted := d.registry.RecordSighting(msg); promoted {
			count, users := d.stats.CountWithin(ev.Channel, msg, d.cfg.KnownWindow)
			if users >= d.cfg.KnownMinUsers {
				return d.emit(ev.Channel, msg, DetectionLearned, users, count)
			}
			return Candidate{}, false
		}
	}

	// Unknown-pattern path: single-token, command-shaped, non-degenerate.
	if !commandShaped(msg) {
		return Candidate{}, false
	}
	if Entropy(msg) < d.cfg.MinEntropy {
		return Candidate{}, false
	}
	if d.cfg.LanguageOK != nil && !d.cfg.LanguageOK(msg) {
		return Candidate{}, false
	}
	count, users := d.stats.CountWithin(ev.Channel, msg, d.cfg.UnknownWindow)
	if users < d.cfg.UnknownMinUsers || count < d.cfg.UnknownMinMessages {
		return Candidate{}, false
	}
	return d.emit(ev.Channel, msg, DetectionPattern, users, count)
}

// emit applies the detection cooldown: a re-announcement throttle, not a
// correctness gate. The same pair may re-fire once the cooldown lapses.
func (d *Detector) emit(channel, msg string, typ DetectionType, users, count int) (Candidate, bool) {
	if d.gate != nil && !d.gate.TryAnnounce(channel, msg) {
		slog.Debug("detection suppressed by cooldown",
			slog.String("channel", channel), slog.String("command", msg))
		return Candidate{}, false
	}
	return Candidate{
		Channel:      channel,
		Command:      msg,
		Type:         typ,
		UniqueUsers:  users,
		MessageCount: count,
		At:           d.now(),
	}, true
}
