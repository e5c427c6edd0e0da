// Package monitor watches chat and whispers for outcomes that follow a
// participation: win announcements mentioning a fleet account, whispers from
// broadcasters, and trigger phrases that invite entry with a specific
// command.
package monitor

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/onnwee/giveaway-sentry/backend/detect"
	"github.com/onnwee/giveaway-sentry/backend/notify"
	"github.com/onnwee/giveaway-sentry/backend/telemetry"
)

// AccountConn is the slice of a fleet handle the monitor acts through.
type AccountConn interface {
	Name() string
	Resident() bool
	Send(ctx context.Context, channel, text string) error
	Part(channel string) error
}

// Config controls outcome detection and the celebration flow.
type Config struct {
	WinnerPatterns    []string          // case-insensitive regexes matched against chat text
	WhisperPatterns   []string          // matched against whisper text
	TriggerPhrases    map[string]string // normalized phrase -> command to send
	CelebrateDelay    time.Duration     // wait before thanking, looks less scripted
	CelebrateMessage  string
	CelebratePartWait time.Duration // how long a transient winner lingers before parting
}

// WinStore persists detected wins and received whispers.
type WinStore interface {
	RecordWin(ctx context.Context, account, channel, message string, at time.Time) error
	RecordWhisper(ctx context.Context, account, fromUser, message string, at time.Time) error
}

// TriggerSink receives synthesized candidates from trigger phrases.
type TriggerSink func(ctx context.Context, c detect.Candidate)

type Monitor struct {
	cfg             Config
	winnerPatterns  []*regexp.Regexp
	whisperPatterns []*regexp.Regexp
	store           WinStore
	events          *notify.Dispatcher
	triggers        TriggerSink
	gate            AnnounceGate

	now      func() time.Time
	schedule func(d time.Duration, fn func())
}

// AnnounceGate deduplicates trigger-phrase firings per channel, the same
// cooldown the detector applies to candidates.
type AnnounceGate interface {
	TryAnnounce(channel, msg string) bool
}

func New(cfg Config, store WinStore, events *notify.Dispatcher, gate AnnounceGate, triggers TriggerSink) *Monitor {
	m := &Monitor{
		cfg:      cfg,
		store:    store,
		events:   events,
		triggers: triggers,
		gate:     gate,
		now:      time.Now,
		schedule: func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
	}
	// Phrase keys are matched against normalized chat text, so they must go
	// through the same normalization or diacritics and irregular whitespace
	// in the configured phrase can never match.
	if len(cfg.TriggerPhrases) > 0 {
		phrases := make(map[string]string, len(cfg.TriggerPhrases))
		for phrase, command := range cfg.TriggerPhrases {
			phrases[detect.Normalize(phrase)] = command
		}
		m.cfg.TriggerPhrases = phrases
	}
	m.winnerPatterns = compilePatterns(cfg.WinnerPatterns)
	m.whisperPatterns = compilePatterns(cfg.WhisperPatterns)
	return m
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if p == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			slog.Warn("skipping invalid winner pattern", slog.String("pattern", p), slog.Any("err", err))
			continue
		}
		out = append(out, re)
	}
	return out
}

// ObserveChannelMessage checks one chat line for a win mentioning the account
// and for trigger phrases. Called from the resident message pipeline, so it
// must stay cheap.
func (m *Monitor) ObserveChannelMessage(ctx context.Context, conn AccountConn, channel, username, text string, at time.Time) {
	if m.mentionsAccount(text, conn.Name()) {
		if m.matchesAny(m.winnerPatterns, text) {
			m.handleWin(ctx, conn, channel, text, at)
			return
		}
		telemetry.MentionsObserved.Inc()
		slog.Debug("account mentioned",
			slog.String("account", conn.Name()),
			slog.String("channel", channel),
			slog.String("from", username))
	}
	m.checkTriggers(ctx, channel, text, at)
}

// ObserveWhisper records an incoming whisper and flags it as a win when it
// matches the whisper patterns. Broadcasters often deliver prizes this way.
func (m *Monitor) ObserveWhisper(ctx context.Context, account, fromUser, text string, at time.Time) {
	telemetry.WhispersReceived.Inc()
	if m.store != nil {
		if err := m.store.RecordWhisper(ctx, account, fromUser, text, at); err != nil {
			slog.Warn("whisper persist failed", slog.String("account", account), slog.Any("err", err))
		}
	}
	slog.Info("whisper received",
		slog.String("account", account),
		slog.String("from", fromUser))
	if m.matchesAny(m.whisperPatterns, text) {
		m.recordWin(ctx, account, "whisper:"+fromUser, text, at)
	}
}

func (m *Monitor) mentionsAccount(text, account string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(account))
}

func (m *Monitor) matchesAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func (m *Monitor) handleWin(ctx context.Context, conn AccountConn, channel, text string, at time.Time) {
	m.recordWin(ctx, conn.Name(), channel, text, at)

	if m.cfg.CelebrateMessage != "" {
		delay := m.cfg.CelebrateDelay
		name := conn.Name()
		m.schedule(delay, func() {
			cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := conn.Send(cctx, channel, m.cfg.CelebrateMessage); err != nil {
				slog.Warn("celebration send failed",
					slog.String("account", name),
					slog.String("channel", channel),
					slog.Any("err", err))
			}
		})
	}
	// A transient winner lingers so the broadcaster can reach it, then leaves.
	if !conn.Resident() && m.cfg.CelebratePartWait > 0 {
		m.schedule(m.cfg.CelebratePartWait, func() {
			_ = conn.Part(channel)
		})
	}
}

func (m *Monitor) recordWin(ctx context.Context, account, channel, text string, at time.Time) {
	telemetry.WinsDetected.Inc()
	slog.Info("win detected",
		slog.String("account", account),
		slog.String("channel", channel))
	if m.store != nil {
		if err := m.store.RecordWin(ctx, account, channel, text, at); err != nil {
			slog.Warn("win persist failed", slog.String("account", account), slog.Any("err", err))
		}
	}
	if m.events != nil {
		m.events.Win(notify.Win{Account: account, Channel: channel, Message: text, At: at})
	}
}

// checkTriggers scans for broadcaster-style invitations ("type !join to
// enter") and synthesizes a candidate for the mapped command.
func (m *Monitor) checkTriggers(ctx context.Context, channel, text string, at time.Time) {
	if len(m.cfg.TriggerPhrases) == 0 || m.triggers == nil {
		return
	}
	normalized := detect.Normalize(text)
	for phrase, command := range m.cfg.TriggerPhrases {
		if !strings.Contains(normalized, phrase) {
			continue
		}
		if m.gate != nil && !m.gate.TryAnnounce(channel, command) {
			continue
		}
		telemetry.CountCandidate(string(detect.DetectionKnown))
		slog.Info("trigger phrase matched",
			slog.String("channel", channel),
			slog.String("phrase", phrase),
			slog.String("command", command))
		m.triggers(ctx, detect.Candidate{
			Channel: channel,
			Command: command,
			Type:    detect.DetectionKnown,
			At:      at,
		})
		return
	}
}
