package monitor

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/giveaway-sentry/backend/detect"
	"github.com/onnwee/giveaway-sentry/backend/telemetry"
)

func TestMain(m *testing.M) {
	telemetry.Init()
	os.Exit(m.Run())
}

type fakeAccount struct {
	mu       sync.Mutex
	name     string
	resident bool
	sent     []string
	parted   []string
}

func (a *fakeAccount) Name() string   { return a.name }
func (a *fakeAccount) Resident() bool { return a.resident }

func (a *fakeAccount) Send(ctx context.Context, channel, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, channel+" "+text)
	return nil
}

func (a *fakeAccount) Part(channel string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.parted = append(a.parted, channel)
	return nil
}

type memStore struct {
	mu       sync.Mutex
	wins     []string // "account channel"
	whispers []string // "account from"
}

func (s *memStore) RecordWin(ctx context.Context, account, channel, message string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wins = append(s.wins, account+" "+channel)
	return nil
}

func (s *memStore) RecordWhisper(ctx context.Context, account, fromUser, message string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.whispers = append(s.whispers, account+" "+fromUser)
	return nil
}

type openGate struct{}

func (openGate) TryAnnounce(channel, msg string) bool { return true }

type closedGate struct{}

func (closedGate) TryAnnounce(channel, msg string) bool { return false }

func testMonitorConfig() Config {
	return Config{
		WinnerPatterns:  []string{`congrat`, `you won`, `winner is`},
		WhisperPatterns: []string{`won`, `claim your`},
		TriggerPhrases: map[string]string{
			"type !join to enter": "!join",
			"giveaway keyword is": "!key",
		},
		CelebrateDelay:    2 * time.Second,
		CelebrateMessage:  "PogChamp thank you!",
		CelebratePartWait: 30 * time.Second,
	}
}

// newTestMonitor runs scheduled work inline and captures trigger candidates.
func newTestMonitor(cfg Config, store WinStore, gate AnnounceGate) (*Monitor, *[]detect.Candidate) {
	var cands []detect.Candidate
	m := New(cfg, store, nil, gate, func(ctx context.Context, c detect.Candidate) {
		cands = append(cands, c)
	})
	m.schedule = func(d time.Duration, fn func()) { fn() }
	return m, &cands
}

func at() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

func TestWinDetectedAndCelebrated(t *testing.T) {
	store := &memStore{}
	m, _ := newTestMonitor(testMonitorConfig(), store, openGate{})
	acct := &fakeAccount{name: "luckybot", resident: true}

	m.ObserveChannelMessage(context.Background(), acct, "somechan", "streamer",
		"Congrats @LuckyBot you won the giveaway!", at())

	if len(store.wins) != 1 || store.wins[0] != "luckybot somechan" {
		t.Fatalf("wins = %v, want one for luckybot in somechan", store.wins)
	}
	if len(acct.sent) != 1 || acct.sent[0] != "somechan PogChamp thank you!" {
		t.Errorf("sent = %v, want the celebration message", acct.sent)
	}
	if len(acct.parted) != 0 {
		t.Error("resident winner must stay in the channel")
	}
}

func TestTransientWinnerLingersThenParts(t *testing.T) {
	m, _ := newTestMonitor(testMonitorConfig(), &memStore{}, openGate{})
	acct := &fakeAccount{name: "scout"}

	m.ObserveChannelMessage(context.Background(), acct, "somechan", "streamer",
		"the winner is scout!", at())

	if len(acct.parted) != 1 || acct.parted[0] != "somechan" {
		t.Errorf("parted = %v, want [somechan] after the linger delay", acct.parted)
	}
}

func TestWinRequiresMentionAndPattern(t *testing.T) {
	store := &memStore{}
	m, _ := newTestMonitor(testMonitorConfig(), store, openGate{})
	acct := &fakeAccount{name: "luckybot", resident: true}

	// Pattern without the account name.
	m.ObserveChannelMessage(context.Background(), acct, "ch", "streamer", "congrats to someone_else!", at())
	// Account name without a winner pattern.
	m.ObserveChannelMessage(context.Background(), acct, "ch", "viewer", "luckybot is in chat again", at())

	if len(store.wins) != 0 {
		t.Errorf("wins = %v, want none without both mention and pattern", store.wins)
	}
}

func TestTriggerPhraseSynthesizesCandidate(t *testing.T) {
	m, cands := newTestMonitor(testMonitorConfig(), &memStore{}, openGate{})
	acct := &fakeAccount{name: "luckybot", resident: true}

	m.ObserveChannelMessage(context.Background(), acct, "somechan", "streamer",
		"Type !JOIN to enter the raffle", at())

	if len(*cands) != 1 {
		t.Fatalf("candidates = %v, want one", *cands)
	}
	c := (*cands)[0]
	if c.Channel != "somechan" || c.Command != "!join" || c.Type != detect.DetectionKnown {
		t.Errorf("candidate = %+v, want !join known in somechan", c)
	}
}

func TestTriggerPhraseWithDiacriticsMatches(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.TriggerPhrases = map[string]string{
		"Digite  !Tícket para entrar": "!ticket",
	}
	m, cands := newTestMonitor(cfg, &memStore{}, openGate{})
	acct := &fakeAccount{name: "luckybot", resident: true}

	m.ObserveChannelMessage(context.Background(), acct, "somechan", "streamer",
		"digite !ticket para entrar no sorteio", at())

	if len(*cands) != 1 {
		t.Fatalf("candidates = %v, want one despite diacritics and spacing in the configured phrase", *cands)
	}
	if c := (*cands)[0]; c.Command != "!ticket" {
		t.Errorf("candidate = %+v, want !ticket", c)
	}
}

func TestTriggerPhraseGatedByCooldown(t *testing.T) {
	m, cands := newTestMonitor(testMonitorConfig(), &memStore{}, closedGate{})
	acct := &fakeAccount{name: "luckybot", resident: true}

	m.ObserveChannelMessage(context.Background(), acct, "somechan", "streamer",
		"type !join to enter", at())

	if len(*cands) != 0 {
		t.Errorf("candidates = %v, want none while the cooldown gate holds", *cands)
	}
}

func TestWhisperRecordedAndWinFlagged(t *testing.T) {
	store := &memStore{}
	m, _ := newTestMonitor(testMonitorConfig(), store, openGate{})

	m.ObserveWhisper(context.Background(), "luckybot", "streamer",
		"You WON! claim your prize at example.com", at())

	if len(store.whispers) != 1 || store.whispers[0] != "luckybot streamer" {
		t.Errorf("whispers = %v, want one from streamer", store.whispers)
	}
	if len(store.wins) != 1 || store.wins[0] != "luckybot whisper:streamer" {
		t.Errorf("wins = %v, want the whisper win recorded", store.wins)
	}
}

func TestWhisperWithoutWinPatternOnlyRecorded(t *testing.T) {
	store := &memStore{}
	m, _ := newTestMonitor(testMonitorConfig(), store, openGate{})

	m.ObserveWhisper(context.Background(), "luckybot", "someuser", "hey, nice stream", at())

	if len(store.whispers) != 1 {
		t.Error("every whisper should be persisted")
	}
	if len(store.wins) != 0 {
		t.Errorf("wins = %v, want none for a plain whisper", store.wins)
	}
}

func TestInvalidPatternsSkipped(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.WinnerPatterns = []string{`[unclosed`, `congrat`, ``}
	store := &memStore{}
	m, _ := newTestMonitor(cfg, store, openGate{})
	acct := &fakeAccount{name: "luckybot", resident: true}

	m.ObserveChannelMessage(context.Background(), acct, "ch", "streamer", "congrats luckybot!", at())

	if len(store.wins) != 1 {
		t.Error("valid patterns should survive an invalid neighbor")
	}
}

func TestNoCelebrationWhenUnconfigured(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.CelebrateMessage = ""
	m, _ := newTestMonitor(cfg, &memStore{}, openGate{})
	acct := &fakeAccount{name: "luckybot", resident: true}

	m.ObserveChannelMessage(context.Background(), acct, "ch", "streamer", "congrats luckybot!", at())

	if len(acct.sent) != 0 {
		t.Errorf("sent = %v, want no celebration without a configured message", acct.sent)
	}
}
