package ledger

import (
	"sync"
	"testing"
	"time"
)

func newTestLedger() (*Ledger, *time.Time) {
	l := New(5*time.Minute, 10*time.Minute)
	now := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestTryAnnounceCooldown(t *testing.T) {
	l, now := newTestLedger()

	if !l.TryAnnounce("ch", "!enter") {
		t.Fatal("first announce should pass")
	}
	if l.TryAnnounce("ch", "!enter") {
		t.Fatal("second announce within cooldown should be suppressed")
	}
	if !l.TryAnnounce("ch", "!other") {
		t.Fatal("different message should not share the cooldown")
	}
	if !l.TryAnnounce("other", "!enter") {
		t.Fatal("different channel should not share the cooldown")
	}

	*now = now.Add(5 * time.Minute)
	if !l.TryAnnounce("ch", "!enter") {
		t.Fatal("announce should pass again after cooldown lapses")
	}
}

func TestBeginAtMostOnce(t *testing.T) {
	l, _ := newTestLedger()

	if !l.Begin("ch", "!enter", "acct1") {
		t.Fatal("first Begin should claim")
	}
	if l.Begin("ch", "!enter", "acct1") {
		t.Fatal("second Begin for a live claim must fail")
	}
	if !l.Begin("ch", "!enter", "acct2") {
		t.Fatal("another account is an independent triple")
	}
	if !l.Begin("ch", "!join", "acct1") {
		t.Fatal("another command is an independent triple")
	}
}

func TestCompleteBlocksUntilExpiry(t *testing.T) {
	l, now := newTestLedger()

	if !l.Begin("ch", "!enter", "acct1") {
		t.Fatal("claim failed")
	}
	l.Complete("ch", "!enter", "acct1")
	if l.Begin("ch", "!enter", "acct1") {
		t.Fatal("completed participation must block a re-claim")
	}
	if !l.Participated("ch", "!enter", "acct1") {
		t.Fatal("Participated should report the live completion")
	}

	*now = now.Add(10 * time.Minute)
	if !l.Begin("ch", "!enter", "acct1") {
		t.Fatal("the same giveaway re-announced after expiry is a new participation")
	}
}

func TestReleaseAllowsRetryByLaterCandidate(t *testing.T) {
	l, _ := newTestLedger()

	if !l.Begin("ch", "!enter", "acct1") {
		t.Fatal("claim failed")
	}
	l.Release("ch", "!enter", "acct1")
	if !l.Begin("ch", "!enter", "acct1") {
		t.Fatal("released claim should be claimable again")
	}
}

func TestReleaseDoesNotDropCompletion(t *testing.T) {
	l, _ := newTestLedger()

	l.Begin("ch", "!enter", "acct1")
	l.Complete("ch", "!enter", "acct1")
	l.Release("ch", "!enter", "acct1")
	if l.Begin("ch", "!enter", "acct1") {
		t.Fatal("Release must not erase a completion record")
	}
}

func TestConcurrentBeginSingleWinner(t *testing.T) {
	l, _ := newTestLedger()

	const goroutines = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Begin("ch", "!enter", "acct1") {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)
	n := 0
	for range wins {
		n++
	}
	if n != 1 {
		t.Errorf("%d goroutines claimed, want exactly 1", n)
	}
}

func TestSweepDropsExpiredOnly(t *testing.T) {
	l, now := newTestLedger()

	l.TryAnnounce("ch", "old")
	*now = now.Add(4 * time.Minute)
	l.TryAnnounce("ch", "new")
	*now = now.Add(3 * time.Minute) // old: 7m, new: 3m against a 5m cooldown

	l.Sweep()

	if l.TryAnnounce("ch", "new") {
		t.Error("unexpired detection should survive the sweep")
	}
	if !l.TryAnnounce("ch", "old") {
		t.Error("expired detection should have been swept")
	}
}

func TestSweepDropsExpiredParticipations(t *testing.T) {
	l, now := newTestLedger()

	l.Begin("ch", "!enter", "acct1")
	l.Complete("ch", "!enter", "acct1")
	*now = now.Add(11 * time.Minute)

	l.Sweep()

	if !l.Begin("ch", "!enter", "acct1") {
		t.Error("expired participation should have been swept")
	}
}
