package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/giveaway-sentry/backend/coordinate"
	"github.com/onnwee/giveaway-sentry/backend/detect"
)

type webhookPayload struct {
	Embeds []struct {
		Title  string `json:"title"`
		Color  int    `json:"color"`
		Fields []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"fields"`
	} `json:"embeds"`
}

func captureWebhook(t *testing.T) (*Webhook, *[]webhookPayload) {
	t.Helper()
	var mu sync.Mutex
	var payloads []webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p webhookPayload
		if err := json.Unmarshal(body, &p); err != nil {
			t.Errorf("webhook payload is not valid JSON: %v", err)
		}
		mu.Lock()
		payloads = append(payloads, p)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return NewWebhook(srv.URL), &payloads
}

func field(p webhookPayload, name string) string {
	for _, f := range p.Embeds[0].Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

func TestWebhookOnCandidate(t *testing.T) {
	w, payloads := captureWebhook(t)

	w.OnCandidate(context.Background(), detect.Candidate{
		Channel:      "somechan",
		Command:      "!enter",
		Type:         detect.DetectionKnown,
		UniqueUsers:  4,
		MessageCount: 4,
		At:           time.Now(),
	})

	if len(*payloads) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(*payloads))
	}
	p := (*payloads)[0]
	if p.Embeds[0].Title != "Giveaway detected" {
		t.Errorf("title = %q", p.Embeds[0].Title)
	}
	if field(p, "Channel") != "somechan" || field(p, "Command") != "!enter" || field(p, "Users") != "4" {
		t.Errorf("fields = %+v", p.Embeds[0].Fields)
	}
}

func TestWebhookOnReportColorsByOutcome(t *testing.T) {
	w, payloads := captureWebhook(t)

	w.OnReport(context.Background(), coordinate.Report{
		Channel: "somechan", Command: "!enter", TotalAccounts: 3, Succeeded: 2, At: time.Now(),
		Failed: []coordinate.AccountFailure{{Account: "bad", Err: "msg_banned"}},
	})
	w.OnReport(context.Background(), coordinate.Report{
		Channel: "somechan", Command: "!enter", TotalAccounts: 3, Succeeded: 0, At: time.Now(),
	})

	if len(*payloads) != 2 {
		t.Fatalf("deliveries = %d, want 2", len(*payloads))
	}
	good, bad := (*payloads)[0], (*payloads)[1]
	if good.Embeds[0].Color != colorGreen || bad.Embeds[0].Color != colorRed {
		t.Errorf("colors = %#x/%#x, want green then red", good.Embeds[0].Color, bad.Embeds[0].Color)
	}
	if field(good, "Succeeded") != "2/3" {
		t.Errorf("succeeded field = %q, want 2/3", field(good, "Succeeded"))
	}
	if field(good, "Failure: bad") != "msg_banned" {
		t.Errorf("per-account failure field missing: %+v", good.Embeds[0].Fields)
	}
}

func TestWebhookOnWin(t *testing.T) {
	w, payloads := captureWebhook(t)

	w.OnWin(context.Background(), Win{Account: "luckybot", Channel: "somechan", Message: "congrats", At: time.Now()})

	if len(*payloads) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(*payloads))
	}
	p := (*payloads)[0]
	if p.Embeds[0].Color != colorGold || field(p, "Account") != "luckybot" {
		t.Errorf("embed = %+v", p.Embeds[0])
	}
}

func TestWebhookWithoutURLIsNoop(t *testing.T) {
	w := &Webhook{}
	// Must not panic or attempt delivery.
	w.OnWin(context.Background(), Win{Account: "a"})
}

type countingListener struct {
	mu         sync.Mutex
	candidates int
	reports    int
	wins       int
	done       chan struct{}
}

func (l *countingListener) OnCandidate(ctx context.Context, c detect.Candidate) {
	l.mu.Lock()
	l.candidates++
	l.mu.Unlock()
	l.done <- struct{}{}
}

func (l *countingListener) OnReport(ctx context.Context, r coordinate.Report) {
	l.mu.Lock()
	l.reports++
	l.mu.Unlock()
	l.done <- struct{}{}
}

func (l *countingListener) OnWin(ctx context.Context, w Win) {
	l.mu.Lock()
	l.wins++
	l.mu.Unlock()
	l.done <- struct{}{}
}

type panickyListener struct{ done chan struct{} }

func (l *panickyListener) OnCandidate(ctx context.Context, c detect.Candidate) {
	defer close(l.done)
	panic("listener bug")
}
func (l *panickyListener) OnReport(ctx context.Context, r coordinate.Report) {}
func (l *panickyListener) OnWin(ctx context.Context, w Win)                  {}

func TestDispatcherFansOut(t *testing.T) {
	d := NewDispatcher()
	l := &countingListener{done: make(chan struct{}, 3)}
	d.Register(l)

	d.Candidate(detect.Candidate{Channel: "ch"})
	d.Report(coordinate.Report{Channel: "ch"})
	d.Win(Win{Channel: "ch"})

	for i := 0; i < 3; i++ {
		select {
		case <-l.done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for deliveries")
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.candidates != 1 || l.reports != 1 || l.wins != 1 {
		t.Errorf("deliveries = %d/%d/%d, want 1 each", l.candidates, l.reports, l.wins)
	}
}

func TestDispatcherSurvivesPanickingListener(t *testing.T) {
	d := NewDispatcher()
	bad := &panickyListener{done: make(chan struct{})}
	good := &countingListener{done: make(chan struct{}, 1)}
	d.Register(bad)
	d.Register(good)

	d.Candidate(detect.Candidate{Channel: "ch"})

	select {
	case <-bad.done:
	case <-time.After(2 * time.Second):
		t.Fatal("panicking listener never ran")
	}
	select {
	case <-good.done:
	case <-time.After(2 * time.Second):
		t.Fatal("healthy listener starved by a panicking neighbor")
	}
}
