// Package notify fans detection and participation events out to interested
// listeners (webhooks, logs). Delivery is fire-and-forget; a slow listener
// never blocks the detection path.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/giveaway-sentry/backend/coordinate"
	"github.com/onnwee/giveaway-sentry/backend/detect"
)

// Win describes a giveaway win noticed in chat or a whisper.
type Win struct {
	Account string    `json:"account"`
	Channel string    `json:"channel"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Listener receives engine events. Implementations must tolerate concurrent
// calls.
type Listener interface {
	OnCandidate(ctx context.Context, c detect.Candidate)
	OnReport(ctx context.Context, r coordinate.Report)
	OnWin(ctx context.Context, w Win)
}

const deliveryTimeout = 10 * time.Second

// Dispatcher fans events out to registered listeners, one goroutine per
// delivery.
type Dispatcher struct {
	mu        sync.Mutex
	listeners []Listener
}

func NewDispatcher() *Dispatcher { return &Dispatcher{} }

// Register adds a listener. Not safe to call after dispatching begins from
// multiple goroutines, so wire everything up at startup.
func (d *Dispatcher) Register(l Listener) {
	d.mu.Lock()
	d.listeners = append(d.listeners, l)
	d.mu.Unlock()
}

func (d *Dispatcher) snapshot() []Listener {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Listener, len(d.listeners))
	copy(out, d.listeners)
	return out
}

// Candidate announces a detected giveaway candidate.
func (d *Dispatcher) Candidate(c detect.Candidate) {
	for _, l := range d.snapshot() {
		go deliver(func(ctx context.Context) { l.OnCandidate(ctx, c) })
	}
}

// Report announces a completed coordination round.
func (d *Dispatcher) Report(r coordinate.Report) {
	for _, l := range d.snapshot() {
		go deliver(func(ctx context.Context) { l.OnReport(ctx, r) })
	}
}

// Win announces a detected win.
func (d *Dispatcher) Win(w Win) {
	for _, l := range d.snapshot() {
		go deliver(func(ctx context.Context) { l.OnWin(ctx, w) })
	}
}

func deliver(fn func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("notify listener panicked", slog.Any("panic", r))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()
	fn(ctx)
}
