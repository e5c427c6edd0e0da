package detect

import (
	"context"
	"log/slog"
	"sync"
)

const workerBuffer = 256

// Sink receives candidates produced by the per-channel workers.
type Sink func(ctx context.Context, cand Candidate)

// Dispatcher fans chat events out to one worker goroutine per channel, so
// events for a channel are observed in arrival order (window correctness
// depends on it) while distinct channels proceed in parallel.
type Dispatcher struct {
	mu       sync.Mutex
	workers  map[string]chan ChatEvent
	detector *Detector
	sink     Sink
}

func NewDispatcher(detector *Detector, sink Sink) *Dispatcher {
	return &Dispatcher{
		workers:  make(map[string]chan ChatEvent),
		detector: detector,
		sink:     sink,
	}
}

// Dispatch routes an event to its channel worker, starting one on first
// sight. When a worker's buffer is full the event is dropped: chat is a
// lossy signal and backpressure must not stall the transport callback.
func (p *Dispatcher) Dispatch(ctx context.Context, ev ChatEvent) {
	p.mu.Lock()
	ch, ok := p.workers[ev.Channel]
	if !ok {
		ch = make(chan ChatEvent, workerBuffer)
		p.workers[ev.Channel] = ch
		go p.run(ctx, ev.Channel, ch)
	}
	p.mu.Unlock()

	select {
	case ch <- ev:
	default:
		slog.Warn("channel worker saturated; dropping event", slog.String("channel", ev.Channel))
	}
}

func (p *Dispatcher) run(ctx context.Context, channel string, events <-chan ChatEvent) {
	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			delete(p.workers, channel)
			p.mu.Unlock()
			return
		case ev := <-events:
			if cand, ok := p.detector.Observe(ev); ok {
				p.sink(ctx, cand)
			}
		}
	}
}
