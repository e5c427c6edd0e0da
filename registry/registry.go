// Package registry persists candidate participation commands and promotes
// them to "learned" status once they have been sighted often enough. Learned
// commands get the same loose detection thresholds as configured known
// commands, because repetition across streams has confirmed their meaning.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Record is a learned-command row. Owned exclusively by the registry; the
// coordinator reports outcomes through RecordOutcome rather than mutating it.
type Record struct {
	Command     string
	Occurrences int
	FirstSeen   time.Time
	LastSeen    time.Time
	Successes   int
	Failures    int
}

// SuccessRate is 0 when no outcomes have been recorded yet.
func (r Record) SuccessRate() float64 {
	total := r.Successes + r.Failures
	if total == 0 {
		return 0
	}
	return float64(r.Successes) / float64(total)
}

// Registry is an in-memory map with optional write-behind persistence. All
// reads and sighting updates are memory-only so the detector never blocks on
// I/O; dirty records are flushed by the sweeper goroutine.
type Registry struct {
	mu             sync.Mutex
	records        map[string]*Record
	dirty          map[string]struct{}
	minOccurrences int
	evictAfter     time.Duration
	store          Store
	now            func() time.Time
}

// Store persists records across restarts. A nil store keeps the registry
// memory-only (tests, or running without a database).
type Store interface {
	Load(ctx context.Context) ([]Record, error)
	Upsert(ctx context.Context, rec Record) error
	Delete(ctx context.Context, command string) error
}

func New(minOccurrences int, evictAfter time.Duration, store Store) *Registry {
	return &Registry{
		records:        make(map[string]*Record),
		dirty:          make(map[string]struct{}),
		minOccurrences: minOccurrences,
		evictAfter:     evictAfter,
		store:          store,
		now:            time.Now,
	}
}

// Warm loads persisted records into memory. Call once before serving.
func (r *Registry) Warm(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	recs, err := r.store.Load(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range recs {
		rec := recs[i]
		r.records[rec.Command] = &rec
	}
	slog.Info("learned command registry warmed", slog.Int("records", len(recs)))
	return nil
}

// RecordSighting increments the command's occurrence count and reports
// whether it is promoted. Promotion is evaluated on this very call, so the
// sighting that crosses the threshold is itself eligible for detection.
func (r *Registry) RecordSighting(command string) bool {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[command]
	if rec == nil {
		rec = &Record{Command: command, FirstSeen: now}
		r.records[command] = rec
	}
	rec.Occurrences++
	rec.LastSeen = now
	r.dirty[command] = struct{}{}
	return rec.Occurrences >= r.minOccurrences
}

// IsPromoted reports whether the command has crossed the sighting threshold.
func (r *Registry) IsPromoted(command string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[command]
	return rec != nil && rec.Occurrences >= r.minOccurrences
}

// RecordOutcome feeds a participation result back for an observed command.
// Unknown commands are ignored; the coordinator also reports for known
// commands, which the registry has no record of.
func (r *Registry) RecordOutcome(command string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[command]
	if rec == nil {
		return
	}
	if success {
		rec.Successes++
	} else {
		rec.Failures++
	}
	r.dirty[command] = struct{}{}
}

// Get returns a copy of the record for command, if present.
func (r *Registry) Get(command string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[command]
	if rec == nil {
		return Record{}, false
	}
	return *rec, true
}

// Sweep flushes dirty records to the store and evicts entries untouched for
// longer than the cleanup horizon. It runs off the detection path.
func (r *Registry) Sweep(ctx context.Context) {
	now := r.now()

	r.mu.Lock()
	var flush []Record
	for cmd := range r.dirty {
		if rec := r.records[cmd]; rec != nil {
			flush = append(flush, *rec)
		}
		delete(r.dirty, cmd)
	}
	var evict []string
	for cmd, rec := range r.records {
		if now.Sub(rec.LastSeen) >= r.evictAfter {
			delete(r.records, cmd)
			evict = append(evict, cmd)
		}
	}
	r.mu.Unlock()

	if r.store == nil {
		return
	}
	for _, rec := range flush {
		if err := r.store.Upsert(ctx, rec); err != nil {
			slog.Warn("registry flush failed", slog.String("command", rec.Command), slog.Any("err", err))
		}
	}
	for _, cmd := range evict {
		if err := r.store.Delete(ctx, cmd); err != nil {
			slog.Warn("registry evict failed", slog.String("command", cmd), slog.Any("err", err))
		}
	}
}

// StartSweeper flushes and evicts on an interval until ctx is canceled.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				// Final flush so sightings survive a clean shutdown.
				r.Sweep(context.WithoutCancel(ctx))
				return
			case <-ticker.C:
				r.Sweep(ctx)
			}
		}
	}()
}
