package fleet

import (
	"context"
	"log/slog"
	"time"
)

// Reconcile walks every resident handle and converges its confirmed
// membership onto the desired set: joins what is missing, parts what is
// extra. Transient handles are only asked to leave channels they lingered
// in past a participation.
func (r *Registry) Reconcile(ctx context.Context, joinTimeout time.Duration) {
	desired := r.Desired()
	want := make(map[string]struct{}, len(desired))
	for _, ch := range desired {
		want[ch] = struct{}{}
	}

	for _, h := range r.Resident() {
		if !h.Connected() {
			continue
		}
		have := make(map[string]struct{})
		for _, ch := range h.Channels() {
			have[ch] = struct{}{}
		}
		for ch := range want {
			if _, ok := have[ch]; ok {
				continue
			}
			jctx, cancel := context.WithTimeout(ctx, joinTimeout)
			err := h.Join(jctx, ch)
			cancel()
			if err != nil {
				slog.Warn("reconcile join failed",
					slog.String("account", h.Name()),
					slog.String("channel", ch),
					slog.Any("err", err))
				continue
			}
			slog.Debug("reconcile joined", slog.String("account", h.Name()), slog.String("channel", ch))
		}
		for ch := range have {
			if _, ok := want[ch]; ok {
				continue
			}
			if err := h.Part(ch); err != nil {
				slog.Warn("reconcile part failed",
					slog.String("account", h.Name()),
					slog.String("channel", ch),
					slog.Any("err", err))
			}
		}
	}

	for _, h := range r.Transient() {
		if !h.Connected() {
			continue
		}
		for _, ch := range h.Channels() {
			if r.Blacklisted(ch) {
				_ = h.Part(ch)
			}
		}
	}
}

// StartReconciler converges fleet membership on a fixed cadence.
func (r *Registry) StartReconciler(ctx context.Context, interval, joinTimeout time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Reconcile(ctx, joinTimeout)
			}
		}
	}()
}
