// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesObserved        prometheus.Counter
	CandidatesDetected      *prometheus.CounterVec
	ParticipationsSucceeded prometheus.Counter
	ParticipationsFailed    prometheus.Counter
	RateLimitDrops          prometheus.Counter
	WinsDetected            prometheus.Counter
	WhispersReceived        prometheus.Counter
	MentionsObserved        prometheus.Counter

	// Histograms (seconds)
	CoordinationDuration prometheus.Observer

	// Gauges
	FleetSizeGauge         prometheus.Gauge
	MonitoredChannelsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesObserved = promauto.NewCounter(prometheus.CounterOpts{Name: "sentry_messages_observed_total", Help: "Chat messages fed to the pattern detector"})
		CandidatesDetected = promauto.NewCounterVec(prometheus.CounterOpts{Name: "sentry_candidates_detected_total", Help: "Candidates emitted by detection type"}, []string{"type"})
		ParticipationsSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "sentry_participations_succeeded_total", Help: "Per-account participations that sent successfully"})
		ParticipationsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "sentry_participations_failed_total", Help: "Per-account participations that exhausted retries"})
		RateLimitDrops = promauto.NewCounter(prometheus.CounterOpts{Name: "sentry_rate_limit_drops_total", Help: "Candidates dropped by channel or global quota"})
		WinsDetected = promauto.NewCounter(prometheus.CounterOpts{Name: "sentry_wins_detected_total", Help: "Winner announcements naming a fleet account"})
		WhispersReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "sentry_whispers_received_total", Help: "Whispers received across the fleet"})
		MentionsObserved = promauto.NewCounter(prometheus.CounterOpts{Name: "sentry_mentions_observed_total", Help: "Chat messages mentioning a fleet account without a win pattern"})
		CoordinationDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "sentry_coordination_duration_seconds", Help: "Fleet fan-out duration seconds", Buckets: prometheus.DefBuckets})
		FleetSizeGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "sentry_fleet_size", Help: "Connected accounts"})
		MonitoredChannelsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "sentry_monitored_channels", Help: "Channels in the desired monitored set"})
	})
}

// CountCandidate increments the detection counter for a type label.
func CountCandidate(detectionType string) {
	if CandidatesDetected != nil {
		CandidatesDetected.WithLabelValues(detectionType).Inc()
	}
}

// SetFleetSize records the number of connected accounts.
func SetFleetSize(n int) {
	if FleetSizeGauge != nil {
		FleetSizeGauge.Set(float64(n))
	}
}

// SetMonitoredChannels records the current desired channel count.
func SetMonitoredChannels(n int) {
	if MonitoredChannelsGauge != nil {
		MonitoredChannelsGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
