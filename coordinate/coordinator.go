// Package coordinate turns a detected candidate into a deduplicated,
// rate-limited, retried fleet-wide participation. One account's failure never
// aborts the fan-out; the worst case is a report with a non-empty failed list.
package coordinate

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/giveaway-sentry/backend/detect"
	"github.com/onnwee/giveaway-sentry/backend/telemetry"
)

// Conn is one account's connection to chat. Join must not return before the
// server confirms membership or ctx expires. All operations are safe to
// retry.
type Conn interface {
	Name() string
	Resident() bool
	Joined(channel string) bool
	Join(ctx context.Context, channel string) error
	Part(channel string) error
	Send(ctx context.Context, channel, text string) error
}

// Fleet lists the currently-connected accounts.
type Fleet interface {
	Conns() []Conn
}

// Ledger is the at-most-once participation gate. Begin atomically claims a
// (channel, command, account) triple; a true return obligates the caller to
// Complete or Release it.
type Ledger interface {
	Begin(channel, command, account string) bool
	Complete(channel, command, account string)
	Release(channel, command, account string)
}

// OutcomeRecorder receives participation results for observed commands.
type OutcomeRecorder interface {
	RecordOutcome(command string, success bool)
}

// AccountFailure names an account that exhausted its retries.
type AccountFailure struct {
	Account string `json:"account"`
	Err     string `json:"error"`
}

// Report summarizes one fan-out for observers.
type Report struct {
	ID            string               `json:"id"`
	Channel       string               `json:"channel"`
	Command       string               `json:"command"`
	Type          detect.DetectionType `json:"type"`
	TotalAccounts int                  `json:"total_accounts"`
	Succeeded     int                  `json:"succeeded"`
	Skipped       int                  `json:"skipped"`
	Failed        []AccountFailure     `json:"failed,omitempty"`
	At            time.Time            `json:"at"`
}

// Config carries the coordinator's knobs; see the config package for env
// names and defaults.
type Config struct {
	MaxRetries      int
	RetryDelayMin   time.Duration
	RetryDelayMax   time.Duration
	PreSendDelayMin time.Duration
	PreSendDelayMax time.Duration
	JoinTimeout     time.Duration
	PartDelay       time.Duration
	PartDelayJitter time.Duration
	MaxConcurrent   int
}

// commandToken is the shape every coordinated command must have: one word,
// optional "!" prefix. Anything else reaching this point is a detector bug or
// adversarial chat and is dropped with a warning.
var commandToken = regexp.MustCompile(`^!?[\w-]+$`)

type Coordinator struct {
	cfg      Config
	fleet    Fleet
	ledger   Ledger
	outcomes OutcomeRecorder
	global   *WindowLimiter
	channel  *WindowLimiter

	// Stale, when set, stops new attempts for channels that are no longer
	// monitored. In-flight attempts finish.
	Stale func(channel string) bool

	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	schedule func(d time.Duration, fn func())
}

func New(cfg Config, fleet Fleet, ledger Ledger, outcomes OutcomeRecorder, global, channel *WindowLimiter) *Coordinator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Coordinator{
		cfg:      cfg,
		fleet:    fleet,
		ledger:   ledger,
		outcomes: outcomes,
		global:   global,
		channel:  channel,
		now:      time.Now,
		sleep:    sleepCtx,
		schedule: func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
	}
}

// Coordinate fans the candidate out across the fleet. It never returns an
// error: rejections and rate-limit drops yield an empty report, per-account
// failures land in Report.Failed.
func (c *Coordinator) Coordinate(ctx context.Context, cand detect.Candidate) Report {
	report := Report{
		ID:      uuid.NewString(),
		Channel: cand.Channel,
		Command: cand.Command,
		Type:    cand.Type,
		At:      c.now(),
	}
	logger := slog.Default().With(
		slog.String("channel", cand.Channel),
		slog.String("command", cand.Command),
		slog.String("corr", report.ID),
		slog.String("component", "coordinator"))

	if !commandToken.MatchString(cand.Command) {
		logger.Warn("rejecting malformed command token")
		return report
	}
	// Channel quota first: a candidate refused by channel backpressure must
	// not consume a slot from the global budget.
	if !c.channel.Allow(cand.Channel) {
		logger.Info("channel participation quota exhausted; dropping candidate")
		telemetry.RateLimitDrops.Inc()
		return report
	}
	if !c.global.Allow("") {
		logger.Info("global participation quota exhausted; dropping candidate")
		telemetry.RateLimitDrops.Inc()
		return report
	}

	ctx, span := telemetry.StartSpan(telemetry.WithCorrelation(ctx, report.ID),
		"coordinator", "participate")
	defer span.End()
	start := c.now()

	conns := c.fleet.Conns()
	report.TotalAccounts = len(conns)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxConcurrent)
	for _, conn := range conns {
		if ctx.Err() != nil || (c.Stale != nil && c.Stale(cand.Channel)) {
			// Stale candidate: let in-flight attempts finish, start no more.
			break
		}
		if !c.ledger.Begin(cand.Channel, cand.Command, conn.Name()) {
			mu.Lock()
			report.Skipped++
			mu.Unlock()
			continue
		}
		conn := conn
		g.Go(func() error {
			err := c.attemptWithRetries(gctx, conn, cand.Channel, cand.Command)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.ledger.Release(cand.Channel, cand.Command, conn.Name())
				report.Failed = append(report.Failed, AccountFailure{Account: conn.Name(), Err: err.Error()})
				telemetry.ParticipationsFailed.Inc()
				return nil // one account's failure must not cancel the group
			}
			c.ledger.Complete(cand.Channel, cand.Command, conn.Name())
			report.Succeeded++
			telemetry.ParticipationsSucceeded.Inc()
			return nil
		})
	}
	_ = g.Wait()

	telemetry.CoordinationDuration.Observe(c.now().Sub(start).Seconds())
	if c.outcomes != nil && cand.Type != detect.DetectionKnown {
		c.outcomes.RecordOutcome(cand.Command, report.Succeeded > 0)
	}
	logger.Info("participation complete",
		slog.Int("total", report.TotalAccounts),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", len(report.Failed)))
	return report
}

// attemptWithRetries runs up to MaxRetries attempts for one account,
// separated by randomized delays. Fatal transport errors stop early.
func (c *Coordinator) attemptWithRetries(ctx context.Context, conn Conn, channel, command string) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		lastErr = c.attempt(ctx, conn, channel, command)
		if lastErr == nil {
			return nil
		}
		slog.Warn("participation attempt failed",
			slog.String("account", conn.Name()),
			slog.String("channel", channel),
			slog.Int("attempt", attempt),
			slog.Int("max", c.cfg.MaxRetries),
			slog.Any("err", lastErr))
		if !IsRetryableError(lastErr) || ctx.Err() != nil {
			break
		}
		if attempt < c.cfg.MaxRetries {
			if err := c.sleep(ctx, c.randomDelay(c.cfg.RetryDelayMin, c.cfg.RetryDelayMax)); err != nil {
				break
			}
		}
	}
	return lastErr
}

// attempt performs one participation: join (transient accounts only, with
// confirmation timeout), a small randomized pause so the send doesn't land
// the instant the account appears, the send itself, and a delayed part.
func (c *Coordinator) attempt(ctx context.Context, conn Conn, channel, command string) error {
	transient := !conn.Resident()
	if transient && !conn.Joined(channel) {
		jctx, cancel := context.WithTimeout(ctx, c.cfg.JoinTimeout)
		err := conn.Join(jctx, channel)
		cancel()
		if err != nil {
			return fmt.Errorf("join %s: %w", channel, err)
		}
	}
	if err := c.sleep(ctx, c.randomDelay(c.cfg.PreSendDelayMin, c.cfg.PreSendDelayMax)); err != nil {
		return err
	}
	if err := conn.Send(ctx, channel, command); err != nil {
		return fmt.Errorf("send %q to %s: %w", command, channel, err)
	}
	if transient {
		c.schedule(c.cfg.PartDelay+c.randomDelay(0, c.cfg.PartDelayJitter), func() {
			// A failed part is harmless; membership reconciliation corrects it.
			if err := conn.Part(channel); err != nil {
				slog.Warn("delayed part failed", slog.String("account", conn.Name()), slog.String("channel", channel), slog.Any("err", err))
			}
		})
	}
	return nil
}

func (c *Coordinator) randomDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	//nolint:gosec // G404: math/rand is sufficient for pacing jitter, not used for security
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
