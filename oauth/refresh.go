// Package oauth schedules token refresh for fleet accounts whose tokens are
// persisted in the oauth_tokens table. Checks are jittered so a many-account
// fleet does not stampede the token endpoint.
package oauth

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/onnwee/giveaway-sentry/backend/db"
)

// RefreshFunc performs the provider exchange and returns (access, refresh, expiry, scope).
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// StartRefresher launches a goroutine that periodically checks one account's
// token row and refreshes it when remaining lifetime falls inside window.
// onRefreshed, when non-nil, receives the new access token so the account's
// IRC handle can pick it up on its next reconnect.
func StartRefresher(ctx context.Context, dbx *sql.DB, username string, interval, window time.Duration, fn RefreshFunc, onRefreshed func(access string)) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize initial delay to spread load across accounts.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			_, rt, exp, scope, err := db.GetAccountToken(ctx, dbx, username)
			if err != nil {
				slog.Warn("token lookup failed", slog.String("account", username), slog.Any("err", err))
				continue
			}
			if rt == "" {
				continue
			}
			if time.Until(exp) > window {
				continue
			}
			// Small pre-refresh jitter when many accounts share an expiry.
			preMax := interval / 2
			if preMax > 5*time.Second {
				preMax = 5 * time.Second
			}
			//nolint:gosec // G404: math/rand is sufficient for jitter, not used for security
			pre := time.Duration(rand.Int63n(int64(preMax)))
			select {
			case <-ctx.Done():
				return
			case <-time.After(pre):
			}
			ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
			newAT, newRT, newExp, newScope, err := fn(ctx2, rt)
			cancel()
			if err != nil {
				slog.Warn("token refresh failed", slog.String("account", username), slog.Any("err", err))
				continue
			}
			if newRT == "" {
				newRT = rt
			}
			if newScope == "" {
				newScope = scope
			}
			if err := db.UpsertAccountToken(ctx, dbx, username, newAT, newRT, newExp, strings.TrimSpace(newScope)); err != nil {
				slog.Warn("token persist failed", slog.String("account", username), slog.Any("err", err))
				continue
			}
			slog.Info("token refreshed", slog.String("account", username))
			if onRefreshed != nil {
				onRefreshed(newAT)
			}
		}
	}()
}
