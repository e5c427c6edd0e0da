// Package main provides a CLI tool to import fleet accounts and their OAuth
// tokens into the database.
//
// Accounts come from a JSON file of the form:
//
//	[
//	  {"username": "acct1", "access_token": "...", "refresh_token": "...", "resident": true},
//	  {"username": "acct2", "access_token": "...", "refresh_token": "..."}
//	]
//
// Tokens are encrypted at rest when ENCRYPTION_KEY is set.
//
// Usage:
//
//	import-accounts --file accounts.json [--dry-run] [--validate]
//
// Flags:
//
//	--file:     Path to the accounts JSON file (required)
//	--dry-run:  Show what would be imported without making changes
//	--validate: Check each access token against id.twitch.tv before importing
//
// Environment Variables:
//
//	DB_DSN: Database connection string (required)
//	ENCRYPTION_KEY: Base64-encoded 32-byte encryption key (recommended)
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/onnwee/giveaway-sentry/backend/db"
	"github.com/onnwee/giveaway-sentry/backend/twitchapi"
)

// accountEntry is one account in the import file.
type accountEntry struct {
	Username     string `json:"username"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Resident     bool   `json:"resident"`
}

func main() {
	file := flag.String("file", "", "Path to the accounts JSON file")
	dryRun := flag.Bool("dry-run", false, "Show what would be imported without making changes")
	validate := flag.Bool("validate", false, "Check each access token against id.twitch.tv before importing")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if *file == "" {
		slog.Error("--file is required")
		os.Exit(1)
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		slog.Error("failed to read accounts file", slog.Any("error", err))
		os.Exit(1)
	}
	var accounts []accountEntry
	if err := json.Unmarshal(raw, &accounts); err != nil {
		slog.Error("failed to parse accounts file", slog.Any("error", err))
		os.Exit(1)
	}
	if len(accounts) == 0 {
		slog.Info("no accounts in file, nothing to do")
		return
	}

	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		_ = database.Close()
	}()

	ctx := context.Background()
	if err := database.PingContext(ctx); err != nil {
		slog.Error("failed to ping database", slog.Any("error", err))
		os.Exit(1)
	}

	if err := importAccounts(ctx, database, accounts, *dryRun, *validate); err != nil {
		slog.Error("import failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("import completed successfully")
}

func importAccounts(ctx context.Context, database *sql.DB, accounts []accountEntry, dryRun, validate bool) error {
	imported := 0
	errorCount := 0
	for i, a := range accounts {
		logger := slog.With(
			slog.String("account", a.Username),
			slog.Int("index", i+1),
			slog.Int("total", len(accounts)))

		if a.Username == "" || a.AccessToken == "" {
			logger.Error("skipping entry with missing username or access_token")
			errorCount++
			continue
		}

		expiry := time.Now().Add(60 * time.Minute)
		scope := ""
		if validate {
			vctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			res, err := twitchapi.ValidateUserToken(vctx, a.AccessToken)
			cancel()
			if err != nil {
				logger.Error("token validation failed", slog.Any("error", err))
				errorCount++
				continue
			}
			expiry = twitchapi.ComputeExpiry(res.ExpiresIn)
			scope = strings.Join(res.Scopes, " ")
			logger.Info("token validated", slog.String("login", res.Login))
		}

		if dryRun {
			logger.Info("would import account (dry-run)", slog.Bool("resident", a.Resident))
			imported++
			continue
		}

		if err := db.UpsertAccount(ctx, database, db.AccountRow{Username: a.Username, Resident: a.Resident, Enabled: true}); err != nil {
			logger.Error("failed to upsert account", slog.Any("error", err))
			errorCount++
			continue
		}
		if err := db.UpsertAccountToken(ctx, database, a.Username, a.AccessToken, a.RefreshToken, expiry, scope); err != nil {
			logger.Error("failed to store token", slog.Any("error", err))
			errorCount++
			continue
		}
		logger.Info("imported account", slog.Bool("resident", a.Resident))
		imported++
	}

	slog.Info("import summary",
		slog.Int("total", len(accounts)),
		slog.Int("imported", imported),
		slog.Int("errors", errorCount),
		slog.Bool("dry_run", dryRun))
	if errorCount > 0 {
		return fmt.Errorf("import completed with %d errors", errorCount)
	}
	return nil
}
