package db

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// openTestDB connects to TEST_PG_DSN and applies migrations, skipping when no
// test database is configured. Mirrors testutil.SetupTestDB, which this
// package cannot import without a cycle.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping database test")
	}
	dbx, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = dbx.Close() })
	if err := Migrate(context.Background(), dbx); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return dbx
}

func TestMigrateIdempotent(t *testing.T) {
	dbx := openTestDB(t)
	// openTestDB already migrated once; a second run must be a no-op.
	if err := Migrate(context.Background(), dbx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestAccountRoundTrip(t *testing.T) {
	dbx := openTestDB(t)
	ctx := context.Background()

	if err := UpsertAccount(ctx, dbx, AccountRow{Username: "resident_bot", Resident: true, Enabled: true}); err != nil {
		t.Fatalf("UpsertAccount() error = %v", err)
	}
	if err := UpsertAccount(ctx, dbx, AccountRow{Username: "disabled_bot", Enabled: false}); err != nil {
		t.Fatalf("UpsertAccount() error = %v", err)
	}

	accounts, err := ListEnabledAccounts(ctx, dbx)
	if err != nil {
		t.Fatalf("ListEnabledAccounts() error = %v", err)
	}
	var found bool
	for _, a := range accounts {
		if a.Username == "disabled_bot" {
			t.Error("disabled account listed as enabled")
		}
		if a.Username == "resident_bot" {
			found = true
			if !a.Resident {
				t.Error("resident flag lost in round trip")
			}
		}
	}
	if !found {
		t.Error("enabled account missing from listing")
	}

	// Upsert flips the flags in place.
	if err := UpsertAccount(ctx, dbx, AccountRow{Username: "resident_bot", Resident: false, Enabled: false}); err != nil {
		t.Fatalf("UpsertAccount() update error = %v", err)
	}
	accounts, err = ListEnabledAccounts(ctx, dbx)
	if err != nil {
		t.Fatalf("ListEnabledAccounts() error = %v", err)
	}
	for _, a := range accounts {
		if a.Username == "resident_bot" {
			t.Error("disabled account still listed after update")
		}
	}
}

func TestAccountTokenRoundTrip(t *testing.T) {
	dbx := openTestDB(t)
	ctx := context.Background()

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	err := UpsertAccountToken(ctx, dbx, "token_bot", "access-abc", "refresh-def", expiry, "chat:read chat:edit")
	if err != nil {
		t.Fatalf("UpsertAccountToken() error = %v", err)
	}

	access, refresh, gotExpiry, scope, err := GetAccountToken(ctx, dbx, "token_bot")
	if err != nil {
		t.Fatalf("GetAccountToken() error = %v", err)
	}
	if access != "access-abc" || refresh != "refresh-def" {
		t.Errorf("tokens = %q/%q, want access-abc/refresh-def", access, refresh)
	}
	if scope != "chat:read chat:edit" {
		t.Errorf("scope = %q", scope)
	}
	if gotExpiry.UTC().Truncate(time.Second) != expiry {
		t.Errorf("expiry = %v, want %v", gotExpiry, expiry)
	}

	// Rotation replaces the row.
	err = UpsertAccountToken(ctx, dbx, "token_bot", "access-new", "refresh-new", expiry.Add(time.Hour), "chat:read")
	if err != nil {
		t.Fatalf("UpsertAccountToken() rotation error = %v", err)
	}
	access, refresh, _, _, err = GetAccountToken(ctx, dbx, "token_bot")
	if err != nil {
		t.Fatalf("GetAccountToken() after rotation error = %v", err)
	}
	if access != "access-new" || refresh != "refresh-new" {
		t.Errorf("rotated tokens = %q/%q, want access-new/refresh-new", access, refresh)
	}
}

func TestGetAccountTokenMissing(t *testing.T) {
	dbx := openTestDB(t)

	access, refresh, _, _, err := GetAccountToken(context.Background(), dbx, "no_such_account")
	if err != nil {
		t.Fatalf("GetAccountToken() for missing account error = %v", err)
	}
	if access != "" || refresh != "" {
		t.Errorf("missing account returned tokens %q/%q", access, refresh)
	}
}

func TestDetectionsListedNewestFirst(t *testing.T) {
	dbx := openTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		err := RecordDetection(ctx, dbx, "order_chan", "!enter", "known", 3+i, 3+i, base.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("RecordDetection() error = %v", err)
		}
	}

	rows, err := ListRecentDetections(ctx, dbx, 500)
	if err != nil {
		t.Fatalf("ListRecentDetections() error = %v", err)
	}
	var got []DetectionRow
	for _, d := range rows {
		if d.Channel == "order_chan" {
			got = append(got, d)
		}
	}
	if len(got) != 3 {
		t.Fatalf("got %d detections, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].DetectedAt.After(got[i-1].DetectedAt) {
			t.Error("detections should be newest first")
		}
	}
	if got[0].UniqueUsers != 5 || got[0].Type != "known" {
		t.Errorf("newest detection = %+v", got[0])
	}
}

func TestWinsAndWhispersPersist(t *testing.T) {
	dbx := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := RecordWin(ctx, dbx, "lucky_bot", "win_chan", "congrats lucky_bot!", now); err != nil {
		t.Fatalf("RecordWin() error = %v", err)
	}
	if err := RecordWhisper(ctx, dbx, "lucky_bot", "streamer", "you won, dm me", now); err != nil {
		t.Fatalf("RecordWhisper() error = %v", err)
	}

	var wins int
	if err := dbx.QueryRowContext(ctx, `SELECT COUNT(*) FROM wins WHERE account=$1 AND channel=$2`, "lucky_bot", "win_chan").Scan(&wins); err != nil {
		t.Fatalf("count wins: %v", err)
	}
	if wins < 1 {
		t.Error("win row missing")
	}
	var whispers int
	if err := dbx.QueryRowContext(ctx, `SELECT COUNT(*) FROM whispers WHERE account=$1 AND from_user=$2`, "lucky_bot", "streamer").Scan(&whispers); err != nil {
		t.Fatalf("count whispers: %v", err)
	}
	if whispers < 1 {
		t.Error("whisper row missing")
	}
}
