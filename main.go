// Command backend is the main entrypoint for the giveaway-sentry engine.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres, runs migrations, and warms the learned registry.
//   - Connects the account fleet to chat and starts the detection pipeline.
//   - Starts background jobs: channel discovery, fleet reconciliation, ledger
//     janitor, registry sweeper, and OAuth token refreshers per account.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status,
//     /detections, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/giveaway-sentry/backend/config"
	"github.com/onnwee/giveaway-sentry/backend/coordinate"
	"github.com/onnwee/giveaway-sentry/backend/db"
	"github.com/onnwee/giveaway-sentry/backend/detect"
	"github.com/onnwee/giveaway-sentry/backend/discovery"
	"github.com/onnwee/giveaway-sentry/backend/fleet"
	"github.com/onnwee/giveaway-sentry/backend/ledger"
	"github.com/onnwee/giveaway-sentry/backend/monitor"
	"github.com/onnwee/giveaway-sentry/backend/notify"
	"github.com/onnwee/giveaway-sentry/backend/oauth"
	"github.com/onnwee/giveaway-sentry/backend/registry"
	"github.com/onnwee/giveaway-sentry/backend/server"
	"github.com/onnwee/giveaway-sentry/backend/telemetry"
	"github.com/onnwee/giveaway-sentry/backend/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	initLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateThresholds(); err != nil {
		slog.Error("invalid detection thresholds", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing("giveaway-sentry", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Versioned migrations first; fall back to embedded SQL for deployments
	// predating the schema_migrations table.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Detection core: windows, ledger, learned registry.
	stats := detect.NewStatStore(cfg.StatRetention())
	stats.StartSweeper(ctx, cfg.WindowSweep)

	led := ledger.New(cfg.DetectionCooldown, cfg.ParticipationTimeout)
	led.StartJanitor(ctx, cfg.WindowSweep)

	learned := registry.New(cfg.LearnedMinOccurrences, cfg.LearnedEvictAfter, &registry.SQLStore{DB: database})
	if err := learned.Warm(ctx); err != nil {
		slog.Warn("registry warm failed, continuing with empty registry", slog.Any("err", err))
	}
	learned.StartSweeper(ctx, cfg.RegistrySweep)

	detector := detect.NewDetector(detect.Config{
		KnownCommands:      cfg.KnownCommands,
		MinMessageLength:   cfg.MinMessageLength,
		KnownMinUsers:      cfg.KnownMinUsers,
		KnownWindow:        cfg.KnownWindow,
		UnknownMinUsers:    cfg.UnknownMinUsers,
		UnknownMinMessages: cfg.UnknownMinMessages,
		UnknownWindow:      cfg.UnknownWindow,
		MinEntropy:         cfg.MinEntropy,
	}, stats, learned, led)

	// Fleet.
	fleetReg := fleet.NewRegistry()

	coordinator := coordinate.New(coordinate.Config{
		MaxRetries:      cfg.MaxRetries,
		RetryDelayMin:   cfg.RetryDelayMin,
		RetryDelayMax:   cfg.RetryDelayMax,
		PreSendDelayMin: cfg.PreSendDelayMin,
		PreSendDelayMax: cfg.PreSendDelayMax,
		JoinTimeout:     cfg.JoinTimeout,
		PartDelay:       cfg.PartDelay,
		PartDelayJitter: cfg.PartDelayJitter,
		MaxConcurrent:   cfg.MaxConcurrent,
	}, fleetReg, led, learned,
		coordinate.NewWindowLimiter(cfg.GlobalRateLimit, cfg.GlobalRateWindow),
		coordinate.NewWindowLimiter(cfg.ChannelRateLimit, cfg.ChannelRateWindow),
	)
	coordinator.Stale = func(channel string) bool { return !fleetReg.Monitored(channel) }

	// Event fan-out.
	events := notify.NewDispatcher()
	if cfg.WebhookURL != "" {
		events.Register(notify.NewWebhook(cfg.WebhookURL))
		slog.Info("webhook notifications enabled")
	}

	sink := func(sctx context.Context, cand detect.Candidate) {
		telemetry.CountCandidate(string(cand.Type))
		slog.Info("giveaway candidate detected",
			slog.String("channel", cand.Channel),
			slog.String("command", cand.Command),
			slog.String("type", string(cand.Type)),
			slog.Int("users", cand.UniqueUsers))
		if err := db.RecordDetection(sctx, database, cand.Channel, cand.Command, string(cand.Type), cand.UniqueUsers, cand.MessageCount, cand.At); err != nil {
			slog.Warn("detection persist failed", slog.Any("err", err))
		}
		events.Candidate(cand)
		report := coordinator.Coordinate(sctx, cand)
		events.Report(report)
	}
	dispatcher := detect.NewDispatcher(detector, sink)

	mon := monitor.New(monitor.Config{
		WinnerPatterns:    cfg.WinnerPatterns,
		WhisperPatterns:   cfg.WhisperPatterns,
		TriggerPhrases:    cfg.TriggerPhrases,
		CelebrateDelay:    cfg.CelebrateDelay,
		CelebrateMessage:  cfg.CelebrateMessage,
		CelebratePartWait: cfg.CelebratePartWait,
	}, &winStore{db: database}, events, led, sink)

	if err := startFleet(ctx, cfg, database, fleetReg, dispatcher, mon); err != nil {
		slog.Error("fleet startup failed", slog.Any("err", err))
		os.Exit(1)
	}
	fleetReg.StartReconciler(ctx, cfg.ReconcileInterval, cfg.JoinTimeout)

	// Channel discovery.
	var discoverNow func()
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" && cfg.GameName != "" {
		helix := &twitchapi.HelixClient{
			AppTokenSource: &twitchapi.AppTokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
			ClientID:       cfg.TwitchClientID,
		}
		svc := discovery.NewService(&discovery.HelixLister{Client: helix}, discovery.Config{
			GameName:    cfg.GameName,
			Keywords:    cfg.DiscoveryKeywords,
			MaxChannels: cfg.MaxChannels,
		})
		apply := func(channels []string) {
			fleetReg.SetDesired(channels)
			fleetReg.Reconcile(ctx, cfg.JoinTimeout)
		}
		svc.StartRefresher(ctx, cfg.DiscoveryInterval, apply)
		discoverNow = func() {
			channels, err := svc.Discover(ctx)
			if err != nil {
				slog.Warn("manual discovery failed", slog.Any("err", err))
				return
			}
			apply(channels)
		}
	} else {
		slog.Warn("channel discovery disabled (missing twitch creds or game name); set desired channels via reconcile only")
	}

	if os.Getenv("ENABLE_PPROF") == "1" {
		startPprof()
	}

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	deps := server.Deps{
		DB: database,
		FleetStatus: func() server.FleetStatus {
			st := server.FleetStatus{MonitoredChannels: fleetReg.Desired()}
			for _, h := range fleetReg.Resident() {
				st.Accounts++
				if h.Connected() {
					st.ConnectedAccounts++
				}
			}
			for _, h := range fleetReg.Transient() {
				st.Accounts++
				if h.Connected() {
					st.ConnectedAccounts++
				}
			}
			return st
		},
		Blacklist:        fleetReg.Blacklist,
		TriggerDiscovery: discoverNow,
	}
	go func() {
		if err := server.Start(ctx, deps, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
}

// startFleet loads enabled accounts, builds their connection handles, and
// wires resident handles into the detection pipeline.
func startFleet(ctx context.Context, cfg *config.Config, database *sql.DB, fleetReg *fleet.Registry, dispatcher *detect.Dispatcher, mon *monitor.Monitor) error {
	accounts, err := db.ListEnabledAccounts(ctx, database)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		slog.Warn("no enabled accounts in database; fleet is empty (use import-accounts)")
		return nil
	}

	for _, a := range accounts {
		access, _, _, _, err := db.GetAccountToken(ctx, database, a.Username)
		if err != nil {
			slog.Error("token lookup failed, skipping account", slog.String("account", a.Username), slog.Any("err", err))
			continue
		}
		if access == "" {
			slog.Warn("account has no stored token, skipping", slog.String("account", a.Username))
			continue
		}
		h := fleet.NewHandle(fleet.Account{Username: a.Username, Token: access, Resident: a.Resident})

		account := a.Username
		if a.Resident {
			h.SetMessageHandler(func(channel, username, text string, at time.Time, self bool) {
				if self || !fleetReg.Monitored(channel) {
					return
				}
				telemetry.MessagesObserved.Inc()
				dispatcher.Dispatch(ctx, detect.ChatEvent{
					Channel:    channel,
					Username:   username,
					Text:       text,
					ReceivedAt: at,
				})
				mon.ObserveChannelMessage(ctx, h, channel, username, text, at)
			})
		} else {
			// Transient accounts only watch for their own wins in channels
			// they are participating in.
			h.SetMessageHandler(func(channel, username, text string, at time.Time, self bool) {
				if self {
					return
				}
				mon.ObserveChannelMessage(ctx, h, channel, username, text, at)
			})
		}
		h.SetWhisperHandler(func(from, text string) {
			mon.ObserveWhisper(ctx, account, from, text, time.Now())
		})

		h.Start(ctx)
		fleetReg.Add(h)

		// Keep each account's token fresh; hand the new token to the handle
		// for its next reconnect.
		oauth.StartRefresher(ctx, database, account, 5*time.Minute, 15*time.Minute,
			func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
				res, err := twitchapi.RefreshToken(rctx, cfg.TwitchClientID, cfg.TwitchClientSecret, refreshToken)
				if err != nil {
					return "", "", time.Time{}, "", err
				}
				return res.AccessToken, res.RefreshToken, twitchapi.ComputeExpiry(res.ExpiresIn), strings.Join(res.Scope, " "), nil
			},
			h.SetToken)
	}
	slog.Info("fleet started", slog.Int("accounts", len(accounts)))
	return nil
}

// winStore adapts the db package to the monitor's persistence surface.
type winStore struct {
	db *sql.DB
}

func (s *winStore) RecordWin(ctx context.Context, account, channel, message string, at time.Time) error {
	return db.RecordWin(ctx, s.db, account, channel, message, at)
}

func (s *winStore) RecordWhisper(ctx context.Context, account, fromUser, message string, at time.Time) error {
	return db.RecordWhisper(ctx, s.db, account, fromUser, message, at)
}

func initLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))
}

func startPprof() {
	pprofAddr := os.Getenv("PPROF_ADDR")
	if pprofAddr == "" {
		pprofAddr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
		srv := &http.Server{
			Addr:              pprofAddr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
