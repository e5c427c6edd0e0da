package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/onnwee/giveaway-sentry/backend/db"
)

// FleetStatus is the live view of the fleet reported by /status.
type FleetStatus struct {
	Accounts          int      `json:"accounts"`
	ConnectedAccounts int      `json:"connected_accounts"`
	MonitoredChannels []string `json:"monitored_channels"`
}

// Deps holds handler dependencies, wired up in main.
type Deps struct {
	DB          *sql.DB
	FleetStatus func() FleetStatus
	// Blacklist bans a channel from monitoring. Optional.
	Blacklist func(channel string)
	// TriggerDiscovery forces an immediate channel rescan. Optional.
	TriggerDiscovery func()
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps Deps
}

func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps}
}

// HandleHealthz responds to liveness probes by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.DB.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probes with detailed checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.deps.DB.PingContext(r.Context()) }},
		{"accounts", func() error {
			var count int
			err := h.deps.DB.QueryRowContext(r.Context(),
				"SELECT COUNT(*) FROM accounts WHERE enabled").Scan(&count)
			if err != nil {
				return err
			}
			if count < 1 {
				return fmt.Errorf("no enabled accounts")
			}
			return nil
		}},
		{"fleet", func() error {
			if h.deps.FleetStatus == nil {
				return nil
			}
			st := h.deps.FleetStatus()
			if st.Accounts > 0 && st.ConnectedAccounts == 0 {
				return fmt.Errorf("no accounts connected")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus returns a lightweight summary: fleet size, monitored channels,
// detection and win counts.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	resp := map[string]any{}

	if h.deps.FleetStatus != nil {
		st := h.deps.FleetStatus()
		resp["accounts"] = st.Accounts
		resp["connected_accounts"] = st.ConnectedAccounts
		resp["monitored_channels"] = st.MonitoredChannels
	}

	var detections24h, wins, learned int
	_ = h.deps.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM detections WHERE detected_at > NOW() - INTERVAL '24 hours'`).Scan(&detections24h)
	_ = h.deps.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM wins`).Scan(&wins)
	_ = h.deps.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM learned_commands`).Scan(&learned)
	resp["detections_24h"] = detections24h
	resp["wins_total"] = wins
	resp["learned_commands"] = learned

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// HandleDetections lists recent detections, newest first. Supports ?limit=N.
func (h *Handlers) HandleDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	rows, err := db.ListRecentDetections(r.Context(), h.deps.DB, limit)
	if err != nil {
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"detections": rows})
}

// HandleAdminBlacklist bans a channel from monitoring.
// POST {"channel": "somechannel"}
func (h *Handlers) HandleAdminBlacklist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Blacklist == nil {
		http.Error(w, "blacklist not available", http.StatusNotImplemented)
		return
	}
	var body struct {
		Channel string `json:"channel"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Channel == "" {
		http.Error(w, "invalid json: expected {\"channel\": \"...\"}", http.StatusBadRequest)
		return
	}
	h.deps.Blacklist(body.Channel)
	w.WriteHeader(http.StatusNoContent)
}

// HandleAdminDiscover forces an immediate channel discovery rescan.
func (h *Handlers) HandleAdminDiscover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.TriggerDiscovery == nil {
		http.Error(w, "discovery not available", http.StatusNotImplemented)
		return
	}
	go h.deps.TriggerDiscovery()
	w.WriteHeader(http.StatusAccepted)
}
