// Package fleet manages the account fleet: IRC connection handles, resident
// vs transient roles, and periodic membership reconciliation against the
// desired monitored-channel set.
package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// Account is one credentialed identity in the fleet. Resident accounts stay
// joined to every monitored channel and feed the detector; transient accounts
// join only to participate, then leave.
type Account struct {
	Username string
	Token    string // user OAuth token, with or without the "oauth:" prefix
	Resident bool
}

// MessageHandler receives channel messages seen by a resident connection.
type MessageHandler func(channel, username, text string, at time.Time, self bool)

// WhisperHandler receives whispers addressed to this account.
type WhisperHandler func(from, text string)

// Handle wraps one IRC client. Join blocks until the server confirms
// membership or the context expires, which is what the coordinator's
// join-confirmation timeout leans on.
type Handle struct {
	account Account
	client  *twitch.Client

	mu        sync.Mutex
	joined    map[string]struct{}
	waiters   map[string][]chan struct{}
	connected bool

	onMessage MessageHandler
	onWhisper WhisperHandler
}

// NewHandle builds a handle for the account. Callbacks must be set before
// Start.
func NewHandle(account Account) *Handle {
	token := account.Token
	if token != "" && !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	h := &Handle{
		account: account,
		client:  twitch.NewClient(account.Username, token),
		joined:  make(map[string]struct{}),
		waiters: make(map[string][]chan struct{}),
	}
	h.client.OnSelfJoinMessage(func(m twitch.UserJoinMessage) {
		ch := normalizeChannel(m.Channel)
		h.mu.Lock()
		h.joined[ch] = struct{}{}
		for _, w := range h.waiters[ch] {
			close(w)
		}
		delete(h.waiters, ch)
		h.mu.Unlock()
	})
	h.client.OnSelfPartMessage(func(m twitch.UserPartMessage) {
		ch := normalizeChannel(m.Channel)
		h.mu.Lock()
		delete(h.joined, ch)
		h.mu.Unlock()
	})
	h.client.OnConnect(func() {
		h.mu.Lock()
		h.connected = true
		h.mu.Unlock()
		slog.Info("account connected", slog.String("account", account.Username), slog.Bool("resident", account.Resident))
	})
	h.client.OnPrivateMessage(func(m twitch.PrivateMessage) {
		h.mu.Lock()
		fn := h.onMessage
		h.mu.Unlock()
		if fn != nil {
			self := strings.EqualFold(m.User.Name, account.Username)
			fn(normalizeChannel(m.Channel), m.User.Name, m.Message, m.Time, self)
		}
	})
	h.client.OnWhisperMessage(func(m twitch.WhisperMessage) {
		h.mu.Lock()
		fn := h.onWhisper
		h.mu.Unlock()
		if fn != nil && !strings.EqualFold(m.User.Name, account.Username) {
			fn(m.User.Name, m.Message)
		}
	})
	return h
}

// SetToken swaps the IRC token, used after an OAuth refresh. Takes effect on
// the next (re)connect.
func (h *Handle) SetToken(token string) {
	if token != "" && !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	h.client.SetIRCToken(token)
}

// SetMessageHandler registers the channel-message callback (resident accounts).
func (h *Handle) SetMessageHandler(fn MessageHandler) {
	h.mu.Lock()
	h.onMessage = fn
	h.mu.Unlock()
}

// SetWhisperHandler registers the whisper callback.
func (h *Handle) SetWhisperHandler(fn WhisperHandler) {
	h.mu.Lock()
	h.onWhisper = fn
	h.mu.Unlock()
}

// Start connects in the background and keeps reconnecting with backoff until
// ctx is canceled. A lost connection drops the joined set; reconciliation
// re-joins the desired channels afterwards.
func (h *Handle) Start(ctx context.Context) {
	go func() {
		backoff := time.Second
		for {
			err := h.client.Connect()
			h.mu.Lock()
			h.connected = false
			h.joined = make(map[string]struct{})
			h.mu.Unlock()
			if ctx.Err() != nil {
				return
			}
			slog.Warn("account disconnected; reconnecting",
				slog.String("account", h.account.Username),
				slog.Duration("backoff", backoff),
				slog.Any("err", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < time.Minute {
				backoff *= 2
			}
		}
	}()
	go func() {
		<-ctx.Done()
		if err := h.client.Disconnect(); err != nil {
			slog.Debug("disconnect", slog.String("account", h.account.Username), slog.Any("err", err))
		}
	}()
}

// Name returns the account's login.
func (h *Handle) Name() string { return h.account.Username }

// Resident reports whether the account stays joined to monitored channels.
func (h *Handle) Resident() bool { return h.account.Resident }

// Connected reports whether the IRC session is currently up.
func (h *Handle) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

// Joined reports confirmed membership in channel.
func (h *Handle) Joined(channel string) bool {
	ch := normalizeChannel(channel)
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.joined[ch]
	return ok
}

// Channels returns the confirmed joined-channel set.
func (h *Handle) Channels() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.joined))
	for ch := range h.joined {
		out = append(out, ch)
	}
	return out
}

// Join requests membership and waits for the server's confirmation.
func (h *Handle) Join(ctx context.Context, channel string) error {
	ch := normalizeChannel(channel)
	h.mu.Lock()
	if _, ok := h.joined[ch]; ok {
		h.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	h.waiters[ch] = append(h.waiters[ch], w)
	h.mu.Unlock()

	h.client.Join(ch)
	select {
	case <-w:
		return nil
	case <-ctx.Done():
		h.dropWaiter(ch, w)
		return fmt.Errorf("join %s not confirmed: %w", ch, ctx.Err())
	}
}

// dropWaiter removes a timed-out waiter so repeated failed joins don't
// accumulate channels. A confirmation racing the timeout has already cleared
// the whole list, in which case there is nothing to remove.
func (h *Handle) dropWaiter(ch string, w chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ws := h.waiters[ch]
	for i, cand := range ws {
		if cand == w {
			h.waiters[ch] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(h.waiters[ch]) == 0 {
		delete(h.waiters, ch)
	}
}

// Part leaves the channel. Failure is harmless; reconciliation corrects drift.
func (h *Handle) Part(channel string) error {
	ch := normalizeChannel(channel)
	h.client.Depart(ch)
	h.mu.Lock()
	delete(h.joined, ch)
	h.mu.Unlock()
	return nil
}

// Send posts text to channel.
func (h *Handle) Send(ctx context.Context, channel, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	connected := h.connected
	h.mu.Unlock()
	if !connected {
		return fmt.Errorf("account %s not connected", h.account.Username)
	}
	h.client.Say(normalizeChannel(channel), text)
	return nil
}

func normalizeChannel(channel string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(channel), "#"))
}
