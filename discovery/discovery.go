// Package discovery finds channels worth monitoring: live streams in a
// configured category whose titles mention giveaway-ish keywords.
package discovery

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// StreamLister is the slice of the Helix client discovery needs.
type StreamLister interface {
	GetGameID(ctx context.Context, name string) (string, error)
	ListStreams(ctx context.Context, gameID, after string, first int) ([]Stream, string, error)
}

// Stream is one live stream returned by the lister.
type Stream struct {
	UserLogin   string
	Title       string
	ViewerCount int
	Language    string
}

// Config controls what discovery looks for.
type Config struct {
	GameName    string
	Keywords    []string // title must contain at least one, case-insensitive
	Languages   []string // empty means any
	MaxChannels int
}

// Service resolves the category once and rescans its live streams on demand.
type Service struct {
	lister StreamLister
	cfg    Config

	mu     sync.Mutex
	gameID string
}

func NewService(lister StreamLister, cfg Config) *Service {
	return &Service{lister: lister, cfg: cfg}
}

func (s *Service) resolveGame(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gameID != "" {
		return s.gameID, nil
	}
	id, err := s.lister.GetGameID(ctx, s.cfg.GameName)
	if err != nil {
		return "", err
	}
	s.gameID = id
	return id, nil
}

// Discover returns channel logins whose stream titles match the keyword
// filter, highest viewer counts first up to MaxChannels.
func (s *Service) Discover(ctx context.Context) ([]string, error) {
	gameID, err := s.resolveGame(ctx)
	if err != nil {
		return nil, err
	}

	max := s.cfg.MaxChannels
	if max <= 0 {
		max = 50
	}
	var out []string
	seen := make(map[string]struct{})
	after := ""
	for len(out) < max {
		streams, cursor, err := s.lister.ListStreams(ctx, gameID, after, 100)
		if err != nil {
			return nil, err
		}
		for _, st := range streams {
			if len(out) >= max {
				break
			}
			login := strings.ToLower(st.UserLogin)
			if login == "" {
				continue
			}
			if _, dup := seen[login]; dup {
				continue
			}
			if !s.languageOK(st.Language) || !s.titleMatches(st.Title) {
				continue
			}
			seen[login] = struct{}{}
			out = append(out, login)
		}
		if cursor == "" || len(streams) == 0 {
			break
		}
		after = cursor
	}
	return out, nil
}

func (s *Service) titleMatches(title string) bool {
	if len(s.cfg.Keywords) == 0 {
		return true
	}
	title = strings.ToLower(title)
	for _, kw := range s.cfg.Keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(title, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func (s *Service) languageOK(lang string) bool {
	if len(s.cfg.Languages) == 0 {
		return true
	}
	for _, l := range s.cfg.Languages {
		if strings.EqualFold(l, lang) {
			return true
		}
	}
	return false
}

// StartRefresher rescans on a fixed cadence and hands each result to apply.
// The first scan runs immediately so the fleet has channels at startup.
func (s *Service) StartRefresher(ctx context.Context, interval time.Duration, apply func([]string)) {
	scan := func() {
		channels, err := s.Discover(ctx)
		if err != nil {
			slog.Warn("channel discovery failed", slog.Any("err", err))
			return
		}
		slog.Info("channel discovery complete",
			slog.String("game", s.cfg.GameName),
			slog.Int("channels", len(channels)))
		apply(channels)
	}
	go func() {
		scan()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				scan()
			}
		}
	}()
}
