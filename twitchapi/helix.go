// Package twitchapi contains minimal helpers to interact with Twitch Helix
// APIs for category resolution and live-stream listing, plus the OAuth token
// plumbing the fleet's accounts rely on.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

const defaultHelixBase = "https://api.twitch.tv/helix"

// HelixClient provides the methods needed for channel discovery.
type HelixClient struct {
	AppTokenSource *AppTokenSource
	ClientID       string
	HTTPClient     *http.Client
	BaseURL        string // override for tests; defaults to the Helix API
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return defaultHelixBase
}

func (hc *HelixClient) get(ctx context.Context, path string, query map[string][]string, out any) error {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+path, nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("helix %s failed: %s: %s", path, resp.Status, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetGameID resolves a category name to its Helix game ID.
func (hc *HelixClient) GetGameID(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("game name empty")
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.get(ctx, "/games", map[string][]string{"name": {name}}, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("game not found: %s", name)
	}
	return body.Data[0].ID, nil
}

// StreamMeta describes one live stream from the streams listing.
type StreamMeta struct {
	UserLogin   string `json:"user_login"`
	Title       string `json:"title"`
	ViewerCount int    `json:"viewer_count"`
	Language    string `json:"language"`
}

// ListStreams lists live streams in a category, one page at a time.
func (hc *HelixClient) ListStreams(ctx context.Context, gameID, after string, first int) ([]StreamMeta, string, error) {
	if gameID == "" {
		return nil, "", fmt.Errorf("gameID empty")
	}
	if first <= 0 || first > 100 {
		first = 100
	}
	query := map[string][]string{
		"game_id": {gameID},
		"type":    {"live"},
		"first":   {fmt.Sprintf("%d", first)},
	}
	if after != "" {
		query["after"] = []string{after}
	}
	var body struct {
		Data       []StreamMeta `json:"data"`
		Pagination struct {
			Cursor string `json:"cursor"`
		} `json:"pagination"`
	}
	if err := hc.get(ctx, "/streams", query, &body); err != nil {
		return nil, "", err
	}
	return body.Data, body.Pagination.Cursor, nil
}
