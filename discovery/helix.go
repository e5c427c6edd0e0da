package discovery

import (
	"context"

	"github.com/onnwee/giveaway-sentry/backend/twitchapi"
)

// HelixLister adapts the Helix client to the StreamLister interface.
type HelixLister struct {
	Client *twitchapi.HelixClient
}

func (hl *HelixLister) GetGameID(ctx context.Context, name string) (string, error) {
	return hl.Client.GetGameID(ctx, name)
}

func (hl *HelixLister) ListStreams(ctx context.Context, gameID, after string, first int) ([]Stream, string, error) {
	metas, cursor, err := hl.Client.ListStreams(ctx, gameID, after, first)
	if err != nil {
		return nil, "", err
	}
	out := make([]Stream, 0, len(metas))
	for _, m := range metas {
		out = append(out, Stream{
			UserLogin:   m.UserLogin,
			Title:       m.Title,
			ViewerCount: m.ViewerCount,
			Language:    m.Language,
		})
	}
	return out, cursor, nil
}
