package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/giveaway-sentry/backend/coordinate"
	"github.com/onnwee/giveaway-sentry/backend/detect"
)

// Webhook posts events to a Discord-compatible webhook URL as embeds.
type Webhook struct {
	URL        string
	HTTPClient *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		URL:        url,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

const (
	colorBlue  = 0x3498db
	colorGreen = 0x2ecc71
	colorGold  = 0xf1c40f
	colorRed   = 0xe74c3c
)

func (w *Webhook) OnCandidate(ctx context.Context, c detect.Candidate) {
	w.post(ctx, embed{
		Title: "Giveaway detected",
		Color: colorBlue,
		Fields: []embedField{
			{Name: "Channel", Value: c.Channel, Inline: true},
			{Name: "Command", Value: c.Command, Inline: true},
			{Name: "Type", Value: string(c.Type), Inline: true},
			{Name: "Users", Value: fmt.Sprintf("%d", c.UniqueUsers), Inline: true},
			{Name: "Messages", Value: fmt.Sprintf("%d", c.MessageCount), Inline: true},
		},
		Timestamp: c.At.UTC().Format(time.RFC3339),
	})
}

func (w *Webhook) OnReport(ctx context.Context, r coordinate.Report) {
	color := colorGreen
	if r.Succeeded == 0 {
		color = colorRed
	}
	e := embed{
		Title: "Participation round complete",
		Color: color,
		Fields: []embedField{
			{Name: "Channel", Value: r.Channel, Inline: true},
			{Name: "Command", Value: r.Command, Inline: true},
			{Name: "Succeeded", Value: fmt.Sprintf("%d/%d", r.Succeeded, r.TotalAccounts), Inline: true},
			{Name: "Skipped", Value: fmt.Sprintf("%d", r.Skipped), Inline: true},
			{Name: "Failed", Value: fmt.Sprintf("%d", len(r.Failed)), Inline: true},
		},
		Timestamp: r.At.UTC().Format(time.RFC3339),
	}
	for _, f := range r.Failed {
		e.Fields = append(e.Fields, embedField{Name: "Failure: " + f.Account, Value: f.Err})
	}
	w.post(ctx, e)
}

func (w *Webhook) OnWin(ctx context.Context, win Win) {
	w.post(ctx, embed{
		Title:       "Win detected",
		Description: win.Message,
		Color:       colorGold,
		Fields: []embedField{
			{Name: "Account", Value: win.Account, Inline: true},
			{Name: "Channel", Value: win.Channel, Inline: true},
		},
		Timestamp: win.At.UTC().Format(time.RFC3339),
	})
}

func (w *Webhook) post(ctx context.Context, e embed) {
	if w.URL == "" {
		return
	}
	payload, err := json.Marshal(map[string]any{"embeds": []embed{e}})
	if err != nil {
		slog.Warn("webhook payload marshal failed", slog.Any("err", err))
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		slog.Warn("webhook request build failed", slog.Any("err", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	hc := w.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		slog.Warn("webhook delivery failed", slog.Any("err", err))
		return
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		slog.Warn("webhook rejected", slog.Int("status", resp.StatusCode), slog.String("body", string(b)))
	}
}
