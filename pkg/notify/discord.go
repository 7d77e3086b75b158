package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hervehildenbrand/kill-radar/pkg/models"
	"github.com/hervehildenbrand/kill-radar/pkg/routing"
)

const webhookTimeout = 10 * time.Second

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embedImage struct {
	URL string `json:"url"`
}

type embed struct {
	Title  string       `json:"title"`
	URL    string       `json:"url,omitempty"`
	Image  *embedImage  `json:"image,omitempty"`
	Fields []embedField `json:"fields"`
}

type webhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds,omitempty"`
}

// DiscordSink posts to a Discord channel webhook.
type DiscordSink struct {
	url  string
	http *http.Client
}

// NewDiscordSink creates a sink posting to webhookURL.
func NewDiscordSink(webhookURL string) *DiscordSink {
	return &DiscordSink{
		url:  webhookURL,
		http: &http.Client{Timeout: webhookTimeout},
	}
}

// Notify posts the alert as an embed. The role ping goes into the message
// content as well, since mentions inside embeds do not notify.
func (s *DiscordSink) Notify(ctx context.Context, a Alert) error {
	return s.post(ctx, webhookPayload{
		Content: a.Ping,
		Embeds:  []embed{buildEmbed(a)},
	})
}

// Text posts a plain message.
func (s *DiscordSink) Text(ctx context.Context, message string) error {
	return s.post(ctx, webhookPayload{Content: message})
}

func buildEmbed(a Alert) embed {
	e := embed{
		Title: a.Title(),
		URL:   a.URL,
		Image: &embedImage{URL: a.ImageURL()},
		Fields: []embedField{
			{Name: "Location", Value: a.Location(), Inline: true},
			{Name: "Attackers", Value: strconv.Itoa(a.Attackers), Inline: true},
			{Name: "Delay", Value: a.Delay.String(), Inline: true},
			{Name: "Attacking Corp", Value: a.AttackingCorp},
		},
	}
	if len(a.Route) > 0 {
		e.Fields = append(e.Fields, embedField{Name: "Route", Value: routing.FormatRoute(a.Route)})
	}
	if a.Jumps != models.Unreachable {
		e.Fields = append(e.Fields, embedField{Name: "Jumps", Value: strconv.Itoa(a.Jumps), Inline: true})
	}
	if a.Ping != "" {
		e.Fields = append(e.Fields, embedField{Name: "Ping", Value: a.Ping})
	}
	return e
}

func (s *DiscordSink) post(ctx context.Context, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return models.Transient("post webhook", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.Transient("post webhook", fmt.Errorf("status %d: %s", resp.StatusCode, string(msg)))
	}
	return nil
}
