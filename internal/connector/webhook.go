// Package connector posts match results to external chat services.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/stepgame/internal/config"
	"github.com/energizer-project/stepgame/internal/events"
)

const (
	colorRound = 0x00FF00
	colorEnded = 0xFFAA00
	colorError = 0xFF0000
)

// Embed is one Discord message embed.
type Embed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
	Footer      Footer `json:"footer"`
}

// Footer is the small text under an embed.
type Footer struct {
	Text string `json:"text"`
}

// WebhookMessage is the body posted to the webhook.
type WebhookMessage struct {
	Username string  `json:"username,omitempty"`
	Embeds   []Embed `json:"embeds"`
}

// WebhookNotifier announces finished rounds and matches on a Discord
// compatible webhook.
type WebhookNotifier struct {
	cfg    config.WebhookConfig
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookNotifier creates a notifier for cfg.URL.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: log.With().Str("component", "webhook").Logger(),
	}
}

// Attach subscribes the notifier to match results on the bus.
func (n *WebhookNotifier) Attach(bus *events.EventBus) {
	bus.Subscribe(events.EventGameOver, "webhook", n.onGameOver)
	bus.Subscribe(events.EventMatchEnded, "webhook", n.onMatchEnded)
}

func (n *WebhookNotifier) onGameOver(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(events.GameOverPayload)
	if !ok {
		return nil
	}

	winners := make([]string, 0, len(p.Winners))
	for _, w := range p.Winners {
		winners = append(winners, w.Name)
	}
	desc := fmt.Sprintf("**%s** filled the board at %d. Winner: %s",
		p.Loser.Name, p.BoardLen, strings.Join(winners, ", "))

	return n.Send(ctx, fmt.Sprintf("Round %d of match %s", p.Round, p.MatchID), desc, colorRound, e.Time)
}

func (n *WebhookNotifier) onMatchEnded(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(events.MatchEndedPayload)
	if !ok {
		return nil
	}

	color := colorEnded
	if p.Reason == events.EndReasonDisconnect {
		color = colorError
	}
	desc := fmt.Sprintf("Ended after %d round(s): %s", p.Rounds, p.Reason)

	return n.Send(ctx, "Match "+p.MatchID+" ended", desc, color, e.Time)
}

// Send posts one embed.
func (n *WebhookNotifier) Send(ctx context.Context, title, description string, color int, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	msg := WebhookMessage{
		Username: n.cfg.Username,
		Embeds: []Embed{{
			Title:       title,
			Description: description,
			Color:       color,
			Timestamp:   at.UTC().Format(time.RFC3339),
			Footer:      Footer{Text: "stepgame"},
		}},
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}

	n.logger.Debug().Str("title", title).Msg("webhook notification sent")
	return nil
}
