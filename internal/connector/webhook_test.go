package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/stepgame/internal/config"
	"github.com/energizer-project/stepgame/internal/events"
)

func webhookServer(t *testing.T, status int) (*httptest.Server, <-chan WebhookMessage) {
	t.Helper()
	received := make(chan WebhookMessage, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg WebhookMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err == nil {
			received <- msg
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, received
}

func waitMessage(t *testing.T, ch <-chan WebhookMessage) WebhookMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		require.Fail(t, "no webhook message received")
		return WebhookMessage{}
	}
}

func TestWebhookAnnouncesRounds(t *testing.T) {
	srv, received := webhookServer(t, http.StatusNoContent)
	bus := events.NewEventBus()
	defer bus.Stop()

	// Given: a notifier attached to the bus
	n := NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: srv.URL, Username: "stepgame"})
	n.Attach(bus)

	// When: a round ends
	bus.Emit(context.Background(), events.Event{
		Type: events.EventGameOver,
		Time: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Payload: events.GameOverPayload{
			MatchID:  "m1",
			Loser:    events.PlayerRef{ID: 0, Name: "alice"},
			Winners:  []events.PlayerRef{{ID: 1, Name: "bob"}},
			BoardLen: 10,
			Round:    2,
		},
	})

	// Then: the result is posted as an embed
	msg := waitMessage(t, received)
	assert.Equal(t, "stepgame", msg.Username)
	require.Len(t, msg.Embeds, 1)
	assert.Equal(t, "Round 2 of match m1", msg.Embeds[0].Title)
	assert.Equal(t, "**alice** filled the board at 10. Winner: bob", msg.Embeds[0].Description)
	assert.Equal(t, "2024-05-01T12:00:00Z", msg.Embeds[0].Timestamp)
	assert.Equal(t, colorRound, msg.Embeds[0].Color)
}

func TestWebhookAnnouncesDisconnects(t *testing.T) {
	srv, received := webhookServer(t, http.StatusOK)
	bus := events.NewEventBus()
	defer bus.Stop()

	NewWebhookNotifier(config.WebhookConfig{URL: srv.URL}).Attach(bus)

	bus.Emit(context.Background(), events.Event{
		Type:    events.EventMatchEnded,
		Payload: events.MatchEndedPayload{MatchID: "m7", Reason: events.EndReasonDisconnect, Rounds: 3},
	})

	msg := waitMessage(t, received)
	require.Len(t, msg.Embeds, 1)
	assert.Equal(t, "Match m7 ended", msg.Embeds[0].Title)
	assert.Equal(t, "Ended after 3 round(s): disconnect", msg.Embeds[0].Description)
	assert.Equal(t, colorError, msg.Embeds[0].Color)
}

func TestWebhookReportsRejections(t *testing.T) {
	srv, _ := webhookServer(t, http.StatusTooManyRequests)
	n := NewWebhookNotifier(config.WebhookConfig{URL: srv.URL})

	err := n.Send(context.Background(), "title", "body", colorRound, time.Time{})

	assert.ErrorContains(t, err, "status 429")
}

func TestWebhookIgnoresForeignPayloads(t *testing.T) {
	n := NewWebhookNotifier(config.WebhookConfig{URL: "http://127.0.0.1:1"})

	err := n.onGameOver(context.Background(), events.Event{Type: events.EventGameOver, Payload: "junk"})

	assert.NoError(t, err)
}
