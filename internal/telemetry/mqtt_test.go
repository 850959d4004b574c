package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/stepgame/internal/config"
	"github.com/energizer-project/stepgame/internal/events"
	"github.com/energizer-project/stepgame/internal/util"
)

type doneToken struct {
	mqtt.Token
	err error
}

func (t doneToken) Wait() bool   { return true }
func (t doneToken) Error() error { return t.err }

type published struct {
	topic   string
	payload []byte
}

// fakeClient implements the parts of mqtt.Client the handler uses.
type fakeClient struct {
	mqtt.Client

	mu         sync.Mutex
	connected  bool
	connectErr error
	messages   []published
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr == nil {
		c.connected = true
	}
	return doneToken{err: c.connectErr}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, payload: payload.([]byte)})
	return doneToken{}
}

func (c *fakeClient) sent() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...)
}

func testHandler(prefix string, client *fakeClient, bus *events.EventBus) *MQTTHandler {
	cfg := config.MQTTConfig{Enabled: true, BrokerURL: "broker", Port: 1883, TopicPrefix: prefix}
	return newHandler(cfg, bus, client, util.SystemInfo{Hostname: "host-1", CPUCores: 4})
}

func TestNewMQTTHandlerDisabled(t *testing.T) {
	_, err := NewMQTTHandler(config.MQTTConfig{}, events.NewEventBus())
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestTopics(t *testing.T) {
	tests := []struct {
		prefix string
		event  events.EventType
		want   string
	}{
		{"stepgame", events.EventMatchStarted, "stepgame/events/match_started"},
		{"/stepgame/", events.EventGameOver, "stepgame/events/game_over"},
		{"stepgame", events.EventServerStatus, "stepgame/status"},
		{"stepgame", events.EventShutdown, "stepgame/admin"},
		{"", events.EventPlayerMoved, "events/player_moved"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			h := testHandler(tt.prefix, &fakeClient{}, events.NewEventBus())
			assert.Equal(t, tt.want, h.topicFor(tt.event))
		})
	}
}

func TestStartForwardsBusEvents(t *testing.T) {
	bus := events.NewEventBus()
	client := &fakeClient{}
	h := testHandler("stepgame", client, bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Start(ctx) }()

	// Given: the handler has subscribed
	require.Eventually(t, func() bool {
		return bus.HandlerCount(events.EventMatchStarted) == 1
	}, time.Second, 5*time.Millisecond)

	// When: a match starts
	require.NoError(t, bus.EmitSync(ctx, events.Event{
		Type:    events.EventMatchStarted,
		Source:  "dispatcher",
		Payload: events.MatchStartedPayload{MatchID: "m1"},
	}))

	// Then: it is published with the host metadata
	msgs := client.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, "stepgame/events/match_started", msgs[0].topic)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(msgs[0].payload, &body))
	assert.Equal(t, "host-1", body["hostname"])
	assert.Equal(t, "match_started", body["event"])
	assert.Equal(t, "dispatcher", body["source"])
	assert.Equal(t, "m1", body["payload"].(map[string]interface{})["match_id"])

	// When: the handler stops
	cancel()
	require.NoError(t, <-done)

	// Then: a shutdown notice went out and the bus no longer feeds it
	msgs = client.sent()
	require.Len(t, msgs, 2)
	assert.Equal(t, "stepgame/admin", msgs[1].topic)
	assert.Equal(t, 0, bus.HandlerCount(events.EventMatchStarted))
	assert.False(t, client.IsConnected())
}

func TestStartFailsWhenBrokerRefuses(t *testing.T) {
	client := &fakeClient{connectErr: errors.New("not authorized")}
	h := testHandler("stepgame", client, events.NewEventBus())

	err := h.Start(context.Background())

	assert.ErrorContains(t, err, "not authorized")
}

func TestPublishSkipsWhileDisconnected(t *testing.T) {
	client := &fakeClient{}
	h := testHandler("stepgame", client, events.NewEventBus())

	require.NoError(t, h.onEvent(context.Background(), events.Event{Type: events.EventPlayerMoved}))

	assert.Empty(t, client.sent())
}
