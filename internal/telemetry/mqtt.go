// Package telemetry publishes game lifecycle events and heartbeats to an
// MQTT broker.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/stepgame/internal/config"
	"github.com/energizer-project/stepgame/internal/events"
	"github.com/energizer-project/stepgame/internal/util"
)

// Topic suffixes below the configured prefix.
const (
	TopicEvents = "events"
	TopicStatus = "status"
	TopicAdmin  = "admin"
)

// ErrDisabled is returned when MQTT is turned off in the configuration.
var ErrDisabled = errors.New("MQTT is disabled")

const (
	publishQoS     = 1
	disconnectWait = 5000 // milliseconds
)

// MQTTHandler forwards bus events to the broker. Every message carries the
// host metadata next to the event.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	metadata map[string]interface{}
	logger   zerolog.Logger
}

// NewMQTTHandler creates a handler for the configured broker. It does not connect.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	sysInfo := util.GetSystemInfo()

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("stepgame-%s", sysInfo.Hostname))
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if cfg.UseTLS {
		tlsConfig, err := util.LoadClientTLS(cfg.CAFile, cfg.BrokerURL, false)
		if err != nil {
			return nil, fmt.Errorf("failed to build MQTT TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	logger := log.With().Str("component", "mqtt").Logger()
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	return newHandler(cfg, eventBus, mqtt.NewClient(opts), sysInfo), nil
}

func newHandler(cfg config.MQTTConfig, eventBus *events.EventBus, client mqtt.Client, sysInfo util.SystemInfo) *MQTTHandler {
	return &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		client:   client,
		metadata: map[string]interface{}{
			"hostname":  sysInfo.Hostname,
			"os":        sysInfo.OS,
			"cpu_model": sysInfo.CPUModel,
			"cpu_cores": sysInfo.CPUCores,
			"memory_mb": sysInfo.TotalMemory,
		},
		logger: log.With().Str("component", "mqtt").Logger(),
	}
}

// Start connects, subscribes to the bus and blocks until ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()
	defer h.unsubscribeEvents()

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(disconnectWait)
	h.logger.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.SubscribeAllOrdered("mqtt", 0, h.onEvent)
}

func (h *MQTTHandler) unsubscribeEvents() {
	h.eventBus.UnsubscribeAll("mqtt")
}

// Topic joins the configured prefix with a suffix.
func (h *MQTTHandler) Topic(parts ...string) string {
	prefix := strings.Trim(h.cfg.TopicPrefix, "/")
	if prefix == "" {
		return strings.Join(parts, "/")
	}
	return prefix + "/" + strings.Join(parts, "/")
}

// topicFor picks the topic of an event: heartbeats go to status, shutdown
// to admin and everything else under events.
func (h *MQTTHandler) topicFor(t events.EventType) string {
	switch t {
	case events.EventServerStatus:
		return h.Topic(TopicStatus)
	case events.EventShutdown:
		return h.Topic(TopicAdmin)
	default:
		return h.Topic(TopicEvents, string(t))
	}
}

func (h *MQTTHandler) onEvent(_ context.Context, event events.Event) error {
	return h.publish(h.topicFor(event.Type), event)
}

// publish sends a JSON message. Messages are dropped while disconnected.
func (h *MQTTHandler) publish(topic string, event events.Event) error {
	if !h.client.IsConnected() {
		return nil
	}

	data, err := json.Marshal(h.buildMessage(event))
	if err != nil {
		return fmt.Errorf("failed to marshal MQTT message for %s: %w", topic, err)
	}

	token := h.client.Publish(topic, publishQoS, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
	return nil
}

func (h *MQTTHandler) buildMessage(event events.Event) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+4)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["event"] = event.Type
	msg["source"] = event.Source
	msg["timestamp"] = event.Time.UTC().Format(time.RFC3339)
	msg["payload"] = event.Payload
	return msg
}

// PublishShutdown announces that the server is going away.
func (h *MQTTHandler) PublishShutdown() {
	if err := h.publish(h.Topic(TopicAdmin), events.Event{
		Type:   events.EventShutdown,
		Source: "mqtt",
		Time:   time.Now(),
	}); err != nil {
		h.logger.Warn().Err(err).Msg("failed to publish shutdown")
	}
}
