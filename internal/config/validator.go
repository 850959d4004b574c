package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/energizer-project/stepgame/internal/game"
	"github.com/energizer-project/stepgame/internal/session"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks the whole configuration.
func Validate(cfg *Config) *ValidationResult {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	result := &ValidationResult{}
	validateServer(&cfg.Server, result)
	validateGame(&cfg.Game, result)
	validateTLS(&cfg.TLS, result)
	validateAPI(&cfg.API, &cfg.Server, result)
	validateMQTT(&cfg.MQTT, result)

	if cfg.Storage.Enabled && strings.TrimSpace(cfg.Storage.Path) == "" {
		result.AddError("storage.path", "database path is required when storage is enabled")
	}
	if cfg.Storage.RetentionDays < 0 {
		result.AddError("storage.retention_days", "must not be negative")
	}
	if cfg.Storage.RetentionDays > 0 {
		if _, _, err := ParseClock(cfg.Storage.CleanupTime); err != nil {
			result.AddError("storage.cleanup_time", err.Error())
		}
	}
	if cfg.Webhook.Enabled {
		if u, err := url.Parse(cfg.Webhook.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			result.AddError("webhook.url", "must be an http or https URL when the webhook is enabled")
		}
	}
	if cfg.Health.HeartbeatIntervalSec < 0 {
		result.AddError("health.heartbeat_interval_sec", "must not be negative")
	}
	return result
}

func validateServer(s *ServerConfig, result *ValidationResult) {
	validateAddr(s.ListenAddr, "server.listen_addr", result)

	if s.MaxConnections < 2 || s.MaxConnections > session.MaxSessions {
		result.AddError("server.max_connections",
			fmt.Sprintf("must be between 2 and %d (player ids are one byte)", session.MaxSessions))
	}
	if s.MaxQueuedFrames < 16 {
		result.AddError("server.max_queued_frames", "must be at least 16")
	}
	if s.SendBuffer < 8 {
		result.AddError("server.send_buffer", "must be at least 8")
	}
	if s.HandshakeTimeoutSec < 1 {
		result.AddError("server.handshake_timeout_sec", "must be at least 1 second")
	}
	if s.IdleTimeoutSec < 0 {
		result.AddError("server.idle_timeout_sec", "must not be negative")
	} else if s.IdleTimeoutSec > 0 && s.IdleTimeoutSec < 30 {
		result.AddWarning("server.idle_timeout_sec", "players thinking longer than this will be disconnected")
	}
	if s.EventBuffer < 1 {
		result.AddError("server.event_buffer", "must be at least 1")
	}
}

func validateGame(g *GameConfig, result *ValidationResult) {
	if g.MaxMove < 1 || g.MaxMove > 255 {
		result.AddError("game.max_move", "must be between 1 and 255")
	}
	if g.BoardSize < 1 || g.BoardSize > 255 {
		result.AddError("game.board_size", "must be between 1 and 255")
	}
	if g.MaxMove >= g.BoardSize && g.BoardSize > 0 {
		result.AddWarning("game.max_move", "the first player can always end the game in one move")
	}
	if !game.RematchPolicy(g.RematchPolicy).Valid() {
		result.AddError("game.rematch_policy",
			fmt.Sprintf("unknown policy %q (want loser, winner or first)", g.RematchPolicy))
	}
}

func validateTLS(t *TLSConfig, result *ValidationResult) {
	if !t.Enabled {
		result.AddWarning("tls.enabled", "player traffic will be sent in plaintext")
		return
	}
	if strings.TrimSpace(t.CertFile) == "" {
		result.AddError("tls.cert_file", "certificate file is required when TLS is enabled")
	}
	if strings.TrimSpace(t.KeyFile) == "" {
		result.AddError("tls.key_file", "key file is required when TLS is enabled")
	}
}

func validateAPI(a *APIConfig, s *ServerConfig, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	validateAddr(a.ListenAddr, "api.listen_addr", result)
	if a.ListenAddr == s.ListenAddr {
		result.AddError("api.listen_addr", "must differ from server.listen_addr")
	}
	if a.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps", "rate limit is disabled (0 RPS)")
	}
}

func validateMQTT(m *MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	validatePort(m.Port, "mqtt.port", result)
	if strings.TrimSpace(m.TopicPrefix) == "" {
		result.AddWarning("mqtt.topic_prefix", "topics will be published at the broker root")
	}
}

func validateAddr(addr, field string, result *ValidationResult) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		result.AddError(field, fmt.Sprintf("invalid address %q: %v", addr, err))
		return
	}
	if port == "0" {
		result.AddWarning(field, "port 0 picks a random port")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port %d (must be 1-65535)", port))
	}
}

// ParseClock parses a daily HH:MM time.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}
