// Package config handles configuration loading, validation and persistence
// for the stepgame server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/stepgame/internal/game"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultListenAddr = "127.0.0.1:9797"
	DefaultAPIAddr    = "127.0.0.1:5080"
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Server  ServerConfig  `json:"server"`
	Game    GameConfig    `json:"game"`
	TLS     TLSConfig     `json:"tls"`
	API     APIConfig     `json:"api"`
	MQTT    MQTTConfig    `json:"mqtt"`
	Storage StorageConfig `json:"storage"`
	Webhook WebhookConfig `json:"webhook"`
	Health  HealthConfig  `json:"health"`
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig holds the game listener settings.
type ServerConfig struct {
	ListenAddr          string `json:"listen_addr" env:"STEPGAME_LISTEN_ADDR" env-description:"game listener address"`
	MaxConnections      int    `json:"max_connections" env:"STEPGAME_MAX_CONNECTIONS" env-description:"maximum concurrent players (1-256)"`
	MaxQueuedFrames     int    `json:"max_queued_frames" env:"STEPGAME_MAX_QUEUED_FRAMES" env-description:"outbound frames held per dispatcher cycle"`
	SendBuffer          int    `json:"send_buffer" env:"STEPGAME_SEND_BUFFER" env-description:"frames buffered per connection before it is dropped"`
	HandshakeTimeoutSec int    `json:"handshake_timeout_sec" env:"STEPGAME_HANDSHAKE_TIMEOUT"`
	IdleTimeoutSec      int    `json:"idle_timeout_sec" env:"STEPGAME_IDLE_TIMEOUT" env-description:"close silent connections after this many seconds, 0 disables"`
	EventBuffer         int    `json:"event_buffer" env:"STEPGAME_EVENT_BUFFER"`
}

// GameConfig holds the match rules.
type GameConfig struct {
	MaxMove       int    `json:"max_move" env:"STEPGAME_MAX_MOVE"`
	BoardSize     int    `json:"board_size" env:"STEPGAME_BOARD_SIZE"`
	RematchPolicy string `json:"rematch_policy" env:"STEPGAME_REMATCH_POLICY" env-description:"who starts a rematch: loser, winner or first"`
}

// TLSConfig holds the certificate used for player connections.
type TLSConfig struct {
	Enabled            bool     `json:"enabled" env:"STEPGAME_TLS_ENABLED"`
	CertFile           string   `json:"cert_file" env:"STEPGAME_TLS_CERT"`
	KeyFile            string   `json:"key_file" env:"STEPGAME_TLS_KEY"`
	GenerateSelfSigned bool     `json:"generate_self_signed" env:"STEPGAME_TLS_SELF_SIGNED"`
	Hosts              []string `json:"hosts" env:"STEPGAME_TLS_HOSTS" env-separator:","`
}

// APIConfig holds the monitoring API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled" env:"STEPGAME_API_ENABLED"`
	ListenAddr     string   `json:"listen_addr" env:"STEPGAME_API_ADDR"`
	AllowedOrigins []string `json:"allowed_origins" env:"STEPGAME_API_ORIGINS" env-separator:","`
	RateLimitRPS   int      `json:"rate_limit_rps" env:"STEPGAME_API_RATE_LIMIT"`
	Spectators     bool     `json:"spectators" env:"STEPGAME_API_SPECTATORS" env-description:"enable the websocket event feed"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled" env:"STEPGAME_MQTT_ENABLED"`
	BrokerURL   string `json:"broker_url" env:"STEPGAME_MQTT_BROKER"`
	Port        int    `json:"port" env:"STEPGAME_MQTT_PORT"`
	UseTLS      bool   `json:"use_tls" env:"STEPGAME_MQTT_TLS"`
	CAFile      string `json:"ca_file" env:"STEPGAME_MQTT_CA"`
	ClientID    string `json:"client_id" env:"STEPGAME_MQTT_CLIENT_ID"`
	Username    string `json:"username" env:"STEPGAME_MQTT_USERNAME"`
	Password    string `json:"password" env:"STEPGAME_MQTT_PASSWORD"`
	TopicPrefix string `json:"topic_prefix" env:"STEPGAME_MQTT_TOPIC_PREFIX"`
}

// StorageConfig holds the match history database settings.
type StorageConfig struct {
	Enabled       bool   `json:"enabled" env:"STEPGAME_STORAGE_ENABLED"`
	Path          string `json:"path" env:"STEPGAME_STORAGE_PATH"`
	RetentionDays int    `json:"retention_days" env:"STEPGAME_STORAGE_RETENTION_DAYS" env-description:"delete finished matches older than this, 0 keeps them forever"`
	CleanupTime   string `json:"cleanup_time" env:"STEPGAME_STORAGE_CLEANUP_TIME" env-description:"daily HH:MM when old matches are deleted"`
}

// WebhookConfig holds the Discord webhook that receives match results.
type WebhookConfig struct {
	Enabled  bool   `json:"enabled" env:"STEPGAME_WEBHOOK_ENABLED"`
	URL      string `json:"url" env:"STEPGAME_WEBHOOK_URL" env-description:"Discord compatible webhook receiving match results"`
	Username string `json:"username" env:"STEPGAME_WEBHOOK_USERNAME"`
}

// HealthConfig holds heartbeat settings.
type HealthConfig struct {
	HeartbeatIntervalSec int `json:"heartbeat_interval_sec" env:"STEPGAME_HEARTBEAT_INTERVAL"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level" env:"STEPGAME_LOG_LEVEL"`
	Directory  string `json:"directory" env:"STEPGAME_LOG_DIR"`
	MaxBackups int    `json:"max_backups" env:"STEPGAME_LOG_BACKUPS"`
	Console    bool   `json:"console" env:"STEPGAME_LOG_CONSOLE"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	rules := game.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			ListenAddr:          DefaultListenAddr,
			MaxConnections:      256,
			MaxQueuedFrames:     4096,
			SendBuffer:          256,
			HandshakeTimeoutSec: 10,
			IdleTimeoutSec:      0,
			EventBuffer:         1024,
		},
		Game: GameConfig{
			MaxMove:       int(rules.MaxMove),
			BoardSize:     int(rules.BoardSize),
			RematchPolicy: string(rules.Rematch),
		},
		TLS: TLSConfig{
			Enabled:            true,
			CertFile:           filepath.Join(DefaultConfigDir, "certs", "server.crt"),
			KeyFile:            filepath.Join(DefaultConfigDir, "certs", "server.key"),
			GenerateSelfSigned: true,
			Hosts:              []string{"127.0.0.1", "localhost"},
		},
		API: APIConfig{
			Enabled:        true,
			ListenAddr:     DefaultAPIAddr,
			AllowedOrigins: []string{"http://localhost:5080"},
			RateLimitRPS:   20,
			Spectators:     true,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			BrokerURL:   "localhost",
			Port:        1883,
			ClientID:    "stepgame",
			TopicPrefix: "stepgame",
		},
		Storage: StorageConfig{
			Enabled:       true,
			Path:          filepath.Join("data", "matches.db"),
			RetentionDays: 30,
			CleanupTime:   "04:00",
		},
		Webhook: WebhookConfig{
			Enabled:  false,
			Username: "stepgame",
		},
		Health: HealthConfig{
			HeartbeatIntervalSec: 30,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 5,
			Console:    true,
		},
	}
}

// Load reads the configuration from path, creating it with defaults when
// it does not exist, then applies STEPGAME_* environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = filepath.Join(DefaultConfigDir, DefaultConfigFile)
	}

	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Info().Str("path", path).Msg("config file not found, writing defaults")
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	log.Info().Str("path", path).Msg("configuration loaded")
	return cfg, nil
}

// EnvHelp describes the supported environment overrides.
func EnvHelp() (string, error) {
	header := "Environment overrides:"
	return cleanenv.GetDescription(DefaultConfig(), &header)
}

// Save writes the configuration to its file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

// GameRules converts the game section into engine rules.
func (c *Config) GameRules() game.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return game.Config{
		MaxPlayers: 2,
		MaxMove:    uint8(c.Game.MaxMove),
		BoardSize:  uint8(c.Game.BoardSize),
		Rematch:    game.RematchPolicy(c.Game.RematchPolicy),
	}
}

// HandshakeTimeout returns the TLS handshake timeout.
func (c *Config) HandshakeTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Server.HandshakeTimeoutSec) * time.Second
}

// IdleTimeout returns how long a silent connection is kept, zero for forever.
func (c *Config) IdleTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Server.IdleTimeoutSec) * time.Second
}

// HeartbeatInterval returns the health heartbeat period.
func (c *Config) HeartbeatInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Health.HeartbeatIntervalSec) * time.Second
}

// GetStorage returns a copy of the storage settings.
func (c *Config) GetStorage() StorageConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Storage
}

// GetWebhook returns a copy of the webhook settings.
func (c *Config) GetWebhook() WebhookConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Webhook
}

// GetMQTT returns a copy of the MQTT settings.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetAPI returns a copy of the API settings.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.API
}
