// Package config loads server configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Game      GameConfig      `mapstructure:"game"`
	AI        AIConfig        `mapstructure:"ai"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Placement PlacementConfig `mapstructure:"placement"`
}

// ServerConfig holds the listener settings and global caps.
type ServerConfig struct {
	WebSocket   WebSocketConfig `mapstructure:"websocket"`
	MaxSessions int             `mapstructure:"max_sessions"`
}

// WebSocketConfig configures the event broadcast listener.
type WebSocketConfig struct {
	Address string `mapstructure:"address"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig configures the PostgreSQL match archive. An empty URL
// disables archiving.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// GameConfig tunes the rules engine and session lifecycle.
type GameConfig struct {
	MoveLimit          int           `mapstructure:"move_limit"`
	MaxQueueDepth      int           `mapstructure:"max_queue_depth"`
	TokenMaxAge        time.Duration `mapstructure:"token_max_age"`
	CaptureTopOnly     bool          `mapstructure:"capture_top_only"`
	CompletedRetention time.Duration `mapstructure:"completed_retention"`
}

// AIConfig tunes the move generator.
type AIConfig struct {
	MoveBudget          time.Duration `mapstructure:"move_budget"`
	TacticalReplyWeight float64       `mapstructure:"tactical_reply_weight"`
}

// TelemetryConfig tunes per-session latency tracking.
type TelemetryConfig struct {
	TargetLatency time.Duration `mapstructure:"target_latency"`
	WindowSize    int           `mapstructure:"window_size"`
}

// PlacementConfig tunes region selection and migration.
type PlacementConfig struct {
	SustainedSamples int `mapstructure:"sustained_samples"`
	TransferRetries  int `mapstructure:"transfer_retries"`
}

// Load reads configuration from the given path, applying defaults and
// GUNGI_-prefixed environment overrides. A missing file is not an error; the
// defaults stand.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("GUNGI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.websocket.address", ":8089")
	v.SetDefault("server.max_sessions", 1024)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.connect_timeout", 10*time.Second)

	v.SetDefault("game.move_limit", 300)
	v.SetDefault("game.max_queue_depth", 16)
	v.SetDefault("game.token_max_age", 30*time.Second)
	v.SetDefault("game.capture_top_only", true)
	v.SetDefault("game.completed_retention", 5*time.Minute)

	v.SetDefault("ai.move_budget", 40*time.Millisecond)
	v.SetDefault("ai.tactical_reply_weight", 1.0)

	v.SetDefault("telemetry.target_latency", 50*time.Millisecond)
	v.SetDefault("telemetry.window_size", 32)

	v.SetDefault("placement.sustained_samples", 5)
	v.SetDefault("placement.transfer_retries", 3)
}
