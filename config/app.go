package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig holds the tunables of the test engine. Backing stores are
// configured separately from their own env vars.
type AppConfig struct {
	Server  ServerConfig  `mapstructure:"server"`
	Credits CreditsConfig `mapstructure:"credits"`
	Avatar  AvatarConfig  `mapstructure:"avatar"`
	Scoring ScoringConfig `mapstructure:"scoring"`
	History HistoryConfig `mapstructure:"history"`
	Sweeper SweeperConfig `mapstructure:"sweeper"`
	Audio   AudioConfig   `mapstructure:"audio"`
	Vertex  VertexConfig  `mapstructure:"vertex"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type CreditsConfig struct {
	SessionCost int64 `mapstructure:"session_cost"`
}

type AvatarConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	ReplicaID       string        `mapstructure:"replica_id"`
	PersonaID       string        `mapstructure:"persona_id"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxCallDuration int           `mapstructure:"max_call_duration"`
}

type ScoringConfig struct {
	// Jitter adds up to this many random points to three sub-skills. 0 disables it.
	Jitter int   `mapstructure:"jitter"`
	Seed   int64 `mapstructure:"seed"`
}

type HistoryConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type SweeperConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

type AudioConfig struct {
	Bucket  string `mapstructure:"bucket"`
	Stream  string `mapstructure:"stream"`
	Workers int    `mapstructure:"workers"`
}

type VertexConfig struct {
	Project  string `mapstructure:"project"`
	Location string `mapstructure:"location"`
	Model    string `mapstructure:"model"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadApp reads an optional app.yaml from . or ./config, then lets env vars
// override any key (avatar.api_key -> AVATAR_API_KEY).
func LoadApp() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setAppDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if cfg.Credits.SessionCost <= 0 {
		return nil, fmt.Errorf("credits.session_cost must be > 0, got %d", cfg.Credits.SessionCost)
	}
	return &cfg, nil
}

func setAppDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")

	v.SetDefault("credits.session_cost", 10)

	v.SetDefault("avatar.base_url", "https://tavusapi.com")
	v.SetDefault("avatar.api_key", "")
	v.SetDefault("avatar.replica_id", "")
	v.SetDefault("avatar.persona_id", "")
	v.SetDefault("avatar.timeout", 20*time.Second)
	v.SetDefault("avatar.max_call_duration", 600)

	v.SetDefault("scoring.jitter", 0)
	v.SetDefault("scoring.seed", 0)

	v.SetDefault("history.cache_ttl", 60*time.Second)

	v.SetDefault("sweeper.interval", 15*time.Minute)
	v.SetDefault("sweeper.max_age", 3*time.Hour)

	v.SetDefault("audio.bucket", "")
	v.SetDefault("audio.stream", "audio:stream")
	v.SetDefault("audio.workers", 4)

	v.SetDefault("vertex.project", "")
	v.SetDefault("vertex.location", "us-central1")
	v.SetDefault("vertex.model", "gemini-1.5-flash")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
