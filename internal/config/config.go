package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/VoiceCoach/internal/domain"
	"github.com/spf13/viper"
)

type ProviderConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SessionConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	CreateLimit    int           `mapstructure:"create_limit"`
	CreateInterval time.Duration `mapstructure:"create_interval"`
}

type WebhookConfig struct {
	Debounce     time.Duration `mapstructure:"debounce"`
	GoodbyeGrace time.Duration `mapstructure:"goodbye_grace"`
	Farewells    []string      `mapstructure:"farewells"`
}

type Config struct {
	Mode         string         `mapstructure:"mode"`
	Port         int            `mapstructure:"port"`
	StaticPath   string         `mapstructure:"static_path"`
	ReadLimit    int64          `mapstructure:"read_limit"`
	PingPeriod   time.Duration  `mapstructure:"ping_period"`
	Secret       string         `mapstructure:"secret"`
	LogLevel     string         `mapstructure:"log_level"`
	Backpressure string         `mapstructure:"backpressure"`
	Provider     ProviderConfig `mapstructure:"provider"`
	Session      SessionConfig  `mapstructure:"session"`
	Webhook      WebhookConfig  `mapstructure:"webhook"`
}

// Validate reports configuration problems that disable the voice feature.
// A missing provisioning key is not fatal to the process; the server stays
// up and every session attempt fails with the returned error.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Provider.APIKey) == "" {
		return domain.ErrMissingCredential
	}
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("%w: provider.base_url is empty", domain.ErrConfiguration)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("log_level", "info")
	v.SetDefault("backpressure", "drop")

	v.SetDefault("provider.base_url", "https://api.voice-rooms.example")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.timeout", "15s")

	v.SetDefault("session.ttl", "10m")
	v.SetDefault("session.create_limit", 5)
	v.SetDefault("session.create_interval", "1m")

	v.SetDefault("webhook.debounce", "900ms")
	v.SetDefault("webhook.goodbye_grace", "2s")
	v.SetDefault("webhook.farewells", []string{"goodbye"})
}

func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName if it exists, then applies VOICECOACH_* env overrides.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("VOICECOACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Session TTL: %s\n", cfg.Mode, cfg.Port, cfg.Session.TTL)
	return &cfg, nil
}
