package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var (
	// ErrMissingBotToken is returned when the Telegram transport is started without a token.
	ErrMissingBotToken = errors.New("TELEGRAM_BOT_TOKEN is not set")
	// ErrNoAllowedChats is returned when the Telegram transport would answer nobody.
	ErrNoAllowedChats = errors.New("TELEGRAM_ALLOWED_CHAT_IDS is not set")
)

const (
	ScraperHTTP = "http"
	ScraperRod  = "rod"
)

// Config holds all configuration for the application.
// Values are read by viper from a config file or environment variables.
type Config struct {
	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	// TelegramAllowedChatIDs lists the chats the bot serves, separated by commas or
	// spaces. Messages from any other chat are ignored.
	TelegramAllowedChatIDs string `mapstructure:"TELEGRAM_ALLOWED_CHAT_IDS"`
	BadgerDBPath           string `mapstructure:"BADGERDB_PATH"`
	LogLevel               string `mapstructure:"LOG_LEVEL"`

	// ScraperBackend is "http" for a plain GET or "rod" for a headless browser.
	ScraperBackend string        `mapstructure:"SCRAPER_BACKEND"`
	FetchTimeout   time.Duration `mapstructure:"FETCH_TIMEOUT"`
	FetchUserAgent string        `mapstructure:"FETCH_USER_AGENT"`

	EnrichWorkers        int           `mapstructure:"ENRICH_WORKERS"`
	EnrichInitialBackoff time.Duration `mapstructure:"ENRICH_INITIAL_BACKOFF"`
	EnrichMaxBackoff     time.Duration `mapstructure:"ENRICH_MAX_BACKOFF"`
	// EnrichMaxAttempts below zero retries forever.
	EnrichMaxAttempts int `mapstructure:"ENRICH_MAX_ATTEMPTS"`

	// NetworkProbeAddr is a host:port dialed to decide whether the network is up.
	// Empty disables the probe.
	NetworkProbeAddr     string        `mapstructure:"NETWORK_PROBE_ADDR"`
	NetworkProbeInterval time.Duration `mapstructure:"NETWORK_PROBE_INTERVAL"`

	GCSchedule    string `mapstructure:"GC_SCHEDULE"`
	SweepSchedule string `mapstructure:"SWEEP_SCHEDULE"`

	allowedChats []int64
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("TELEGRAM_BOT_TOKEN", "")
	v.SetDefault("TELEGRAM_ALLOWED_CHAT_IDS", "")
	v.SetDefault("BADGERDB_PATH", "./badger_data")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SCRAPER_BACKEND", ScraperHTTP)
	v.SetDefault("FETCH_TIMEOUT", 20*time.Second)
	v.SetDefault("FETCH_USER_AGENT", "")
	v.SetDefault("ENRICH_WORKERS", 4)
	v.SetDefault("ENRICH_INITIAL_BACKOFF", 10*time.Second)
	v.SetDefault("ENRICH_MAX_BACKOFF", time.Hour)
	v.SetDefault("ENRICH_MAX_ATTEMPTS", 8)
	v.SetDefault("NETWORK_PROBE_ADDR", "1.1.1.1:443")
	v.SetDefault("NETWORK_PROBE_INTERVAL", 15*time.Second)
	v.SetDefault("GC_SCHEDULE", "@every 10m")
	v.SetDefault("SWEEP_SCHEDULE", "@every 1h")
}

// LoadConfig reads configuration from config.yaml in path, overridden by environment
// variables. A missing config file is fine.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	err = v.ReadInConfig()
	if err != nil {
		// Env vars and defaults are enough without a file.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	err = v.Unmarshal(&config)
	if err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := config.validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c *Config) validate() error {
	c.ScraperBackend = strings.ToLower(strings.TrimSpace(c.ScraperBackend))
	switch c.ScraperBackend {
	case ScraperHTTP, ScraperRod:
	default:
		return fmt.Errorf("SCRAPER_BACKEND must be %q or %q, got %q", ScraperHTTP, ScraperRod, c.ScraperBackend)
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	if strings.TrimSpace(c.BadgerDBPath) == "" {
		return errors.New("BADGERDB_PATH is empty")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive, got %s", c.FetchTimeout)
	}
	if c.EnrichWorkers <= 0 {
		return fmt.Errorf("ENRICH_WORKERS must be positive, got %d", c.EnrichWorkers)
	}
	if c.EnrichInitialBackoff <= 0 {
		return fmt.Errorf("ENRICH_INITIAL_BACKOFF must be positive, got %s", c.EnrichInitialBackoff)
	}
	if c.EnrichMaxBackoff < c.EnrichInitialBackoff {
		return fmt.Errorf("ENRICH_MAX_BACKOFF (%s) is below ENRICH_INITIAL_BACKOFF (%s)",
			c.EnrichMaxBackoff, c.EnrichInitialBackoff)
	}
	if c.EnrichMaxAttempts == 0 {
		return errors.New("ENRICH_MAX_ATTEMPTS must not be zero")
	}
	if c.NetworkProbeAddr != "" && c.NetworkProbeInterval <= 0 {
		return fmt.Errorf("NETWORK_PROBE_INTERVAL must be positive, got %s", c.NetworkProbeInterval)
	}

	chats, err := parseChatIDs(c.TelegramAllowedChatIDs)
	if err != nil {
		return err
	}
	c.allowedChats = chats
	return nil
}

func parseChatIDs(raw string) ([]int64, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	ids := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("TELEGRAM_ALLOWED_CHAT_IDS: invalid chat id %q", f)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// AllowedChatIDs returns the chats the Telegram transport answers.
func (c Config) AllowedChatIDs() []int64 {
	return c.allowedChats
}

// RequireBotToken checks the settings needed by the Telegram transport: a token and at
// least one allowed chat.
func (c Config) RequireBotToken() error {
	if strings.TrimSpace(c.TelegramBotToken) == "" {
		return ErrMissingBotToken
	}
	if len(c.allowedChats) == 0 {
		return ErrNoAllowedChats
	}
	return nil
}

// Level returns the configured log level. LoadConfig has already validated it.
func (c Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
