// Package config loads kill-radar settings from a YAML file, a .env file,
// environment variables and command line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables
const (
	EnvConfig     = "KILL_RADAR_CONFIG"
	EnvDatabase   = "KILL_RADAR_DATABASE"
	EnvRedis      = "KILL_RADAR_REDIS"
	EnvWebhook    = "KILL_RADAR_DISCORD_WEBHOOK"
	EnvUniverseDB = "KILL_RADAR_UNIVERSE_DB"
	EnvHTTPAddr   = "KILL_RADAR_HTTP_ADDR"
	EnvLogLevel   = "KILL_RADAR_LOG_LEVEL"
	EnvFeedURL    = "KILL_RADAR_FEED_URL"
)

// Config holds all configuration for the application.
type Config struct {
	// RootSystem is the home system routes are computed from.
	RootSystem int32 `yaml:"root_system" validate:"required,gt=0"`

	Feed     FeedConfig     `yaml:"feed"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Universe UniverseConfig `yaml:"universe"`
	ESI      ESIConfig      `yaml:"esi"`
	Watcher  WatcherConfig  `yaml:"watcher"`
	Filters  FilterConfig   `yaml:"filters"`
	Discord  DiscordConfig  `yaml:"discord"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
}

type FeedConfig struct {
	URL    string `yaml:"url" validate:"required,url"`
	Buffer int    `yaml:"buffer" validate:"gte=1"`
}

// DatabaseConfig points at the map's PostgreSQL database.
type DatabaseConfig struct {
	URL   string `yaml:"url" validate:"required"`
	MapID int32  `yaml:"map_id" validate:"required,gt=0"`
}

// RedisConfig is optional; an empty URL disables cache invalidation.
type RedisConfig struct {
	URL string `yaml:"url"`
}

type UniverseConfig struct {
	Path string `yaml:"path" validate:"required"`
	// ImportCSV is loaded into the store at startup when set.
	ImportCSV string `yaml:"import_csv"`
	// WatchCSV re-imports ImportCSV whenever the file changes.
	WatchCSV bool `yaml:"watch_csv"`
}

type ESIConfig struct {
	BaseURL       string        `yaml:"base_url" validate:"required,url"`
	ZKillboardURL string        `yaml:"zkillboard_url" validate:"required,url"`
	UserAgent     string        `yaml:"user_agent" validate:"required"`
	Timeout       time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxConcurrent int           `yaml:"max_concurrent" validate:"gte=1"`
}

type WatcherConfig struct {
	Refresh        time.Duration `yaml:"refresh" validate:"gte=1s"`
	ProcessTimeout time.Duration `yaml:"process_timeout" validate:"gt=0"`
	KillMemory     int           `yaml:"kill_memory" validate:"gte=1"`
	StatsInterval  time.Duration `yaml:"stats_interval" validate:"gt=0"`
}

type FilterConfig struct {
	MaxSecurity    float64 `yaml:"max_security" validate:"gte=-1,lte=1.1"`
	Corporations   []int32 `yaml:"corporations"`
	FilterIfVictim bool    `yaml:"filter_if_victim"`
	ShipTypes      []int32 `yaml:"ship_types"`
}

// DiscordConfig is optional; without a webhook alerts go to the log.
type DiscordConfig struct {
	WebhookURL       string `yaml:"webhook_url" validate:"omitempty,url"`
	PingRoleID       string `yaml:"ping_role_id" validate:"omitempty,numeric"`
	PingOnlyWormhole bool   `yaml:"ping_only_wormhole"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns a configuration with every optional setting filled in.
func Default() *Config {
	return &Config{
		Feed: FeedConfig{
			URL:    "wss://zkillboard.com/websocket/",
			Buffer: 1000,
		},
		Universe: UniverseConfig{Path: "universe.db"},
		ESI: ESIConfig{
			BaseURL:       "https://esi.evetech.net/latest",
			ZKillboardURL: "https://zkillboard.com",
			UserAgent:     "kill-radar/1.0 (github.com/hervehildenbrand/kill-radar)",
			Timeout:       15 * time.Second,
			MaxConcurrent: 20,
		},
		Watcher: WatcherConfig{
			Refresh:        30 * time.Second,
			ProcessTimeout: 30 * time.Second,
			KillMemory:     1000,
			StatsInterval:  5 * time.Minute,
		},
		Filters: FilterConfig{MaxSecurity: 0.5},
		HTTP:    HTTPConfig{Addr: ":8080"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// ConfigurationError reports invalid or unreadable settings.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration: " + e.Err.Error()
	}
	return "configuration: " + e.Field + ": " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Overrides are command line values that take precedence over the
// environment and the file.
type Overrides struct {
	DatabaseURL string
	RedisURL    string
	WebhookURL  string
	UniverseDB  string
	HTTPAddr    string
	LogLevel    string
	FeedURL     string
}

// LoadDotEnv loads a .env file into the environment. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &ConfigurationError{Field: path, Err: err}
	}
	return nil
}

// Load reads the file at path (empty for defaults only), applies overrides
// and the environment, and validates the result.
func Load(path string, o Overrides) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &ConfigurationError{Field: path, Err: err}
		}
		if err := cfg.decode(bytes.NewReader(data)); err != nil {
			return nil, &ConfigurationError{Field: path, Err: err}
		}
	}
	cfg.apply(o, os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// getEnvOrFlag returns the flag value if set, otherwise the environment variable, otherwise the current value.
func getEnvOrFlag(flagVal string, getenv func(string) string, envName, current string) string {
	if flagVal != "" {
		return flagVal
	}
	if env := getenv(envName); env != "" {
		return env
	}
	return current
}

func (c *Config) apply(o Overrides, getenv func(string) string) {
	c.Database.URL = getEnvOrFlag(o.DatabaseURL, getenv, EnvDatabase, c.Database.URL)
	c.Redis.URL = getEnvOrFlag(o.RedisURL, getenv, EnvRedis, c.Redis.URL)
	c.Discord.WebhookURL = getEnvOrFlag(o.WebhookURL, getenv, EnvWebhook, c.Discord.WebhookURL)
	c.Universe.Path = getEnvOrFlag(o.UniverseDB, getenv, EnvUniverseDB, c.Universe.Path)
	c.HTTP.Addr = getEnvOrFlag(o.HTTPAddr, getenv, EnvHTTPAddr, c.HTTP.Addr)
	c.Log.Level = getEnvOrFlag(o.LogLevel, getenv, EnvLogLevel, c.Log.Level)
	c.Feed.URL = getEnvOrFlag(o.FeedURL, getenv, EnvFeedURL, c.Feed.URL)
}

// Validate checks every field. The first failing field is reported.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		return &ConfigurationError{Field: field, Err: fmt.Errorf("failed %q validation (value %v)", fe.Tag(), fe.Value())}
	}
	return &ConfigurationError{Err: err}
}
