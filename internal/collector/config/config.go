package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// State backends for the durable key-value store.
const (
	StateBackendSQLite = "sqlite"
	StateBackendBadger = "badger"
)

// Config holds runtime settings for the collector.
type Config struct {
	APIBaseURL    string `validate:"required,url"`
	ThingEndpoint string `validate:"required"`
	VideoEndpoint string `validate:"required"`

	DatabasePath string `validate:"required"`
	MediaDir     string `validate:"required"`
	TempDir      string

	// StateBackend selects where transfer mappings and pending deletions live.
	StateBackend string `validate:"oneof=sqlite badger"`
	StateDir     string

	BackgroundSessionID    string `validate:"required"`
	MaxBackgroundTransfers int    `validate:"gte=1"`
	MaxForegroundTransfers int    `validate:"gte=1"`

	ReachabilityInterval time.Duration `validate:"gt=0s"`
	RetryCooldown        time.Duration `validate:"gte=0s"`

	// CredentialFile switches the credential source from the participant
	// record to a watched token file.
	CredentialFile string

	LogLevel  string `validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	LogFormat string `validate:"oneof=text json"`
	LogFile   string

	MetricsAddr string

	// Headless runs the upload machinery without the interactive prompt.
	Headless bool
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.APIBaseURL = "https://orbit-data.city.ac.uk/phaseone/api"
	c.ThingEndpoint = "/things/"
	c.VideoEndpoint = "/videos/"
	c.DatabasePath = "orbit.db"
	c.MediaDir = "media"
	c.TempDir = os.TempDir()
	c.StateBackend = StateBackendSQLite
	c.StateDir = "state"
	c.BackgroundSessionID = "uk.ac.city.orbit-camera.background"
	c.MaxBackgroundTransfers = 1
	c.MaxForegroundTransfers = 4
	c.ReachabilityInterval = 10 * time.Second
	c.RetryCooldown = 30 * time.Minute
	c.LogLevel = "info"
	c.LogFormat = "text"
}

// ThingURL is the absolute URL of the thing collection.
func (c *Config) ThingURL() string { return c.join(c.ThingEndpoint) }

// VideoURL is the absolute URL of the video collection.
func (c *Config) VideoURL() string { return c.join(c.VideoEndpoint) }

func (c *Config) join(endpoint string) string {
	return strings.TrimRight(c.APIBaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the settings against their validate tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// BadgerDir is where the badger state backend keeps its files.
func (c *Config) BadgerDir() string {
	return filepath.Join(c.StateDir, "badger")
}

// LoadConfig constructs a Config, applies defaults, then overlays the
// environment, JSON and command-line flags in that order.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseEnv(cfg, args); err != nil {
		return nil, err
	}
	if err := parseJson(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
