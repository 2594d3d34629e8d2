package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/flagx"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/timex"
)

// JsonConfig is a DTO used exclusively for config file unmarshalling. Pointer fields
// tell "absent" apart from zero values so a partial file only overrides what
// it names.
type JsonConfig struct {
	APIBaseURL             *string         `json:"api_base_url" yaml:"api_base_url"`
	ThingEndpoint          *string         `json:"thing_endpoint" yaml:"thing_endpoint"`
	VideoEndpoint          *string         `json:"video_endpoint" yaml:"video_endpoint"`
	DatabasePath           *string         `json:"database_path" yaml:"database_path"`
	MediaDir               *string         `json:"media_dir" yaml:"media_dir"`
	TempDir                *string         `json:"temp_dir" yaml:"temp_dir"`
	StateBackend           *string         `json:"state_backend" yaml:"state_backend"`
	StateDir               *string         `json:"state_dir" yaml:"state_dir"`
	BackgroundSessionID    *string         `json:"background_session_id" yaml:"background_session_id"`
	MaxBackgroundTransfers *int            `json:"max_background_transfers" yaml:"max_background_transfers"`
	MaxForegroundTransfers *int            `json:"max_foreground_transfers" yaml:"max_foreground_transfers"`
	ReachabilityInterval   *timex.Duration `json:"reachability_interval" yaml:"reachability_interval"`
	RetryCooldown          *timex.Duration `json:"retry_cooldown" yaml:"retry_cooldown"`
	CredentialFile         *string         `json:"credential_file" yaml:"credential_file"`
	LogLevel               *string         `json:"log_level" yaml:"log_level"`
	LogFormat              *string         `json:"log_format" yaml:"log_format"`
	LogFile                *string         `json:"log_file" yaml:"log_file"`
	MetricsAddr            *string         `json:"metrics_addr" yaml:"metrics_addr"`
	Headless               *bool           `json:"headless" yaml:"headless"`
}

// parseJson overlays cfg with values from the file named by -c/-config.
// Files ending in .yaml or .yml are read as YAML, anything else as JSON.
// Without that flag it does nothing.
func parseJson(cfg *Config, args []string) error {
	jsonConfigFile := flagx.JsonConfigFlags(args)
	if jsonConfigFile == "" {
		return nil
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		return fmt.Errorf("read config %s: %w", jsonConfigFile, err)
	}

	var jc JsonConfig
	switch strings.ToLower(filepath.Ext(jsonConfigFile)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &jc)
	default:
		err = json.Unmarshal(data, &jc)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", jsonConfigFile, err)
	}

	setString(&cfg.APIBaseURL, jc.APIBaseURL)
	setString(&cfg.ThingEndpoint, jc.ThingEndpoint)
	setString(&cfg.VideoEndpoint, jc.VideoEndpoint)
	setString(&cfg.DatabasePath, jc.DatabasePath)
	setString(&cfg.MediaDir, jc.MediaDir)
	setString(&cfg.TempDir, jc.TempDir)
	setString(&cfg.StateBackend, jc.StateBackend)
	setString(&cfg.StateDir, jc.StateDir)
	setString(&cfg.BackgroundSessionID, jc.BackgroundSessionID)
	setString(&cfg.CredentialFile, jc.CredentialFile)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.LogFormat, jc.LogFormat)
	setString(&cfg.LogFile, jc.LogFile)
	setString(&cfg.MetricsAddr, jc.MetricsAddr)

	if jc.MaxBackgroundTransfers != nil {
		cfg.MaxBackgroundTransfers = *jc.MaxBackgroundTransfers
	}
	if jc.MaxForegroundTransfers != nil {
		cfg.MaxForegroundTransfers = *jc.MaxForegroundTransfers
	}
	if jc.ReachabilityInterval != nil {
		cfg.ReachabilityInterval = jc.ReachabilityInterval.Duration
	}
	if jc.RetryCooldown != nil {
		cfg.RetryCooldown = jc.RetryCooldown.Duration
	}
	if jc.Headless != nil {
		cfg.Headless = *jc.Headless
	}

	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
