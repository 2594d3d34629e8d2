package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/flagx"
)

const envPrefix = "ORBIT_"

// parseEnv loads the dotenv file (a missing default file is fine) and then
// overlays any ORBIT_* variables. Variables already set in the process
// environment win over the file, as godotenv.Load never overrides them.
func parseEnv(cfg *Config, args []string) error {
	file := flagx.EnvFileFlag(args)
	explicit := file != ""
	if !explicit {
		file = ".env"
	}

	if err := godotenv.Load(file); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", file, err)
		}
	}

	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}
	str("API_BASE_URL", &cfg.APIBaseURL)
	str("THING_ENDPOINT", &cfg.ThingEndpoint)
	str("VIDEO_ENDPOINT", &cfg.VideoEndpoint)
	str("DATABASE_PATH", &cfg.DatabasePath)
	str("MEDIA_DIR", &cfg.MediaDir)
	str("TEMP_DIR", &cfg.TempDir)
	str("STATE_BACKEND", &cfg.StateBackend)
	str("STATE_DIR", &cfg.StateDir)
	str("BACKGROUND_SESSION_ID", &cfg.BackgroundSessionID)
	str("CREDENTIAL_FILE", &cfg.CredentialFile)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	str("LOG_FILE", &cfg.LogFile)
	str("METRICS_ADDR", &cfg.MetricsAddr)

	if err := envInt("MAX_BACKGROUND_TRANSFERS", &cfg.MaxBackgroundTransfers); err != nil {
		return err
	}
	if err := envInt("MAX_FOREGROUND_TRANSFERS", &cfg.MaxForegroundTransfers); err != nil {
		return err
	}
	if err := envBool("HEADLESS", &cfg.Headless); err != nil {
		return err
	}
	if err := envDuration("REACHABILITY_INTERVAL", &cfg.ReachabilityInterval); err != nil {
		return err
	}
	return envDuration("RETRY_COOLDOWN", &cfg.RetryCooldown)
}

func envInt(name string, dst *int) error {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, name, err)
	}
	*dst = n
	return nil
}

func envBool(name string, dst *bool) error {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, name, err)
	}
	*dst = b
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, name, err)
	}
	*dst = d
	return nil
}
