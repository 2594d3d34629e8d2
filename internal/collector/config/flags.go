package config

import (
	"flag"
	"io"
	"time"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags. Only
// the flags declared here are looked at; the rest of args is ignored.
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-a", "-d", "-i", "-cooldown", "-token", "-metrics", "-log-level", "-log-file", "-headless"})

	fs := flag.NewFlagSet("collector", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.APIBaseURL, "a", cfg.APIBaseURL, "API base URL")
	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "path of the local database")
	interval := fs.Int("i", int(cfg.ReachabilityInterval.Seconds()), "reachability check interval (in seconds)")
	fs.DurationVar(&cfg.RetryCooldown, "cooldown", cfg.RetryCooldown, "cool-down between connectivity-driven sweeps")
	fs.StringVar(&cfg.CredentialFile, "token", cfg.CredentialFile, "credential token file")
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus listen address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "rotated log file")
	fs.BoolVar(&cfg.Headless, "headless", cfg.Headless, "run without the interactive prompt")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "i" {
			cfg.ReachabilityInterval = time.Duration(*interval) * time.Second
		}
	})
	return nil
}
