// Package config loads runtime configuration for the collector.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. A dotenv file (default ".env", override with -env) and ORBIT_* variables.
//  3. Optional JSON file selected via -c or -config.
//  4. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-a string   API base URL
//	-d string   path of the local SQLite database
//	-i int      reachability check interval (seconds)
//	-cooldown   retry cool-down after a connectivity-regained sweep (e.g. 30m)
//	-token      path of a credential token file (enables the file provider)
//	-metrics    listen address of the Prometheus endpoint ("" disables it)
//
// # JSON schema
//
// Durations accept Go duration strings or integer nanoseconds:
//
//	{
//	  "api_base_url": "https://orbit.example/api",
//	  "retry_cooldown": "30m",
//	  "state_backend": "badger"
//	}
package config
