package config

import (
	"flag"
	"fmt"
	"io"
)

// CLIFlags holds optional command line overrides. A nil field means the
// flag was not set and the lower-precedence value is kept.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	DSN        *string
	NatsURL    *string
}

// ParseFlags parses command line arguments into CLIFlags.
// Supports long and short forms; unknown flags produce an error.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("agentifyd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	configPath := fs.String("config", "", "path to YAML config file")
	fs.StringVar(configPath, "c", "", "path to YAML config file (shorthand)")
	port := fs.String("port", "", "HTTP listen port")
	fs.StringVar(port, "p", "", "HTTP listen port (shorthand)")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error")
	dsn := fs.String("dsn", "", "PostgreSQL connection string")
	natsURL := fs.String("nats-url", "", "NATS server URL")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, fmt.Errorf("parse flags: %w", err)
	}

	var flags CLIFlags
	if *configPath != "" {
		flags.ConfigPath = configPath
	}
	if *port != "" {
		flags.Port = port
	}
	if *logLevel != "" {
		flags.LogLevel = logLevel
	}
	if *dsn != "" {
		flags.DSN = dsn
	}
	if *natsURL != "" {
		flags.NatsURL = natsURL
	}
	return flags, nil
}

// applyCLI overlays non-nil CLI flags onto cfg.
func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.DSN != nil {
		cfg.Postgres.DSN = *flags.DSN
	}
	if flags.NatsURL != nil {
		cfg.NATS.URL = *flags.NatsURL
	}
}

// LoadWithCLI returns a Config using the hierarchy:
// defaults < YAML < ENV < CLI. The second return value is the
// YAML path that was consulted.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg := Defaults()

	if err := loadYAML(&cfg, path); err != nil {
		return nil, "", fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, "", fmt.Errorf("config validate: %w", err)
	}

	return &cfg, path, nil
}
