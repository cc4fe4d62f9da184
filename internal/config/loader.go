package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "agentify.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "AGENTIFY_PORT")
	setString(&cfg.Server.CORSOrigin, "AGENTIFY_CORS_ORIGIN")
	setString(&cfg.Server.BaseURL, "AGENTIFY_BASE_URL")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "AGENTIFY_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "AGENTIFY_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "AGENTIFY_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "AGENTIFY_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "AGENTIFY_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Gateway.URL, "AGENTIFY_GATEWAY_URL")
	setString(&cfg.Gateway.APIKey, "AGENTIFY_GATEWAY_API_KEY")
	setString(&cfg.Logging.Level, "AGENTIFY_LOG_LEVEL")
	setString(&cfg.Logging.Service, "AGENTIFY_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "AGENTIFY_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "AGENTIFY_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "AGENTIFY_BREAKER_TIMEOUT")

	// Routing
	setBool(&cfg.Routing.UseArbiter, "AGENTIFY_USE_ARBITER")
	setString(&cfg.Routing.RouterModel, "AGENTIFY_ROUTER_MODEL")
	setBool(&cfg.Routing.FallbackToAgentDecision, "AGENTIFY_FALLBACK_TO_AGENT_DECISION")
	setDuration(&cfg.Routing.ArbiterTimeout, "AGENTIFY_ARBITER_TIMEOUT")
	setInt(&cfg.Routing.ArbiterMaxTokens, "AGENTIFY_ARBITER_MAX_TOKENS")
	setInt(&cfg.Routing.MaxHandoffs, "AGENTIFY_MAX_HANDOFFS")
	setDuration(&cfg.Routing.ParallelTimeout, "AGENTIFY_PARALLEL_TIMEOUT")
	setInt(&cfg.Routing.MaxWorkers, "AGENTIFY_MAX_WORKERS")
	setString(&cfg.Routing.GuidancePath, "AGENTIFY_ROUTING_GUIDANCE")

	// Memory
	setBool(&cfg.Memory.Enabled, "AGENTIFY_MEMORY_ENABLED")
	setInt64(&cfg.Memory.CacheMaxMB, "AGENTIFY_MEMORY_CACHE_MB")

	// Events
	setDuration(&cfg.Events.RetentionTTL, "AGENTIFY_EVENTS_TTL")

	// Registry
	setString(&cfg.Registry.Path, "AGENTIFY_REGISTRY")

	// Telemetry
	setBool(&cfg.Telemetry.Enabled, "AGENTIFY_OTEL_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "AGENTIFY_OTEL_ENDPOINT")

	// Auth
	setBool(&cfg.Auth.Enabled, "AGENTIFY_AUTH_ENABLED")

	// MCP
	setBool(&cfg.MCP.Enabled, "AGENTIFY_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "AGENTIFY_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "AGENTIFY_MCP_API_KEY")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Registry.Path == "" {
		return errors.New("registry.path is required")
	}
	if cfg.Routing.MaxHandoffs < 1 {
		return errors.New("routing.max_handoffs must be >= 1")
	}
	if cfg.Routing.MaxWorkers < 1 {
		return errors.New("routing.max_workers must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
