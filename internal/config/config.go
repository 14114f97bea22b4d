package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variable names understood by the service.
const (
	EnvSecretKey      = "TOOLGATE_SECRET_KEY"
	EnvListenAddr     = "TOOLGATE_LISTEN_ADDR"
	EnvPostgresDSN    = "TOOLGATE_PG_DSN"
	EnvCommandsBase   = "TOOLGATE_COMMANDS_BASE"
	EnvCallsPerSecond = "TOOLGATE_CALLS_PER_SECOND_LIMIT"
	EnvCatalogVersion = "TOOLGATE_META_VERSION"
	EnvLogLevel       = "TOOLGATE_LOG_LEVEL"
)

const (
	defaultListenAddr     = ":8080"
	defaultCommandsBase   = "commands_base.json"
	defaultCallsPerSecond = 10
	defaultCatalogVersion = "1"
	defaultLogLevel       = "INFO"
)

var errMissingSecret = errors.New("config: " + EnvSecretKey + " is not set")

// Config holds process-wide settings resolved from the environment.
type Config struct {
	// SecretKey seeds the integrity hasher and signs bearer tokens.
	// It is never persisted alongside the entities it protects.
	SecretKey string

	ListenAddr     string
	PostgresDSN    string
	CommandsBase   string
	CallsPerSecond int
	CatalogVersion string
	LogLevel       string
}

// Load resolves configuration from the environment. The secret key is the
// only mandatory value.
func Load() (Config, error) {
	secret := strings.TrimSpace(os.Getenv(EnvSecretKey))
	if secret == "" {
		return Config{}, errMissingSecret
	}

	cfg := Config{
		SecretKey:      secret,
		ListenAddr:     envOr(EnvListenAddr, defaultListenAddr),
		PostgresDSN:    strings.TrimSpace(os.Getenv(EnvPostgresDSN)),
		CommandsBase:   envOr(EnvCommandsBase, defaultCommandsBase),
		CallsPerSecond: defaultCallsPerSecond,
		CatalogVersion: envOr(EnvCatalogVersion, defaultCatalogVersion),
		LogLevel:       envOr(EnvLogLevel, defaultLogLevel),
	}

	if raw := strings.TrimSpace(os.Getenv(EnvCallsPerSecond)); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("config: invalid %s value %q", EnvCallsPerSecond, raw)
		}
		cfg.CallsPerSecond = n
	}
	return cfg, nil
}

func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}
