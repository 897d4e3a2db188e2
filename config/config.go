// Package config reads the gateway's environment configuration. The
// platform's config loader (secrets operator, deploy tooling) supplies the
// values; this package only parses them.
package config

import (
	"os"
	"strings"
	"time"
)

// Config is everything the gateway process needs beyond the routes file
// and signing keys, which load through their own packages.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// RoutesFile is the path to the routing table JSON.
	RoutesFile string
	// DatabaseURL is the Postgres DSN for grant/catalog reads and audit
	// events. Empty runs the gateway with the in-memory store (dev only).
	DatabaseURL string
	// RedisAddr enables the shared rate limiter when set; empty falls
	// back to the in-memory single-node limiter.
	RedisAddr string
	// UpstreamTimeout bounds each downstream forward.
	UpstreamTimeout time.Duration
	// ProbeSchedule is the cron spec for upstream health probes.
	ProbeSchedule string
	// ServiceAPIKeyHashes lists "name:bcrypt-hash" pairs for internal
	// callers of the entitlement check endpoint.
	ServiceAPIKeyHashes []string
}

// Load reads configuration from the environment, applying defaults for
// anything unset.
func Load() Config {
	cfg := Config{
		Addr:            envOr("GATEWAY_ADDR", ":8080"),
		RoutesFile:      envOr("ROUTES_FILE", "routes.json"),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisAddr:       strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		UpstreamTimeout: envDuration("UPSTREAM_TIMEOUT", 10*time.Second),
		ProbeSchedule:   envOr("PROBE_SCHEDULE", "@every 30s"),
	}
	if raw := strings.TrimSpace(os.Getenv("SERVICE_API_KEY_HASHES")); raw != "" {
		cfg.ServiceAPIKeyHashes = strings.Split(raw, ",")
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
