// Package config centralizes acpd's command-line flags and their
// ACPD_*-prefixed environment variable overrides, following the teacher's
// cmd/server/main.go::envOrDefault pattern.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// Config holds every daemon tunable sourced from flags/env. Zero values are
// never used directly — RegisterFlags seeds each field with its default
// before Cobra parses the command line.
type Config struct {
	// ACP WebSocket server
	WSAddr                  string
	ChannelCapacity         int
	HeartbeatInterval       time.Duration
	StaleTTL                time.Duration
	RequestTimeout          time.Duration
	DevAllowUnauthenticated bool

	// Admin HTTP API
	AdminAddr string

	// Database / experience + pattern store
	DBDriver string
	DBDSN    string

	// Rate limiting
	RateLimitGlobalPerSecond float64
	RateLimitGlobalBurst     int
	RateLimitIPPerSecond     float64
	RateLimitIPBurst         int
	RateLimitKeyPerSecond    float64
	RateLimitKeyBurst        int

	// RL policy
	RLAlgorithm string

	// Auth
	APIKeysFile string
	JWTIssuer   string
	JWTDataDir  string

	LogLevel string
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envOrDefaultBool(key string, defaultVal bool) bool {
	return envOrDefault(key, strconv.FormatBool(defaultVal)) == "true"
}

func envOrDefaultDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// RegisterFlags binds cfg's fields to cmd's persistent flags, each
// defaulting to its ACPD_* environment variable override (or the literal
// default given here if the variable is unset).
func RegisterFlags(cmd *cobra.Command, cfg *Config) {
	f := cmd.PersistentFlags()

	f.StringVar(&cfg.WSAddr, "ws-addr", envOrDefault("ACPD_WS_ADDR", ":7070"), "ACP WebSocket server listen address")
	f.IntVar(&cfg.ChannelCapacity, "channel-capacity", envOrDefaultInt("ACPD_CHANNEL_CAPACITY", 100), "Per-connection outbound queue capacity")
	f.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", envOrDefaultDuration("ACPD_HEARTBEAT_INTERVAL", 30*time.Second), "Stale pending-request sweep interval")
	f.DurationVar(&cfg.StaleTTL, "stale-ttl", envOrDefaultDuration("ACPD_STALE_TTL", 900*time.Second), "Age after which a pending request is dropped by the stale sweep")
	f.DurationVar(&cfg.RequestTimeout, "request-timeout", envOrDefaultDuration("ACPD_REQUEST_TIMEOUT", 30*time.Second), "Default pending-request timeout")
	f.BoolVar(&cfg.DevAllowUnauthenticated, "dev-allow-unauthenticated", envOrDefaultBool("ACPD_DEV_ALLOW_UNAUTHENTICATED", false), "Allow unauthenticated agent connections (dev only)")

	f.StringVar(&cfg.AdminAddr, "admin-addr", envOrDefault("ACPD_ADMIN_ADDR", ":7071"), "Admin HTTP API listen address")

	f.StringVar(&cfg.DBDriver, "db-driver", envOrDefault("ACPD_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	f.StringVar(&cfg.DBDSN, "db-dsn", envOrDefault("ACPD_DB_DSN", "./acpd.db"), "Database DSN or file path for SQLite")

	f.Float64Var(&cfg.RateLimitGlobalPerSecond, "ratelimit-global-rps", envOrDefaultFloat("ACPD_RATELIMIT_GLOBAL_RPS", 0), "Global rate limit (requests/sec); 0 disables")
	f.IntVar(&cfg.RateLimitGlobalBurst, "ratelimit-global-burst", envOrDefaultInt("ACPD_RATELIMIT_GLOBAL_BURST", 0), "Global rate limit burst")
	f.Float64Var(&cfg.RateLimitIPPerSecond, "ratelimit-ip-rps", envOrDefaultFloat("ACPD_RATELIMIT_IP_RPS", 10), "Per-IP rate limit (requests/sec)")
	f.IntVar(&cfg.RateLimitIPBurst, "ratelimit-ip-burst", envOrDefaultInt("ACPD_RATELIMIT_IP_BURST", 20), "Per-IP rate limit burst")
	f.Float64Var(&cfg.RateLimitKeyPerSecond, "ratelimit-key-rps", envOrDefaultFloat("ACPD_RATELIMIT_KEY_RPS", 20), "Per-API-key rate limit (requests/sec)")
	f.IntVar(&cfg.RateLimitKeyBurst, "ratelimit-key-burst", envOrDefaultInt("ACPD_RATELIMIT_KEY_BURST", 40), "Per-API-key rate limit burst")

	f.StringVar(&cfg.RLAlgorithm, "rl-algorithm", envOrDefault("ACPD_RL_ALGORITHM", "q_learning"), "Active RL routing policy name")

	f.StringVar(&cfg.APIKeysFile, "api-keys-file", envOrDefault("ACPD_API_KEYS_FILE", ""), "Path to a JSON file of agent API key credentials")
	f.StringVar(&cfg.JWTIssuer, "jwt-issuer", envOrDefault("ACPD_JWT_ISSUER", "acpd"), "Issuer claim for operator bearer tokens")
	f.StringVar(&cfg.JWTDataDir, "jwt-data-dir", envOrDefault("ACPD_JWT_DATA_DIR", "./data"), "Directory holding jwt_private.pem/jwt_public.pem, if present")

	f.StringVar(&cfg.LogLevel, "log-level", envOrDefault("ACPD_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
}
