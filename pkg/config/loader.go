package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/uniassist/gateway/pkg/database"
)

// Load reads configuration from the process environment, optionally
// preceded by a .env file (ignored if absent — mirrors local dev
// conventions used across the stack). Required secrets with no sane
// default cause Load to fail fast rather than start in a half-configured
// state.
func Load() (*Config, error) {
	_ = godotenv.Load()

	db, err := database.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	adapterSecret := os.Getenv("UNIASSIST_ADAPTER_SECRET")
	if adapterSecret == "" {
		return nil, fmt.Errorf("UNIASSIST_ADAPTER_SECRET is required")
	}
	contextToken := os.Getenv("UNIASSIST_PROVIDER_CONTEXT_TOKEN")
	if contextToken == "" {
		return nil, fmt.Errorf("UNIASSIST_PROVIDER_CONTEXT_TOKEN is required")
	}

	nonceTTL, err := time.ParseDuration(getEnvOrDefault("UNIASSIST_NONCE_TTL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid UNIASSIST_NONCE_TTL: %w", err)
	}
	clockSkew, err := time.ParseDuration(getEnvOrDefault("UNIASSIST_CLOCK_SKEW", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid UNIASSIST_CLOCK_SKEW: %w", err)
	}

	snapshotTTL, err := time.ParseDuration(getEnvOrDefault("UNIASSIST_CONTEXT_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid UNIASSIST_CONTEXT_TTL: %w", err)
	}

	outbox := DefaultOutboxConfig()
	if v := os.Getenv("UNIASSIST_OUTBOX_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid UNIASSIST_OUTBOX_WORKERS: %w", err)
		}
		outbox.WorkerCount = n
	}

	inline := strings.EqualFold(os.Getenv("UNIASSIST_OUTBOX_INLINE_DISPATCH"), "true")

	cfg := &Config{
		Port:     getEnvOrDefault("PORT", "8080"),
		Database: db,
		Stream: StreamConfig{
			RedisURL:  getEnvOrDefault("UNIASSIST_REDIS_URL", "redis://localhost:6379/0"),
			Prefix:    getEnvOrDefault("UNIASSIST_STREAM_PREFIX", "uniassist:session:"),
			GlobalKey: getEnvOrDefault("UNIASSIST_STREAM_GLOBAL_KEY", "uniassist:global"),
		},
		Security: SecurityConfig{
			AdapterSecret:        adapterSecret,
			ProviderContextToken: contextToken,
			NonceTTL:             nonceTTL,
			ClockSkew:            clockSkew,
		},
		Outbox:               outbox,
		Routing:              DefaultRoutingConfig(),
		UserContext:          UserContextConfig{SnapshotTTL: snapshotTTL},
		OutboxInlineDispatch: inline,
		ProviderBaseURLs:     parseProviderBaseURLs(os.Getenv("UNIASSIST_PROVIDER_BASE_URLS")),
	}

	return cfg, nil
}

// parseProviderBaseURLs parses a comma-separated providerId=url list, e.g.
// "chat=http://localhost:9001,calendar=http://localhost:9002".
func parseProviderBaseURLs(raw string) map[string]string {
	out := map[string]string{}
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
