package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DCAPILOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DCAPILOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "DCAPILOT_CHAIN_RPC_URL")
	setStr(&cfg.Chain.RouterAddress, "DCAPILOT_CHAIN_ROUTER_ADDRESS")
	setStr(&cfg.Chain.ManagerAddress, "DCAPILOT_CHAIN_MANAGER_ADDRESS")
	setStr(&cfg.Chain.GasFloorWei, "DCAPILOT_CHAIN_GAS_FLOOR_WEI")

	// ── Keystore ──
	setStr(&cfg.Keystore.Dir, "DCAPILOT_KEYSTORE_DIR")
	setStr(&cfg.Keystore.Password, "DCAPILOT_KEYSTORE_PASSWORD")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DCAPILOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DCAPILOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DCAPILOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DCAPILOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DCAPILOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DCAPILOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DCAPILOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DCAPILOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DCAPILOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DCAPILOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "DCAPILOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DCAPILOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DCAPILOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DCAPILOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DCAPILOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DCAPILOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.SeriesTTL, "DCAPILOT_REDIS_SERIES_TTL")
	setDuration(&cfg.Redis.SpotTTL, "DCAPILOT_REDIS_SPOT_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "DCAPILOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DCAPILOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "DCAPILOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DCAPILOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DCAPILOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DCAPILOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DCAPILOT_S3_FORCE_PATH_STYLE")

	// ── Feed ──
	setStr(&cfg.Feed.BaseURL, "DCAPILOT_FEED_BASE_URL")
	setStr(&cfg.Feed.WsURL, "DCAPILOT_FEED_WS_URL")
	setStringSlice(&cfg.Feed.StreamPairs, "DCAPILOT_FEED_STREAM_PAIRS")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.Interval, "DCAPILOT_SCHEDULER_INTERVAL")
	setInt(&cfg.Scheduler.BatchSize, "DCAPILOT_SCHEDULER_BATCH_SIZE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "DCAPILOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "DCAPILOT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "DCAPILOT_ARCHIVE_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DCAPILOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DCAPILOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DCAPILOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DCAPILOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "DCAPILOT_MODE")
	setStr(&cfg.LogLevel, "DCAPILOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
