// Package config defines the top-level configuration for the DCA pilot
// service and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DCAPILOT_* environment variables.
type Config struct {
	Chain     ChainConfig     `toml:"chain"`
	Keystore  KeystoreConfig  `toml:"keystore"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Feed      FeedConfig      `toml:"feed"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Archive   ArchiveConfig   `toml:"archive"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ChainConfig holds RPC and contract parameters for the execution chain.
type ChainConfig struct {
	// RPCURL is the JSON-RPC endpoint of the execution chain node.
	RPCURL string `toml:"rpc_url"`

	// RouterAddress is the V2-style swap router the purchase pipeline trades
	// through.
	RouterAddress string `toml:"router_address"`

	// ManagerAddress is the delegation manager contract that session signers
	// redeem granted funds from.
	ManagerAddress string `toml:"manager_address"`

	// GasFloorWei, when non-empty, is the native balance (in wei, base-10)
	// below which the session signer is topped up from its native grant
	// before trading. Empty disables gas top-ups.
	GasFloorWei string `toml:"gas_floor_wei"`
}

// KeystoreConfig holds the encrypted session-key store parameters.
type KeystoreConfig struct {
	// Dir is the directory holding the encrypted session key files.
	Dir string `toml:"dir"`

	// Password decrypts the session key files.
	Password string `toml:"password"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection and cache-TTL parameters.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	SeriesTTL  duration `toml:"series_ttl"`
	SpotTTL    duration `toml:"spot_ttl"`
}

// S3Config holds S3-compatible object storage parameters for the execution
// archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// FeedConfig holds market-data indexer endpoints.
type FeedConfig struct {
	// BaseURL is the HTTP base of the market-data indexer.
	BaseURL string `toml:"base_url"`

	// WsURL is the websocket endpoint for live price ticks. Empty disables
	// the stream; the HTTP feed alone is sufficient for evaluation.
	WsURL string `toml:"ws_url"`

	// StreamPairs lists pairs ("WETH-USDC") to subscribe the live stream to.
	StreamPairs []string `toml:"stream_pairs"`
}

// SchedulerConfig holds the evaluation-loop parameters.
type SchedulerConfig struct {
	// Interval is how often the scheduler looks for due strategies.
	Interval duration `toml:"interval"`

	// BatchSize bounds how many due strategies one tick picks up.
	BatchSize int `toml:"batch_size"`
}

// ArchiveConfig holds the cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled bool `toml:"enabled"`

	// RetentionDays is how long terminal executions stay in Postgres before
	// the archiver moves them to object storage.
	RetentionDays int `toml:"retention_days"`

	// Interval is how often the archive pass runs.
	Interval duration `toml:"interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL: "http://localhost:8545",
		},
		Keystore: KeystoreConfig{
			Dir: "keys",
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "dcapilot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
			SeriesTTL:  duration{5 * time.Minute},
			SpotTTL:    duration{30 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "dcapilot-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Feed: FeedConfig{
			BaseURL: "http://localhost:8080",
		},
		Scheduler: SchedulerConfig{
			Interval:  duration{time.Minute},
			BatchSize: 100,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"execution_executed", "execution_failed"},
		},
		Mode:     "run",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":    true,
	"once":   true,
	"keygen": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, once, keygen)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Keystore — every mode signs or generates session keys.
	if c.Keystore.Dir == "" {
		errs = append(errs, "keystore: dir must not be empty")
	}
	if c.Keystore.Password == "" {
		errs = append(errs, "keystore: password must not be empty")
	}

	// Chain — required for the trading modes, not for keygen.
	tradingMode := c.Mode == "run" || c.Mode == "once"
	if tradingMode {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty")
		}
		if c.Chain.RouterAddress == "" {
			errs = append(errs, "chain: router_address must not be empty")
		}
		if c.Chain.ManagerAddress == "" {
			errs = append(errs, "chain: manager_address must not be empty")
		}
	}
	if c.Chain.GasFloorWei != "" {
		if _, ok := new(big.Int).SetString(c.Chain.GasFloorWei, 10); !ok {
			errs = append(errs, fmt.Sprintf("chain: gas_floor_wei %q is not a base-10 integer", c.Chain.GasFloorWei))
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Redis.SeriesTTL.Duration <= 0 {
		errs = append(errs, "redis: series_ttl must be > 0")
	}
	if c.Redis.SpotTTL.Duration <= 0 {
		errs = append(errs, "redis: spot_ttl must be > 0")
	}

	// S3 — only needed when archival is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// Feed
	if tradingMode && c.Feed.BaseURL == "" {
		errs = append(errs, "feed: base_url must not be empty")
	}

	// Scheduler
	if c.Scheduler.Interval.Duration <= 0 {
		errs = append(errs, "scheduler: interval must be > 0")
	}
	if c.Scheduler.BatchSize < 1 {
		errs = append(errs, "scheduler: batch_size must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// GasFloor parses GasFloorWei into a big.Int, or nil when unset. Validate
// must have passed first.
func (c *ChainConfig) GasFloor() *big.Int {
	if c.GasFloorWei == "" {
		return nil
	}
	floor, _ := new(big.Int).SetString(c.GasFloorWei, 10)
	return floor
}
