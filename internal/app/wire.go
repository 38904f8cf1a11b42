package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/dcapilot/internal/blob/s3"
	"github.com/alanyoungcy/dcapilot/internal/cache/redis"
	"github.com/alanyoungcy/dcapilot/internal/chain"
	"github.com/alanyoungcy/dcapilot/internal/config"
	"github.com/alanyoungcy/dcapilot/internal/crypto"
	"github.com/alanyoungcy/dcapilot/internal/domain"
	"github.com/alanyoungcy/dcapilot/internal/feed"
	"github.com/alanyoungcy/dcapilot/internal/notify"
	"github.com/alanyoungcy/dcapilot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	Strategies  domain.StrategyStore
	Permissions domain.PermissionStore
	Executions  domain.ExecutionStore
	Audit       domain.AuditStore

	// Caches and messaging
	History domain.HistoryCache
	Locks   domain.LockManager
	Bus     domain.SignalBus

	// Chain access
	Balances   domain.BalanceReader
	Delegation domain.DelegationExecutor
	Swaps      domain.SwapBuilder
	Fills      domain.FillParser

	// Session keys
	Keys *crypto.FileKeyStore

	// Market data
	Prices domain.PriceFeed
	Flows  domain.FlowFeed
	Stream *feed.PriceStream

	// Cold storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// tradingMode returns true for modes that evaluate and execute strategies;
// keygen only touches the keystore.
func tradingMode(mode string) bool {
	return mode == "run" || mode == "once"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Session key store (every mode) ---
	keys, err := crypto.NewFileKeyStore(cfg.Keystore.Dir, cfg.Keystore.Password, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: keystore: %w", err)
	}
	deps.Keys = keys

	if !tradingMode(cfg.Mode) {
		return deps, cleanup, nil
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Strategies = postgres.NewStrategyStore(pool)
	deps.Permissions = postgres.NewPermissionStore(pool)
	deps.Executions = postgres.NewExecutionStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.Config{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.History = redis.NewHistoryCache(redisClient, cfg.Redis.SeriesTTL.Duration, cfg.Redis.SpotTTL.Duration)
	deps.Locks = redis.NewLockManager(redisClient)
	deps.Bus = redis.NewSignalBus(redisClient)

	// --- Chain ---
	chainClient, err := chain.Dial(ctx, cfg.Chain.RPCURL, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain: %w", err)
	}
	closers = append(closers, chainClient.Close)

	deps.Balances = chain.NewBalanceReader(chainClient)
	deps.Delegation = chain.NewDelegation(chainClient, keys, cfg.Chain.ManagerAddress, logger)
	deps.Swaps = chain.NewSwapBuilder(chainClient, cfg.Chain.RouterAddress)
	deps.Fills = chain.FillParser{}

	// --- Market data ---
	indexer := feed.NewIndexerClient(cfg.Feed.BaseURL)
	deps.Prices = feed.NewCachedPriceFeed(indexer, deps.History, logger)
	deps.Flows = indexer
	if cfg.Feed.WsURL != "" {
		deps.Stream = feed.NewPriceStream(cfg.Feed.WsURL)
	}

	// --- S3 blob storage (only when archival is on) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.Config{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3Client
		deps.BlobReader = s3Client
		deps.Archiver = s3blob.NewArchiver(s3Client, s3Client, deps.Executions, deps.Audit)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
