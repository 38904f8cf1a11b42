package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dcapilot/internal/allowance"
	"github.com/alanyoungcy/dcapilot/internal/decision"
	"github.com/alanyoungcy/dcapilot/internal/domain"
	"github.com/alanyoungcy/dcapilot/internal/executor"
	"github.com/alanyoungcy/dcapilot/internal/indicator"
	"github.com/alanyoungcy/dcapilot/internal/notify"
	"github.com/alanyoungcy/dcapilot/internal/scheduler"
)

// RunMode starts the evaluation loop, the notification subscriber, the live
// price stream, and (when enabled) the periodic archiver, then blocks until
// the context is cancelled.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting run mode")

	g, ctx := errgroup.WithContext(ctx)

	sched := a.buildScheduler(deps)
	g.Go(func() error {
		return sched.Run(ctx, a.cfg.Scheduler.Interval.Duration)
	})

	// Notification subscriber: consumes terminal execution events off the bus.
	sub := notify.NewSubscriber(deps.Bus, deps.Notifier, a.logger)
	g.Go(func() error {
		return sub.Run(ctx)
	})

	// Live price stream keeps the spot cache warm between evaluation slots.
	if deps.Stream != nil {
		pairs := streamPairs(a.cfg.Feed.StreamPairs)
		if len(pairs) > 0 {
			if err := deps.Stream.Connect(ctx); err != nil {
				a.logger.WarnContext(ctx, "price stream unavailable, HTTP feed only",
					slog.String("error", err.Error()),
				)
			} else {
				if err := deps.Stream.Subscribe(ctx, pairs); err != nil {
					a.logger.WarnContext(ctx, "price stream subscribe failed",
						slog.String("error", err.Error()),
					)
				}
				deps.Stream.OnTick(func(pair string, p domain.PricePoint) {
					_ = deps.History.SetSpot(ctx, parsePair(pair), p)
				})
				g.Go(func() error {
					<-ctx.Done()
					return deps.Stream.Close()
				})
			}
		}
	}

	// Periodic cold-storage archival.
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiver(ctx, deps.Archiver)
		})
	}

	return g.Wait()
}

// OnceMode evaluates every currently due strategy a single time and exits.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting single evaluation pass")

	sched := a.buildScheduler(deps)
	if err := sched.Tick(ctx); err != nil {
		return fmt.Errorf("app: evaluation pass: %w", err)
	}
	return nil
}

// KeygenMode generates a new encrypted session key and prints its address.
func (a *App) KeygenMode(ctx context.Context, deps *Dependencies) error {
	addr, err := deps.Keys.Generate(ctx)
	if err != nil {
		return fmt.Errorf("app: keygen: %w", err)
	}
	a.logger.InfoContext(ctx, "session key generated", slog.String("address", addr))
	fmt.Println(addr)
	return nil
}

// buildScheduler assembles the evaluation pipeline: indicators feed the
// decision engine, the allowance tracker gates spending, and the orchestrator
// runs approved swaps.
func (a *App) buildScheduler(deps *Dependencies) *scheduler.Scheduler {
	analyzer := indicator.NewEngine(deps.Prices, deps.Flows, a.logger)
	decisions := decision.NewEngine(analyzer, a.logger)
	tracker := allowance.NewTracker(deps.Permissions, deps.Executions, a.logger)

	orch := executor.NewOrchestrator(executor.Deps{
		Executions:  deps.Executions,
		Strategies:  deps.Strategies,
		Permissions: deps.Permissions,
		Balances:    deps.Balances,
		Delegation:  deps.Delegation,
		Swaps:       deps.Swaps,
		Fills:       deps.Fills,
		Prices:      deps.Prices,
		Locks:       deps.Locks,
		Bus:         deps.Bus,
	}, a.logger)
	if floor := a.cfg.Chain.GasFloor(); floor != nil {
		orch.SetGasFloor(floor)
	}

	sched := scheduler.New(
		deps.Strategies,
		deps.Executions,
		tracker,
		decisions,
		orch,
		deps.Audit,
		a.logger,
	)
	sched.SetBatchSize(a.cfg.Scheduler.BatchSize)
	return sched
}

// runArchiver periodically moves terminal executions older than the retention
// window to object storage.
func (a *App) runArchiver(ctx context.Context, archiver domain.Archiver) error {
	interval := a.cfg.Archive.Interval.Duration
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	a.logger.InfoContext(ctx, "archiver starting",
		slog.Duration("interval", interval),
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)
			count, err := archiver.ArchiveExecutions(ctx, cutoff)
			if err != nil {
				a.logger.ErrorContext(ctx, "archive pass failed", slog.String("error", err.Error()))
				continue
			}
			if count > 0 {
				a.logger.InfoContext(ctx, "archived executions",
					slog.Int64("count", count),
					slog.Time("cutoff", cutoff),
				)
			}
		}
	}
}

// streamPairs parses "BASE-QUOTE" strings into pairs, dropping malformed
// entries.
func streamPairs(raw []string) []domain.Pair {
	pairs := make([]domain.Pair, 0, len(raw))
	for _, r := range raw {
		p := parsePair(r)
		if p.BaseSymbol != "" && p.QuoteSymbol != "" {
			pairs = append(pairs, p)
		}
	}
	return pairs
}

func parsePair(s string) domain.Pair {
	base, quote, _ := strings.Cut(strings.TrimSpace(s), "-")
	return domain.Pair{BaseSymbol: base, QuoteSymbol: quote}
}
