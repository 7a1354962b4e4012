package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/feed"
	"github.com/alanyoungcy/snipebot/internal/momentum"
	"github.com/alanyoungcy/snipebot/internal/position"
	"github.com/alanyoungcy/snipebot/internal/sniper"
)

// SnipeMode runs the full pipeline: launch/trade stream, entry engine,
// position manager, and the optional archiver.
func (a *App) SnipeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting snipe mode")

	engine := sniper.NewEngine(
		a.cfg.Snipe,
		a.cfg.Builder.Wallet,
		deps.RetryPolicy,
		deps.Builder,
		deps.Submitter,
		deps.Pool,
		deps.Store,
		a.logger,
	)

	manager := position.NewManager(position.Config{
		TickInterval:     a.cfg.AutoSell.TickInterval.Duration,
		MaxHold:          a.cfg.AutoSell.MaxHold.Duration,
		BreakevenEnabled: a.cfg.AutoSell.BreakevenEnabled,
		BreakevenTarget:  a.cfg.AutoSell.BreakevenTarget,
		BreakevenPercent: a.cfg.AutoSell.BreakevenPercent,
		Momentum: momentum.Config{
			Window:            a.cfg.AutoSell.MomentumWindow.Duration,
			LullThreshold:     a.cfg.AutoSell.LullThreshold.Duration,
			BuySellRatioFloor: a.cfg.AutoSell.BuySellRatioFloor,
		},
	}, deps.Builder, engine.Sell, a.logger)

	engine.SetManager(manager)
	engine.SetTradeLog(deps.TradeLog)
	engine.SetSignalBus(deps.Bus)
	if deps.Notifier != nil {
		engine.SetNotifier(deps.Notifier)
	}

	feeder := feed.NewFeeder(deps.Feed, manager, a.logger)
	feeder.SetSignalBus(deps.Bus)

	g, ctx := errgroup.WithContext(ctx)

	// Drop the trade stream subscription once a position is gone, so the
	// per-mint subscription set does not grow for the life of the process.
	manager.OnStop(func(mint string) {
		if err := feeder.Unwatch(ctx, mint); err != nil {
			a.logger.Debug("trade unsubscribe failed",
				slog.String("mint", mint),
				slog.String("error", err.Error()),
			)
		}
	})

	snipe := func(mint string) {
		if err := engine.Snipe(ctx, mint); err != nil {
			a.logger.WarnContext(ctx, "snipe skipped",
				slog.String("mint", mint),
				slog.String("error", err.Error()),
			)
			return
		}
		if err := feeder.Watch(ctx, mint); err != nil {
			a.logger.WarnContext(ctx, "trade subscription failed, exits run on timer only",
				slog.String("mint", mint),
				slog.String("error", err.Error()),
			)
		}
	}

	if a.cfg.Snipe.AutoSnipe {
		deps.Feed.OnLaunch(func(mint string) {
			go snipe(mint)
		})
	}

	if err := deps.Feed.Connect(ctx); err != nil {
		manager.Shutdown()
		return fmt.Errorf("app: feed connect: %w", err)
	}
	g.Go(func() error {
		<-ctx.Done()
		manager.Shutdown()
		if err := deps.Feed.Close(); err != nil {
			a.logger.Warn("feed close failed", slog.String("error", err.Error()))
		}
		return ctx.Err()
	})

	if a.cfg.Snipe.AutoSnipe {
		if err := deps.Feed.SubscribeLaunches(ctx); err != nil {
			return fmt.Errorf("app: subscribe launches: %w", err)
		}
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx)
		})
	}

	// Configured targets are bought immediately on startup.
	for _, mint := range a.cfg.Snipe.Targets {
		mint := mint
		g.Go(func() error {
			snipe(mint)
			return nil
		})
	}

	return g.Wait()
}

// MonitorMode follows the launch and trade streams without placing orders.
// Observed events are logged and, when a bus is wired, republished for
// external consumers.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode (no orders will be placed)")

	deps.Feed.OnLaunch(func(mint string) {
		a.logger.InfoContext(ctx, "token launched", slog.String("mint", mint))
		if deps.Bus != nil {
			payload := []byte(fmt.Sprintf(`{"event":"launch","mint":%q}`, mint))
			if err := deps.Bus.Publish(ctx, "snipebot:events", payload); err != nil {
				a.logger.Debug("launch republish failed", slog.String("error", err.Error()))
			}
		}
	})
	deps.Feed.OnTrade(func(ev domain.TradeEvent) {
		a.logger.InfoContext(ctx, "trade observed",
			slog.String("mint", ev.Mint),
			slog.String("side", string(ev.Side)),
			slog.Uint64("lamports", ev.Lamports),
		)
	})

	if err := deps.Feed.Connect(ctx); err != nil {
		return fmt.Errorf("app: feed connect: %w", err)
	}
	defer func() {
		if err := deps.Feed.Close(); err != nil {
			a.logger.Warn("feed close failed", slog.String("error", err.Error()))
		}
	}()

	if err := deps.Feed.SubscribeLaunches(ctx); err != nil {
		return fmt.Errorf("app: subscribe launches: %w", err)
	}
	if len(a.cfg.Snipe.Targets) > 0 {
		if err := deps.Feed.SubscribeTrades(ctx, a.cfg.Snipe.Targets...); err != nil {
			return fmt.Errorf("app: subscribe trades: %w", err)
		}
	}

	<-ctx.Done()
	return ctx.Err()
}
