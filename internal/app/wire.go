package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/snipebot/internal/blob/s3"
	"github.com/alanyoungcy/snipebot/internal/cache/redis"
	"github.com/alanyoungcy/snipebot/internal/config"
	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/feed"
	"github.com/alanyoungcy/snipebot/internal/notify"
	"github.com/alanyoungcy/snipebot/internal/rpc"
	"github.com/alanyoungcy/snipebot/internal/store/memory"
	"github.com/alanyoungcy/snipebot/internal/store/postgres"
	"github.com/alanyoungcy/snipebot/internal/trade"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Pool      *rpc.Pool
	Submitter *rpc.Submitter
	Builder   *trade.Builder
	Feed      *feed.WSClient

	Store    domain.TradeStore
	TradeLog domain.TradeLog // nil unless postgres is enabled
	Bus      domain.SignalBus

	Archiver *s3blob.Archiver // nil unless s3 is enabled
	Notifier *notify.Notifier

	RetryPolicy rpc.RetryPolicy
}

// Wire constructs the concrete dependency implementations from the
// configuration and returns them with a cleanup function to be called on
// shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- RPC connection pool ---
	conns := make([]rpc.Conn, 0, len(cfg.RPC.Endpoints))
	for _, url := range cfg.RPC.Endpoints {
		conns = append(conns, rpc.NewEndpoint(url, cfg.RPC.RequestsPerSec, cfg.RPC.Burst))
	}
	if cfg.RPC.SubmitEndpoint != "" {
		// Route submissions through the dedicated relay; reads stay on the
		// pool endpoints.
		relay := rpc.NewEndpoint(cfg.RPC.SubmitEndpoint, cfg.RPC.RequestsPerSec, cfg.RPC.Burst)
		for i, conn := range conns {
			conns[i] = rpc.WithSender(conn, relay)
		}
	}
	pool, err := rpc.NewPool(conns, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: rpc pool: %w", err)
	}
	deps.Pool = pool

	deps.RetryPolicy = rpc.RetryPolicy{
		MaxAttempts:  cfg.RPC.MaxAttempts,
		InitialDelay: cfg.RPC.InitialDelay.Duration,
		MaxDelay:     cfg.RPC.MaxDelay.Duration,
		Multiplier:   cfg.RPC.Multiplier,
	}

	submitter := rpc.NewSubmitter(pool, rpc.Commitment(cfg.RPC.Commitment),
		cfg.RPC.ConfirmTimeout.Duration, logger)
	submitter.SetSimulate(cfg.RPC.Simulate)
	deps.Submitter = submitter

	// --- Trade builder ---
	deps.Builder = trade.NewBuilder(cfg.Builder)

	// --- Event feed ---
	deps.Feed = feed.NewWSClient(cfg.Feed.WsURL)

	// --- Trade store (in-memory; positions do not survive a restart) ---
	deps.Store = memory.NewTradeStore()

	// --- PostgreSQL trade log mirror ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
		deps.TradeLog = postgres.NewTradeLog(pgClient.Pool())
	}

	// --- Redis signal bus ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Bus = redis.NewSignalBus(redisClient)
	}

	// --- S3 trade history archiver ---
	if cfg.S3.Enabled {
		if deps.TradeLog == nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3 archiver requires postgres to be enabled")
		}
		s3Client, err := s3blob.New(ctx, cfg.S3)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3 bucket check: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.TradeLog,
			cfg.S3.Interval.Duration,
			logger,
		)
	}

	// --- Notifications ---
	deps.Notifier = notify.FromConfig(cfg.Notify, logger)

	return deps, cleanup, nil
}
