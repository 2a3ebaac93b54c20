package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/freelance-escrow/backend/internal/config"
	"github.com/freelance-escrow/backend/internal/db"
	"github.com/freelance-escrow/backend/internal/events"
	"github.com/freelance-escrow/backend/internal/history"
	"github.com/freelance-escrow/backend/internal/repositories"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// The indexer keeps settlement history caches warm: it watches the
// transaction log for recently active identities and reconstructs their
// history before they ask for it.

const redisCursorKey = "indexer:cursor"

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	store := repositories.NewStore(pool)
	publisher := events.NewRedisPublisher(rdb, log)
	cache := history.NewRedisCache(rdb, log)
	reconstructor := history.NewReconstructor(store.TxLog(), cache, history.Options{
		Window:     cfg.HistoryWindow,
		BatchSize:  cfg.HistoryBatchSize,
		BatchDelay: time.Duration(cfg.HistoryBatchDelayMS) * time.Millisecond,
		RetryDelay: time.Duration(cfg.HistoryRetryDelayMS) * time.Millisecond,
		Freshness:  cfg.HistoryFreshness,
		MaxRecords: cfg.HistoryMaxRecords,
	}, log)

	log.Info("indexer started",
		zap.Duration("poll_interval", cfg.IndexerPollInterval),
		zap.Duration("lookback", cfg.IndexerLookback),
	)

	ticker := time.NewTicker(cfg.IndexerPollInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			if err := pollOnce(ctx, cfg, store.TxLog(), reconstructor, publisher, rdb, log); err != nil {
				log.Error("poll cycle failed", zap.Error(err))
			}
		case <-sigCh:
			log.Info("shutting down indexer")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

// pollOnce refreshes the history cache of every identity that appeared in the
// log since the last cursor, bounded by the configured lookback on first run.
func pollOnce(
	ctx context.Context,
	cfg *config.Config,
	txlog *repositories.TxLogRepo,
	reconstructor *history.Reconstructor,
	publisher events.Publisher,
	rdb *redis.Client,
	log *zap.Logger,
) error {
	since := loadCursor(ctx, rdb, cfg.IndexerLookback)
	now := time.Now()

	identities, err := txlog.RecentIdentities(ctx, since)
	if err != nil {
		return err
	}

	for _, identity := range identities {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := reconstructor.Fetch(ctx, identity, false); err != nil {
			log.Warn("history refresh failed", zap.String("identity", identity), zap.Error(err))
			continue
		}
		_ = publisher.Publish(ctx, events.StreamEscrow, events.Event{
			Type:    events.EventHistoryRefreshed,
			Payload: map[string]any{"identity": identity},
		})
	}

	if len(identities) > 0 {
		log.Info("history caches refreshed", zap.Int("identities", len(identities)))
	}

	saveCursor(ctx, rdb, now)
	return nil
}

func loadCursor(ctx context.Context, rdb *redis.Client, lookback time.Duration) time.Time {
	val, err := rdb.Get(ctx, redisCursorKey).Result()
	if err != nil || val == "" {
		return time.Now().Add(-lookback)
	}
	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Now().Add(-lookback)
	}
	return time.Unix(unix, 0)
}

func saveCursor(ctx context.Context, rdb *redis.Client, t time.Time) {
	rdb.Set(ctx, redisCursorKey, strconv.FormatInt(t.Unix(), 10), 0)
}
