// Command diaryd runs the encrypted diary storage engine: schema
// migrations, the one-time legacy import, the entry cache with its
// sweeper, the notification poller and the metrics listener.
package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/avoronov/diary-vault/internal/cache"
	"github.com/avoronov/diary-vault/internal/crypto/keyring"
	"github.com/avoronov/diary-vault/internal/metrics"
	"github.com/avoronov/diary-vault/internal/migrate"
	"github.com/avoronov/diary-vault/internal/migration"
	"github.com/avoronov/diary-vault/internal/model"
	"github.com/avoronov/diary-vault/internal/notify"
	"github.com/avoronov/diary-vault/internal/service"
	"github.com/avoronov/diary-vault/internal/storage/sqlite"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// logNotifier stands in for the conversation transport, which plugs in
// through notify.Notifier.
type logNotifier struct{ log *zap.Logger }

func (n *logNotifier) Notify(_ context.Context, u model.User) error {
	n.log.Info("reminder due", zap.Int64("owner", u.ID))
	return nil
}

func main() {
	// Flags; secret salts come from env (DIARY_SYSTEM_SALT, DIARY_SECRET_SALT).
	dbPath := flag.String("db", "diary.db", "path to the database file")
	legacyDir := flag.String("legacy-dir", "user_data", "legacy flat-file directory")
	cacheOwners := flag.Int("cache-owners", 128, "max cached owners")
	cacheTTL := flag.Duration("cache-ttl", 30*time.Minute, "cache slot TTL")
	sweepEvery := flag.Duration("sweep-interval", time.Minute, "cache sweep interval")
	notifyEvery := flag.Duration("notify-interval", time.Minute, "notification poll interval")
	keyTTL := flag.Duration("key-ttl", time.Hour, "derived key cache TTL")
	metricsAddr := flag.String("metrics-addr", ":9190", "prometheus listen address (empty = off)")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("db", *dbPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	secrets, err := keyring.SecretsFromEnv()
	if err != nil {
		logger.Fatal("secret material", zap.Error(err))
	}
	keys, err := keyring.New(secrets, 1024, *keyTTL)
	if err != nil {
		logger.Fatal("keyring", zap.Error(err))
	}

	db, err := sqlite.Open(*dbPath)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	if err := migrate.Up(ctx, db); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	store := sqlite.New(db, keys, logger, collector)

	// Legacy import runs ahead of any cache activity.
	report, err := migration.NewRunner(*legacyDir, store, keys, logger).Run(ctx)
	if err != nil {
		logger.Fatal("legacy import", zap.Error(err))
	}
	logger.Info("legacy import done",
		zap.Int("files_scanned", report.FilesScanned),
		zap.Int("files_migrated", report.FilesMigrated),
		zap.Int("owners_skipped", report.OwnersSkipped),
		zap.Int("entries_imported", report.EntriesImported),
		zap.Int("records_skipped", report.RecordsSkipped),
	)

	entryCache := cache.New(store, cache.Config{
		MaxOwners:    *cacheOwners,
		TTL:          *cacheTTL,
		WriteThrough: true,
	}, logger, collector)

	diary := service.NewDiary(entryCache, store, logger)

	go entryCache.RunSweeper(ctx, *sweepEvery)

	poller := notify.NewPoller(diary, &logNotifier{log: logger}, logger)
	go poller.Run(ctx, *notifyEvery)

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			logger.Info("metrics listening", zap.String("addr", *metricsAddr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	<-ctx.Done()

	// Final flush so no dirty slot outlives the process.
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := entryCache.Close(flushCtx); err != nil {
		logger.Error("final cache flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
