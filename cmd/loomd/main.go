// Command loomd runs the loom daemon: the worker pool, the recovery and
// integrity sweeps, and the HTTP API.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"loom/internal/alerts"
	"loom/internal/cache"
	"loom/internal/catalog"
	"loom/internal/config"
	"loom/internal/daemon"
	"loom/internal/integrity"
	"loom/internal/logging"
	"loom/internal/media"
	"loom/internal/metrics"
	"loom/internal/pipeline"
	"loom/internal/queue"
	"loom/internal/recovery"
	"loom/internal/services/embedder"
	"loom/internal/services/transcriber"
	"loom/internal/txn"
	"loom/internal/vectorstore"
	"loom/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := catalog.Open(cfg)
	if err != nil {
		logger.Error("open catalog", logging.Error(err))
		return
	}
	jobs := queue.NewStore(store.DB())

	var cacheClient cache.Client
	if strings.TrimSpace(cfg.Cache.Addr) != "" {
		cacheClient, err = cache.NewRedis(ctx, cfg.Cache)
		if err != nil {
			logger.Error("connect cache", logging.Error(err))
			return
		}
	} else {
		logger.Info("no cache server configured, using in-process cache")
		cacheClient = cache.NewMemory()
	}

	vectors := vectorstore.NewHTTPClient(cfg.VectorStore.URL, cfg.VectorStore.TimeoutDuration())
	if err := vectors.Ping(ctx); err != nil {
		logger.Warn("vector store not reachable at startup", logging.Error(err))
	}

	manager := txn.NewManager(store, vectors, cacheClient, logger)
	pipe := pipeline.New(cfg, store, jobs, manager,
		media.NewDownloader(cfg, logger),
		transcriber.New(cfg.Transcriber),
		embedder.New(cfg.Embedder),
		logger)

	handlers := make(map[queue.JobType]worker.Handler)
	for jobType, handle := range pipe.Handlers() {
		handlers[jobType] = handle
	}

	set := metrics.New()
	alertSvc := alerts.NewService(cacheClient, logger)

	d, err := daemon.New(cfg, daemon.Deps{
		Store:      store,
		Jobs:       jobs,
		Cache:      cacheClient,
		Pool:       worker.NewPool(cfg, jobs, handlers, set, logger),
		Sweeper:    recovery.New(cfg, jobs, cacheClient, alertSvc, logger),
		Reconciler: integrity.New(cfg, store, jobs, vectors, cacheClient, alertSvc, logger),
		Alerts:     alertSvc,
		Metrics:    set,
	}, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("start daemon", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("loomd shutting down")
	d.Stop()
}
