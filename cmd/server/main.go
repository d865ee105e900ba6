package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"slippymap/internal/cache"
	"slippymap/internal/config"
	"slippymap/internal/export"
	httphandlers "slippymap/internal/http"
	"slippymap/internal/logger"
	"slippymap/internal/prefetch"
	"slippymap/internal/scheduler"
	"slippymap/internal/tilestore"
	"slippymap/internal/zoom"
)

func main() {
	configFile := flag.String("c", "", "config `file` (toml)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config:\n%v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	vipsConfig := &vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheMem:      16 * 1024 * 1024,
		MaxCacheFiles:    0, // Disable disk cache
		MaxCacheSize:     0, // Disable disk cache
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	}

	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelError)

	vips.Startup(vipsConfig)
	defer vips.Shutdown()

	proj, err := cfg.Projection()
	if err != nil {
		log.Fatal("Invalid projection", zap.Error(err))
	}

	log.Info("Starting slippymap server",
		zap.Int("port", cfg.Server.Port),
		zap.String("provider", cfg.Tiles.Provider),
		zap.String("projection", cfg.View.Projection),
		zap.Int("max_zoom", cfg.Tiles.MaxZoom),
	)

	store, err := tilestore.Open(cfg.StoreOptions(), log)
	if err != nil {
		log.Fatal("Failed to open tile store", zap.Error(err))
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	watcher := cache.NewPressureWatcher(store.Memory(), uint64(cfg.Cache.HeapLimitMB)<<20, 5*time.Second, log)
	go watcher.Run(ctx)

	sched := scheduler.New(proj, store, scheduler.Options{
		MaxZoom: cfg.Tiles.MaxZoom,
		Margin:  cfg.Tiles.Margin,
		Workers: cfg.Fetch.Workers,
		Queue:   cfg.Fetch.Queue,
	}, log)

	handlers := httphandlers.New(cfg, log, proj, store, sched, zoom.New(proj, cfg.Tiles.MaxZoom), export.JPEG)

	mux := http.NewServeMux()
	handlers.Register(mux)

	handler := handlers.CORSMiddleware(handlers.RequestLoggingMiddleware(mux))

	if cfg.Warmup.Levels > 0 {
		go warmupTiles(ctx, cfg, store, log)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.Int("port", cfg.Server.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	sched.Close()
	if err := store.Close(); err != nil {
		log.Error("Failed to close tile store", zap.Error(err))
	}

	log.Info("Server stopped")
}

// warmupTiles fills the caches for the first warmup levels of the
// configured area.
func warmupTiles(ctx context.Context, cfg *config.Config, store *tilestore.Store, log *zap.Logger) {
	maxZoom := min(cfg.Warmup.Levels-1, cfg.Tiles.MaxZoom)
	task, err := prefetch.NewTask(cfg.WarmupBound(), 0, maxZoom, cfg.Warmup.Workers, log)
	if err != nil {
		log.Warn("Tile warmup skipped", zap.Error(err))
		return
	}

	log.Info("Starting tile warmup",
		zap.String("task", task.ID),
		zap.Int("levels", cfg.Warmup.Levels),
		zap.Int64("tiles", task.Total))

	if err := task.Run(ctx, store); err != nil {
		log.Warn("Tile warmup interrupted", zap.Error(err))
		return
	}
	log.Info("Tile warmup completed",
		zap.Int64("done", task.Done()),
		zap.Int64("failed", task.Failed()))
}
