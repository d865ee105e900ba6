package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"slippymap/internal/config"
	"slippymap/internal/logger"
	"slippymap/internal/prefetch"
	"slippymap/internal/tilestore"
)

var (
	configFile string
	bbox       string
	minZoom    int
	maxZoom    int
	workers    int
	quiet      bool
)

func init() {
	flag.StringVar(&configFile, "c", "", "set config `file`")
	flag.StringVar(&bbox, "bbox", "", "area to fetch as `west,south,east,north`; defaults to warmup.bbox")
	flag.IntVar(&minZoom, "min", 0, "lowest zoom level")
	flag.IntVar(&maxZoom, "max", 5, "highest zoom level")
	flag.IntVar(&workers, "workers", 0, "concurrent fetches; defaults to warmup.workers")
	flag.BoolVar(&quiet, "q", false, "hide progress bars")
	flag.Usage = usage
}

func usage() {
	fmt.Fprintf(os.Stderr, `prefetch fills the tile caches for an area ahead of time.
Usage: prefetch [-c file] [-bbox w,s,e,n] [-min z] [-max z] [-workers n]
`)
	flag.PrintDefaults()
}

func parseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox needs 4 comma-separated values, got %d", len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bbox value %q: %w", p, err)
		}
		v[i] = f
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

func main() {
	flag.Parse()

	cfg, err := config.Load(configFile)
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

	bound := cfg.WarmupBound()
	if bbox != "" {
		if bound, err = parseBBox(bbox); err != nil {
			log.Fatal("Invalid bbox", zap.Error(err))
		}
	}
	if workers <= 0 {
		workers = cfg.Warmup.Workers
	}
	maxZoom = min(maxZoom, cfg.Tiles.MaxZoom)

	task, err := prefetch.NewTask(bound, minZoom, maxZoom, workers, log)
	if err != nil {
		log.Fatal("Invalid prefetch task", zap.Error(err))
	}
	if !quiet {
		task.Progress = os.Stdout
	}

	store, err := tilestore.Open(cfg.StoreOptions(), log)
	if err != nil {
		log.Fatal("Failed to open tile store", zap.Error(err))
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Prefetch started",
		zap.String("task", task.ID),
		zap.String("provider", cfg.Tiles.Provider),
		zap.Int("min_zoom", minZoom),
		zap.Int("max_zoom", maxZoom),
		zap.Int64("tiles", task.Total))

	start := time.Now()
	runErr := task.Run(ctx, store)
	stats := store.Stats()
	log.Info("Prefetch finished",
		zap.String("task", task.ID),
		zap.Int64("done", task.Done()),
		zap.Int64("failed", task.Failed()),
		zap.Int64("skipped", task.Skipped()),
		zap.Uint64("fetched", stats.NetworkFetches),
		zap.Uint64("disk_hits", stats.DiskHits),
		zap.Duration("elapsed", time.Since(start)))

	if runErr != nil {
		log.Error("Prefetch interrupted", zap.Error(runErr))
		store.Close()
		os.Exit(1)
	}
}
