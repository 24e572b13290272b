// NVMe-oF Monitor - gateway fleet coordinator
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/radryc/nvmeof-mon/internal/fencing"
	"github.com/radryc/nvmeof-mon/internal/gwmap"
	"github.com/radryc/nvmeof-mon/internal/monitor"
	"github.com/radryc/nvmeof-mon/internal/store"
)

var (
	// Version information (injected at build time)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	var (
		listenAddr    = flag.String("listen", ":7440", "HTTP listen address")
		dataDir       = flag.String("data-dir", "", "Snapshot store directory (empty disables persistence)")
		clusterID     = flag.String("cluster-id", "nvmeof-cluster", "Cluster identifier")
		osdAddr       = flag.String("osd-addr", "", "OSD monitor base URL for fencing (e.g. http://osd-mon:7400); empty uses the in-memory fence")
		tickInterval  = flag.Duration("tick-interval", 2*time.Second, "Timer tick and beacon scan period")
		downThreshold = flag.Duration("down-threshold", 6*time.Second, "Beacon silence before a gateway is marked down")
		sweepTicks    = flag.Int("sweep-every-ticks", 5, "Abandoned-group sweep cadence, in ticks")
		blocklistTTL  = flag.Duration("blocklist-ttl", gwmap.DefaultBlocklistTTL, "Blocklist entry lifetime")
		debug         = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	// Setup logger
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting nvmeof-mon",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"listen", *listenAddr,
		"cluster_id", *clusterID,
		"tick_interval", *tickInterval,
		"down_threshold", *downThreshold,
		"blocklist_ttl", *blocklistTTL)

	var fence gwmap.Fencing
	if *osdAddr != "" {
		fence = fencing.NewHTTPBridge(*osdAddr, logger)
		logger.Info("fencing via OSD monitor", "addr", *osdAddr)
	} else {
		fence = fencing.NewMemory(1)
		logger.Warn("no OSD monitor configured, using in-memory fence")
	}

	var st *store.Store
	if *dataDir != "" {
		var err error
		st, err = store.Open(*dataDir, logger)
		if err != nil {
			logger.Error("failed to open snapshot store", "dir", *dataDir, "error", err)
			os.Exit(1)
		}
		defer st.Close()
	} else {
		logger.Warn("persistence disabled, map is in-memory only")
	}

	cfg := monitor.Config{
		ClusterID:       *clusterID,
		TickInterval:    *tickInterval,
		DownThreshold:   *downThreshold,
		SweepEveryTicks: *sweepTicks,
		BlocklistTTL:    *blocklistTTL,
	}
	mon := monitor.New(cfg, fence, st, logger)
	if err := mon.WarmStart(); err != nil {
		logger.Error("failed to restore snapshot", "error", err)
		os.Exit(1)
	}
	mon.SetCommitHook(func(version uint64, payload []byte) {
		logger.Debug("map published", "version", version, "bytes", len(payload))
	})

	srv := &http.Server{
		Addr:    *listenAddr,
		Handler: monitor.NewAPI(mon).Router(),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP API listening", "addr", *listenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := mon.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("monitor exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("monitor stopped")
}
