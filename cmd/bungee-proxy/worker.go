package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/user/bungee-go/internal/config"
	"github.com/user/bungee-go/internal/health"
	"github.com/user/bungee-go/internal/logging"
	"github.com/user/bungee-go/internal/models"
	"github.com/user/bungee-go/internal/pipeline"
	"github.com/user/bungee-go/internal/supervisor"
	"github.com/user/bungee-go/internal/transformer"
)

const defaultProbeInterval = 30 * time.Second

// runWorker is the entry point for a BUNGEE_ROLE=worker subprocess: it
// rebuilds the listener the supervisor inherited to it over fd 3, serves
// traffic on it, and speaks the ready/error/shutdown protocol of
// internal/supervisor over its own stdout/stdin.
func runWorker(ctx context.Context) error {
	workerID := os.Getenv("BUNGEE_WORKER_ID")
	configPath := os.Getenv("CONFIG_PATH")

	cfg, err := config.Load(configPath)
	if err != nil {
		reportStartupError(fmt.Errorf("load config: %w", err))
		return err
	}

	logger, err := logging.New(cfg.LogLevel, logDir(), logging.RoleWorker, workerID)
	if err != nil {
		reportStartupError(fmt.Errorf("init logger: %w", err))
		return err
	}
	defer logger.Sync()

	healthStore := health.NewStore(logger)
	healthStore.Initialize(cfg.Routes)

	registry := transformer.New()
	forwarder := pipeline.NewForwarder()
	pl, err := pipeline.New(cfg.Routes, healthStore, registry, forwarder, logger)
	if err != nil {
		reportStartupError(fmt.Errorf("build pipeline: %w", err))
		return err
	}

	ln, err := inheritedListener()
	if err != nil {
		reportStartupError(err)
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(logging.Middleware(logger), gin.Recovery())
	engine.NoRoute(pl.Handler())

	httpServer := &http.Server{
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // streaming responses need a long write timeout
		IdleTimeout:  120 * time.Second,
	}

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go watchForShutdownCommand(cancel)

	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	stopProbing := startHealthProbing(workerCtx, cfg, healthStore, logger)
	defer stopProbing()

	logger.Info("worker ready", zap.Int("pid", os.Getpid()))
	reportReady(os.Getpid())

	select {
	case <-workerCtx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			return err
		}
	}

	logger.Info("worker shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("worker stopped")
	return nil
}

// inheritedListener reconstructs the net.Listener the supervisor duplicated
// into this process as fd 3 via exec.Cmd.ExtraFiles.
func inheritedListener() (net.Listener, error) {
	f := os.NewFile(3, "bungee-listener")
	if f == nil {
		return nil, fmt.Errorf("worker: no inherited listener on fd 3")
	}
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("worker: reconstruct listener from inherited fd: %w", err)
	}
	return ln, nil
}

// watchForShutdownCommand blocks reading supervisor.Command messages off
// stdin and cancels once a shutdown command arrives or stdin closes.
func watchForShutdownCommand(cancel context.CancelFunc) {
	dec := json.NewDecoder(os.Stdin)
	for {
		var cmd supervisor.Command
		if err := dec.Decode(&cmd); err != nil {
			cancel()
			return
		}
		if cmd.Command == supervisor.CommandShutdown {
			cancel()
			return
		}
	}
}

func reportReady(pid int) {
	_ = json.NewEncoder(os.Stdout).Encode(supervisor.StatusMessage{Status: supervisor.StatusReady, PID: pid})
}

func reportStartupError(err error) {
	_ = json.NewEncoder(os.Stdout).Encode(supervisor.StatusMessage{Status: supervisor.StatusError, Error: err.Error()})
}

// startHealthProbing starts the recovery-probe worker pool and its
// scheduler/drain loops when at least one route has failover and health
// checks both enabled, at the shortest configured interval across those
// routes. Once started, the scheduler probes every unhealthy upstream the
// health store tracks, whichever failover route it belongs to. It returns
// a no-op stop function when no route asks for probing.
func startHealthProbing(ctx context.Context, cfg *config.Config, store *health.Store, logger *zap.Logger) func() {
	interval := time.Duration(0)
	routesByPath := make(map[string]models.RouteConfig, len(cfg.Routes))
	anyEnabled := false
	for _, route := range cfg.Routes {
		routesByPath[route.Path] = route
		if route.Failover == nil || !route.Failover.Enabled {
			continue
		}
		if route.HealthCheck == nil || !route.HealthCheck.Enabled {
			continue
		}
		anyEnabled = true
		if s := time.Duration(route.HealthCheck.IntervalSeconds) * time.Second; s > 0 && (interval == 0 || s < interval) {
			interval = s
		}
	}
	if !anyEnabled {
		return func() {}
	}
	if interval == 0 {
		interval = defaultProbeInterval
	}

	prober := health.NewProber(4, 10*time.Second, logger)
	prober.Start(ctx, 4)

	buildRequest := func(entry health.UnhealthyEntry) health.ProbeRequest {
		var retryable []int
		if route, ok := routesByPath[entry.RoutePath]; ok && route.Failover != nil {
			retryable = route.Failover.RetryableStatusCodes
		}
		return health.ProbeRequest{
			Target:               entry.Upstream.Target,
			RetryableStatusCodes: retryable,
			Method:               http.MethodGet,
			URL:                  entry.Upstream.Target,
		}
	}

	go health.ScheduleLoop(ctx, store, prober, interval, buildRequest)
	go health.DrainRecoveries(ctx, store, prober)

	return prober.Stop
}
