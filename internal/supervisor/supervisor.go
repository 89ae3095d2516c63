package supervisor

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/bungee-go/internal/config"
)

const workerSpawnStagger = 100 * time.Millisecond

// Supervisor binds the shared listening socket once and keeps a pool of
// worker subprocesses serving it, replacing them one at a time whenever
// the config file changes.
type Supervisor struct {
	binary     string
	configPath string
	logger     *zap.Logger

	listener     net.Listener
	listenerFile *os.File

	mu        sync.Mutex
	cfg       *config.Config
	workers   []*worker
	reloading bool
}

// New returns a Supervisor that will re-exec binary (BUNGEE_ROLE=worker)
// for every worker process it spawns.
func New(binary, configPath string, logger *zap.Logger) *Supervisor {
	return &Supervisor{binary: binary, configPath: configPath, logger: logger}
}

// Run binds the shared listener, spawns the initial worker pool, and
// watches the config file for changes until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return fmt.Errorf("supervisor: load config: %w", err)
	}
	for _, warning := range cfg.Warnings() {
		s.logger.Warn("config warning", zap.String("warning", warning))
	}
	s.cfg = cfg

	addr := fmt.Sprintf(":%d", cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("supervisor: listen %s: %w", addr, err)
	}
	s.listener = ln

	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		return fmt.Errorf("supervisor: listener is not TCP")
	}
	lnFile, err := tcpLn.File()
	if err != nil {
		return fmt.Errorf("supervisor: dup listener fd: %w", err)
	}
	s.listenerFile = lnFile

	s.logger.Info("supervisor starting",
		zap.String("addr", addr),
		zap.Int("worker_count", cfg.WorkerCount))

	if err := s.spawnPool(cfg); err != nil {
		return fmt.Errorf("supervisor: start worker pool: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.watchConfig(gctx) })

	<-ctx.Done()
	s.logger.Info("supervisor shutting down")
	s.shutdownPool(workerShutdownTimeout)
	_ = s.listener.Close()
	_ = s.listenerFile.Close()
	return g.Wait()
}

// spawnPool starts cfg.WorkerCount workers serially, staggered, failing
// the whole pool (and tearing down any already-started workers) if any
// single worker does not become ready. Boot does not auto-restart a
// worker that fails to start.
func (s *Supervisor) spawnPool(cfg *config.Config) error {
	workers := make([]*worker, 0, cfg.WorkerCount)
	for i := 0; i < cfg.WorkerCount; i++ {
		id := workerID(i)
		w, err := spawnWorker(id, s.binary, s.configPath, cfg.LogLevel, s.listenerFile, s.logger)
		if err != nil {
			shutdownAll(workers, workerShutdownTimeout)
			return err
		}
		if err := w.awaitReady(workerReadyTimeout); err != nil {
			_ = w.kill()
			shutdownAll(workers, workerShutdownTimeout)
			return err
		}
		workers = append(workers, w)
		if i < cfg.WorkerCount-1 {
			time.Sleep(workerSpawnStagger)
		}
	}

	s.mu.Lock()
	s.workers = workers
	s.mu.Unlock()
	return nil
}

func workerID(i int) string {
	return fmt.Sprintf("w%d-%s", i, uuid.New().String()[:8])
}

func shutdownAll(workers []*worker, timeout time.Duration) {
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			_ = w.shutdown(timeout)
		}(w)
	}
	wg.Wait()
}

func (s *Supervisor) shutdownPool(timeout time.Duration) {
	s.mu.Lock()
	workers := s.workers
	s.workers = nil
	s.mu.Unlock()
	shutdownAll(workers, timeout)
}

// reload re-reads and validates the config file, then replaces workers one
// at a time with freshly spawned replacements carrying the new config. A
// reload already in progress is rejected; a config that fails to parse or
// validate aborts before any worker is touched.
func (s *Supervisor) reload() {
	s.mu.Lock()
	if s.reloading {
		s.mu.Unlock()
		s.logger.Warn("reload already in progress, ignoring")
		return
	}
	s.reloading = true
	oldCfg := s.cfg
	oldWorkers := append([]*worker(nil), s.workers...)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reloading = false
		s.mu.Unlock()
	}()

	newCfg, err := config.Load(s.configPath)
	if err != nil {
		s.logger.Error("reload: invalid config, keeping current workers", zap.Error(err))
		return
	}
	for _, warning := range newCfg.Warnings() {
		s.logger.Warn("config warning", zap.String("warning", warning))
	}

	s.logger.Info("reload: rolling restart starting", zap.Int("worker_count", len(oldWorkers)))

	newWorkers := make([]*worker, len(oldWorkers))
	copy(newWorkers, oldWorkers)

	for i, w := range oldWorkers {
		s.logger.Info("reload: replacing worker", zap.String("worker_id", w.id))
		_ = w.shutdown(workerShutdownTimeout)

		replacement, err := spawnWorker(w.id, s.binary, s.configPath, newCfg.LogLevel, s.listenerFile, s.logger)
		if err != nil {
			s.logger.Error("reload: failed to spawn replacement, re-spawning this slot", zap.Error(err))
			s.restoreSlot(newWorkers, i, oldCfg)
			return
		}
		if err := replacement.awaitReady(workerReadyTimeout); err != nil {
			s.logger.Error("reload: replacement did not become ready, re-spawning this slot", zap.Error(err))
			_ = replacement.kill()
			s.restoreSlot(newWorkers, i, oldCfg)
			return
		}
		newWorkers[i] = replacement
	}

	s.mu.Lock()
	s.cfg = newCfg
	s.workers = newWorkers
	s.mu.Unlock()
	s.logger.Info("reload: complete")
}

// restoreSlot re-spawns the worker at failedIdx so a bad edit costs at most
// one worker's capacity, not the whole pool, and leaves the supervisor's
// recorded config untouched. The re-spawned worker gets the old config's
// log level but reads its routes from the file at s.configPath, which holds
// the document that failed the roll; the old document is not re-applied.
func (s *Supervisor) restoreSlot(workers []*worker, failedIdx int, oldCfg *config.Config) {
	id := workers[failedIdx].id
	replacement, err := spawnWorker(id, s.binary, s.configPath, oldCfg.LogLevel, s.listenerFile, s.logger)
	if err != nil {
		s.logger.Error("reload: failed to restore worker after rollback", zap.Error(err))
		return
	}
	if err := replacement.awaitReady(workerReadyTimeout); err != nil {
		s.logger.Error("reload: restored worker failed to become ready", zap.Error(err))
		return
	}
	workers[failedIdx] = replacement
	s.mu.Lock()
	s.workers = workers
	s.mu.Unlock()
}
