package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/user/bungee-go/internal/config"
	"github.com/user/bungee-go/internal/logging"
	"github.com/user/bungee-go/internal/pkg/paths"
	"github.com/user/bungee-go/internal/supervisor"
	"github.com/user/bungee-go/internal/version"
)

// runMaster loads the config once to bootstrap logging and report startup
// diagnostics, then hands the shared listener and worker pool over to the
// supervisor for the rest of the process lifetime.
func runMaster(ctx context.Context) error {
	configPath := paths.ResolveConfigPath(os.Getenv("CONFIG_PATH"))

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, logDir(), logging.RoleMaster, "")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting bungee-proxy",
		zap.String("version", version.Short()),
		zap.String("config_path", configPath),
		zap.Int("port", cfg.Port),
		zap.Int("worker_count", cfg.WorkerCount),
	)

	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	sup := supervisor.New(binary, configPath, logger)
	if err := sup.Run(ctx); err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}

	logger.Info("supervisor stopped")
	return nil
}
