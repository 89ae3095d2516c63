package supervisor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/bungee-go/internal/config"
)

const validConfigJSON = `{
  "bodyParserLimit": "1mb",
  "workerCount": 2,
  "logLevel": "info",
  "routes": [
    {"path": "/api", "upstreams": [{"target": "http://localhost:9000", "weight": 100, "priority": 1}]}
  ]
}`

const invalidConfigJSON = `{ not valid json`

func newTestSupervisor(t *testing.T, binary, configPath string) *Supervisor {
	t.Helper()
	dummy, err := os.CreateTemp(t.TempDir(), "listener")
	require.NoError(t, err)
	t.Cleanup(func() { dummy.Close() })

	return &Supervisor{
		binary:       binary,
		configPath:   configPath,
		logger:       zap.NewNop(),
		listenerFile: dummy,
	}
}

func TestSupervisor_SpawnPool_AllReady(t *testing.T) {
	bin := writeFakeWorker(t, readyThenWaitScript)
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(validConfigJSON), 0644))

	s := newTestSupervisor(t, bin, configPath)
	cfg, err := config.Load(configPath)
	require.NoError(t, err)

	require.NoError(t, s.spawnPool(cfg))
	require.Len(t, s.workers, 2)

	s.shutdownPool(workerShutdownTimeout)
}

func TestSupervisor_Reload_AbortsOnInvalidConfig(t *testing.T) {
	bin := writeFakeWorker(t, readyThenWaitScript)
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(validConfigJSON), 0644))

	s := newTestSupervisor(t, bin, configPath)
	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	require.NoError(t, s.spawnPool(cfg))
	s.cfg = cfg
	originalWorkers := append([]*worker(nil), s.workers...)
	defer s.shutdownPool(workerShutdownTimeout)

	// Simulate an in-place edit that breaks the JSON (spec.md §8 Scenario 6).
	require.NoError(t, os.WriteFile(configPath, []byte(invalidConfigJSON), 0644))

	s.reload()

	require.Same(t, cfg, s.cfg, "config must be unchanged after a failed reload")
	require.Equal(t, originalWorkers, s.workers, "workers must be unchanged after a failed reload")
	require.False(t, s.reloading)
}

func TestSupervisor_Reload_RejectsConcurrentReload(t *testing.T) {
	bin := writeFakeWorker(t, readyThenWaitScript)
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(validConfigJSON), 0644))

	s := newTestSupervisor(t, bin, configPath)
	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	s.cfg = cfg
	s.reloading = true

	s.reload()

	require.True(t, s.reloading, "a reload that bails out early must not clear a flag it did not set")
	require.Same(t, cfg, s.cfg)
}
