package supervisor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// writeFakeWorker writes body as an executable shell script standing in for
// a worker binary; each test's script decides which side of the
// supervisor<->worker protocol it plays (ready-then-wait, or a startup error).
func writeFakeWorker(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-worker.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0755))
	return path
}

const readyThenWaitScript = `#!/bin/sh
echo '{"status":"ready","pid":'$$'}'
read line
exit 0
`

const startupErrorScript = `#!/bin/sh
echo '{"status":"error","error":"boom"}'
exit 1
`

func TestWorker_AwaitReadyThenShutdown(t *testing.T) {
	bin := writeFakeWorker(t, readyThenWaitScript)
	dummy, err := os.CreateTemp(t.TempDir(), "listener")
	require.NoError(t, err)
	defer dummy.Close()

	w, err := spawnWorker("w0", bin, "/dev/null", "info", dummy, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.awaitReady(workerReadyTimeout))
	require.NoError(t, w.shutdown(workerShutdownTimeout))
}

func TestWorker_AwaitReady_PropagatesStartupError(t *testing.T) {
	bin := writeFakeWorker(t, startupErrorScript)
	dummy, err := os.CreateTemp(t.TempDir(), "listener")
	require.NoError(t, err)
	defer dummy.Close()

	w, err := spawnWorker("w0", bin, "/dev/null", "info", dummy, zap.NewNop())
	require.NoError(t, err)
	err = w.awaitReady(workerReadyTimeout)
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}
