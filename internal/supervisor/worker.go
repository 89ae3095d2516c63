package supervisor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	workerReadyTimeout    = 30 * time.Second
	workerShutdownTimeout = 30 * time.Second
)

// worker wraps one bungee-proxy subprocess running with BUNGEE_ROLE=worker,
// sharing the supervisor's listening socket through an inherited file
// descriptor and exchanging StatusMessage/Command over stdout/stdin.
type worker struct {
	id      string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	decoder *json.Decoder
	logger  *zap.Logger

	waitCh  chan struct{}
	mu      sync.Mutex
	exitErr error
}

// spawnWorker starts binary as a worker subprocess with listenerFile
// inherited as fd 3 and waits for nothing — callers must call awaitReady.
func spawnWorker(id, binary, configPath, logLevel string, listenerFile *os.File, logger *zap.Logger) (*worker, error) {
	cmd := exec.Command(binary)
	cmd.Env = append(os.Environ(),
		"BUNGEE_ROLE=worker",
		"BUNGEE_WORKER_ID="+id,
		"CONFIG_PATH="+configPath,
		"LOG_LEVEL="+logLevel,
	)
	cmd.ExtraFiles = []*os.File{listenerFile}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker %s: stdin pipe: %w", id, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker %s: stdout pipe: %w", id, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("worker %s: start: %w", id, err)
	}

	w := &worker{
		id:      id,
		cmd:     cmd,
		stdin:   stdin,
		decoder: json.NewDecoder(bufio.NewReader(stdout)),
		logger:  logger.With(zap.String("worker_id", id)),
		waitCh:  make(chan struct{}),
	}
	go w.waitExit()
	return w, nil
}

func (w *worker) waitExit() {
	err := w.cmd.Wait()
	w.mu.Lock()
	w.exitErr = err
	w.mu.Unlock()
	close(w.waitCh)
}

// awaitReady blocks until the worker reports ready, reports a startup
// error, or timeout elapses.
func (w *worker) awaitReady(timeout time.Duration) error {
	type result struct {
		msg StatusMessage
		err error
	}
	done := make(chan result, 1)
	go func() {
		var msg StatusMessage
		err := w.decoder.Decode(&msg)
		done <- result{msg, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("worker %s: reading ready message: %w", w.id, r.err)
		}
		if r.msg.Status == StatusError {
			return fmt.Errorf("worker %s: startup error: %s", w.id, r.msg.Error)
		}
		if r.msg.Status != StatusReady {
			return fmt.Errorf("worker %s: unexpected status %q", w.id, r.msg.Status)
		}
		w.logger.Info("worker ready", zap.Int("pid", r.msg.PID))
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("worker %s: did not become ready within %s", w.id, timeout)
	case <-w.waitCh:
		return fmt.Errorf("worker %s: exited before becoming ready", w.id)
	}
}

// shutdown asks the worker to stop gracefully, force-killing it if it
// does not exit within timeout.
func (w *worker) shutdown(timeout time.Duration) error {
	enc := json.NewEncoder(w.stdin)
	if err := enc.Encode(Command{Command: CommandShutdown}); err != nil {
		w.logger.Warn("failed to write shutdown command, killing", zap.Error(err))
		return w.kill()
	}
	_ = w.stdin.Close()

	select {
	case <-w.waitCh:
		return nil
	case <-time.After(timeout):
		w.logger.Warn("worker did not exit in time, killing")
		return w.kill()
	}
}

func (w *worker) kill() error {
	if w.cmd.Process == nil {
		return nil
	}
	return w.cmd.Process.Kill()
}

func (w *worker) pid() int {
	if w.cmd.Process == nil {
		return 0
	}
	return w.cmd.Process.Pid
}
