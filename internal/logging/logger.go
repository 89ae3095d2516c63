// Package logging builds the dual-core zap.Logger shared by the
// supervisor and its worker processes (SPEC_FULL.md §10 AMBIENT STACK):
// a JSON core rotated to disk via lumberjack, and a colored console core
// split by level between stdout and stderr.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Role tags every log line with which kind of process emitted it.
type Role string

const (
	RoleMaster Role = "master"
	RoleWorker Role = "worker"
)

// New builds a *zap.Logger tagged with role and workerID. logLevel follows
// spec.md §6 (`trace|debug|info|warn|error|fatal`); logDir holds the
// rotated JSON log file.
func New(logLevel, logDir string, role Role, workerID string) (*zap.Logger, error) {
	zapLevel, err := parseLevel(logLevel)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("logging: create log dir %s: %w", logDir, err)
	}

	lj := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "bungee-proxy.log"),
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}

	fileEncoderCfg := zap.NewProductionEncoderConfig()
	fileEncoderCfg.TimeKey = "ts"
	fileEncoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(fileEncoderCfg),
		zapcore.AddSync(lj),
		zapLevel,
	)

	consoleEncoderCfg := zap.NewDevelopmentEncoderConfig()
	consoleEncoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	consoleEncoder := zapcore.NewConsoleEncoder(consoleEncoderCfg)

	stdoutCore := zapcore.NewCore(
		consoleEncoder,
		zapcore.Lock(os.Stdout),
		zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= zapLevel && l < zapcore.WarnLevel
		}),
	)
	stderrCore := zapcore.NewCore(
		consoleEncoder,
		zapcore.Lock(os.Stderr),
		zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= zapLevel && l >= zapcore.WarnLevel
		}),
	)

	core := zapcore.NewTee(fileCore, stdoutCore, stderrCore)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
	fields := []zap.Field{zap.String("role", string(role))}
	if workerID != "" {
		fields = append(fields, zap.String("worker_id", workerID))
	}
	return logger.With(fields...), nil
}

// parseLevel maps spec.md §6's recognized LOG_LEVEL values onto zapcore.
// "trace" and "fatal" have no direct zapcore.Level match for our purposes
// (zap's DPanicLevel/FatalLevel are reserved for explicit calls, not a log
// level filter); trace maps to Debug and fatal maps to Error, the nearest
// enabled-everything-above level in each direction.
func parseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "trace", "debug":
		return zapcore.DebugLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error", "fatal":
		return zapcore.ErrorLevel, nil
	default:
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return 0, fmt.Errorf("logging: invalid log level %q", level)
		}
		return lvl, nil
	}
}
