package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel_KnownValues(t *testing.T) {
	cases := map[string]zapcore.Level{
		"":      zapcore.InfoLevel,
		"info":  zapcore.InfoLevel,
		"debug": zapcore.DebugLevel,
		"trace": zapcore.DebugLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"fatal": zapcore.ErrorLevel,
	}
	for in, want := range cases {
		got, err := parseLevel(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestParseLevel_RejectsUnknown(t *testing.T) {
	_, err := parseLevel("not-a-level")
	require.Error(t, err)
}

func TestNew_BuildsLoggerAndWritesRotatedFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := New("info", dir, RoleWorker, "w1")
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("hello")
	require.NoError(t, logger.Sync())
}
