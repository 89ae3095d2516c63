package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogDir(t *testing.T) {
	t.Setenv("BUNGEE_LOG_DIR", "")
	require.Equal(t, "logs", logDir())

	t.Setenv("BUNGEE_LOG_DIR", "/tmp/custom-logs")
	require.Equal(t, "/tmp/custom-logs", logDir())
}

func TestRunInit_WritesConfigTemplate(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(cwd)

	require.NoError(t, runInit())

	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"routes"`)
}

func TestRunInit_RefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(cwd)

	require.NoError(t, runInit())
	err = runInit()
	require.Error(t, err)
}
