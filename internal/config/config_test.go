package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dustin/go-humanize"
	"github.com/stretchr/testify/require"

	"github.com/user/bungee-go/internal/models"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Routes = []models.RouteConfig{
		{
			Path: "/api",
			Upstreams: []models.Upstream{
				{Target: "http://localhost:9000", Weight: 100, Priority: 1},
			},
		},
	}
	return cfg
}

func TestValidate_RejectsEmptyRoutes(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "routes")
}

func TestValidate_RejectsZeroTotalWeight(t *testing.T) {
	cfg := validConfig()
	cfg.Routes[0].Upstreams[0].Weight = 0
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "total weight")
}

func TestValidate_RejectsBadPort(t *testing.T) {
	cfg := validConfig()
	cfg.Port = 70000
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "port")
}

func TestValidate_RejectsEmptyUpstreamTarget(t *testing.T) {
	cfg := validConfig()
	cfg.Routes[0].Upstreams[0].Target = ""
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "target")
}

func TestWarnings_FlagsFailoverWithOneUpstream(t *testing.T) {
	cfg := validConfig()
	cfg.Routes[0].Failover = &models.FailoverConfig{Enabled: true}
	warnings := cfg.Warnings()
	require.Len(t, warnings, 1)
}

func TestApplyUpstreamDefaults_FillsWeightAndPriority(t *testing.T) {
	routes := []models.RouteConfig{
		{Path: "/x", Upstreams: []models.Upstream{{Target: "http://a"}}},
	}
	applyUpstreamDefaults(routes)
	require.Equal(t, 100, routes[0].Upstreams[0].Weight)
	require.Equal(t, 1, routes[0].Upstreams[0].Priority)
}

func TestLoad_ParsesDocumentAndAppliesEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	doc := `{
		"bodyParserLimit": "2mb",
		"routes": [
			{"path": "/api", "upstreams": [{"target": "http://localhost:9000"}]}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	t.Setenv("WORKER_COUNT", "4")
	t.Setenv("CONFIG_PATH", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	wantBytes, err := humanize.ParseBytes("2mb")
	require.NoError(t, err)
	require.Equal(t, int64(wantBytes), cfg.BodyParserLimitBytes)
	require.Equal(t, 4, cfg.WorkerCount)
	require.Equal(t, 100, cfg.Routes[0].Upstreams[0].Weight)
}

func TestLoad_InvalidConfigFailsValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"routes": []}`), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
