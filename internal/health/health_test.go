//go:build !integration && !e2e

package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/bungee-go/internal/models"
)

func routeWithFailover(path string, targets ...string) models.RouteConfig {
	ups := make([]models.Upstream, 0, len(targets))
	for _, t := range targets {
		ups = append(ups, models.Upstream{Target: t, Weight: 100, Priority: 1})
	}
	return models.RouteConfig{
		Path:      path,
		Upstreams: ups,
		Failover:  &models.FailoverConfig{Enabled: true, RetryableStatusCodes: []int{500}},
	}
}

func TestStore_InitializeOnlyFailoverRoutes(t *testing.T) {
	s := NewStore(zap.NewNop())
	s.Initialize([]models.RouteConfig{
		routeWithFailover("/f", "a", "b"),
		{Path: "/no-failover", Upstreams: []models.Upstream{{Target: "c", Weight: 100, Priority: 1}}},
	})
	assert.True(t, s.HasFailover("/f"))
	assert.False(t, s.HasFailover("/no-failover"))
	assert.Len(t, s.Healthy("/f"), 2)
}

func TestStore_MarkUnhealthyThenRecover(t *testing.T) {
	s := NewStore(zap.NewNop())
	s.Initialize([]models.RouteConfig{routeWithFailover("/f", "a", "b")})

	s.MarkUnhealthy("/f", "a")
	require.Len(t, s.Healthy("/f"), 1)
	assert.Equal(t, "b", s.Healthy("/f")[0].Upstream.Target)

	entries := s.Unhealthy()
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].Upstream.Target)

	recovered := s.RecoverFirstMatch("a")
	assert.True(t, recovered)
	assert.Len(t, s.Healthy("/f"), 2)
}

func TestStore_RecoverFirstMatch_NoneFound(t *testing.T) {
	s := NewStore(zap.NewNop())
	s.Initialize([]models.RouteConfig{routeWithFailover("/f", "a")})
	assert.False(t, s.RecoverFirstMatch("unknown"))
}
