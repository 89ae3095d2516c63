// Package health implements the in-memory RuntimeUpstream health model
// (spec.md §4.7): per-route upstream health flags, mutated by the request
// pipeline on failure and by the recovery prober on success.
package health

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/bungee-go/internal/models"
)

// Store holds the RuntimeUpstream list for every route whose failover is
// enabled. Routes without failover never get an entry here — the pipeline
// uses a transient HEALTHY-labeled copy of their static upstreams instead
// (spec.md §3 invariant).
type Store struct {
	mu     sync.RWMutex
	routes map[string][]*models.RuntimeUpstream
	logger *zap.Logger
}

// NewStore creates an empty Store.
func NewStore(logger *zap.Logger) *Store {
	return &Store{routes: make(map[string][]*models.RuntimeUpstream), logger: logger}
}

// Initialize (re)builds the RuntimeUpstream lists from a config's routes.
// Called at worker startup; a reloaded worker calls this again on its own
// fresh Store (config is never hot-swapped within a live worker).
func (s *Store) Initialize(routes []models.RouteConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.routes = make(map[string][]*models.RuntimeUpstream)
	for _, route := range routes {
		if route.Failover == nil || !route.Failover.Enabled {
			continue
		}
		list := make([]*models.RuntimeUpstream, 0, len(route.Upstreams))
		for _, up := range route.Upstreams {
			list = append(list, &models.RuntimeUpstream{Upstream: up, Status: models.StatusHealthy})
		}
		s.routes[route.Path] = list
	}
}

// HasFailover reports whether routePath has a RuntimeUpstream list.
func (s *Store) HasFailover(routePath string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.routes[routePath]
	return ok
}

// Healthy returns the HEALTHY-filtered RuntimeUpstream list for routePath.
func (s *Store) Healthy(routePath string) []*models.RuntimeUpstream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.routes[routePath]
	healthy := make([]*models.RuntimeUpstream, 0, len(all))
	for _, u := range all {
		if u.Status == models.StatusHealthy {
			healthy = append(healthy, u)
		}
	}
	return healthy
}

// MarkUnhealthy flips an upstream's status on request failure or a
// retryable response status. Concurrent callers may race to flip the same
// upstream; the final state is UNHEALTHY either way (spec.md §5).
func (s *Store) MarkUnhealthy(routePath, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.routes[routePath] {
		if u.Upstream.Target == target {
			u.Status = models.StatusUnhealthy
			u.LastFailure = time.Now()
			if s.logger != nil {
				s.logger.Warn("upstream marked unhealthy", zap.String("route", routePath), zap.String("target", target))
			}
			return
		}
	}
}

// RecoverFirstMatch finds the first UNHEALTHY upstream across all routes
// matching target and flips it back to HEALTHY. This is the main-worker
// side of the health-probe protocol (spec.md §4.7/§6): recovery probes
// report by target URL only, not by route, so the first match wins.
func (s *Store) RecoverFirstMatch(target string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for routePath, list := range s.routes {
		for _, u := range list {
			if u.Upstream.Target == target && u.Status == models.StatusUnhealthy {
				u.Status = models.StatusHealthy
				if s.logger != nil {
					s.logger.Info("upstream recovered", zap.String("route", routePath), zap.String("target", target))
				}
				return true
			}
		}
	}
	return false
}

// Unhealthy returns every currently-UNHEALTHY upstream across all routes,
// paired with the route that owns it, for the prober to probe.
func (s *Store) Unhealthy() []UnhealthyEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []UnhealthyEntry
	for routePath, list := range s.routes {
		for _, u := range list {
			if u.Status == models.StatusUnhealthy {
				out = append(out, UnhealthyEntry{RoutePath: routePath, Upstream: u.Upstream})
			}
		}
	}
	return out
}

// UnhealthyEntry pairs an unhealthy upstream with its owning route.
type UnhealthyEntry struct {
	RoutePath string
	Upstream  models.Upstream
}
