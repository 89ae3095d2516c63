// Package selector implements the upstream selector: weighted random
// selection within the highest-priority group of healthy upstreams, plus
// the retry queue ordering used by the request pipeline on failover.
package selector

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/user/bungee-go/internal/models"
)

// Thread-safe random source shared by every Select call in this worker.
var rng = rand.New(rand.NewSource(time.Now().UnixNano()))
var rngMu sync.Mutex

func secureRandIntn(n int) int {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Intn(n)
}

// Select implements spec.md §4.4: group candidates by priority, take the
// first (ascending) group whose total weight is positive, and draw one
// member by weighted random within it. Returns nil if no group has
// positive total weight.
func Select(candidates []*models.RuntimeUpstream) *models.RuntimeUpstream {
	for _, g := range groupByPriority(candidates) {
		if picked := selectWeightedWithin(g); picked != nil {
			return picked
		}
	}
	return nil
}

// RetryQueue orders the remaining healthy upstreams (excluding the one
// already tried) ascending by priority, then descending by weight — the
// order the pipeline walks on failover.
func RetryQueue(candidates []*models.RuntimeUpstream, tried *models.RuntimeUpstream) []*models.RuntimeUpstream {
	remaining := make([]*models.RuntimeUpstream, 0, len(candidates))
	for _, c := range candidates {
		if c == tried {
			continue
		}
		remaining = append(remaining, c)
	}
	sort.SliceStable(remaining, func(i, j int) bool {
		a, b := remaining[i].Upstream, remaining[j].Upstream
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.Weight > b.Weight
	})
	return remaining
}

func groupByPriority(candidates []*models.RuntimeUpstream) [][]*models.RuntimeUpstream {
	byPriority := make(map[int][]*models.RuntimeUpstream)
	var priorities []int
	for _, c := range candidates {
		p := c.Upstream.Priority
		if _, ok := byPriority[p]; !ok {
			priorities = append(priorities, p)
		}
		byPriority[p] = append(byPriority[p], c)
	}
	sort.Ints(priorities)
	groups := make([][]*models.RuntimeUpstream, 0, len(priorities))
	for _, p := range priorities {
		groups = append(groups, byPriority[p])
	}
	return groups
}

// selectWeightedWithin draws one member of a single priority group by
// cumulative weight. Returns nil if the group's total weight is zero.
func selectWeightedWithin(group []*models.RuntimeUpstream) *models.RuntimeUpstream {
	totalWeight := 0
	for _, u := range group {
		totalWeight += u.Upstream.Weight
	}
	if totalWeight <= 0 {
		return nil
	}

	r := secureRandIntn(totalWeight)
	cumulative := 0
	for _, u := range group {
		cumulative += u.Upstream.Weight
		if r < cumulative {
			return u
		}
	}
	// Floating/rounding edge case: fall back to the last member.
	return group[len(group)-1]
}
