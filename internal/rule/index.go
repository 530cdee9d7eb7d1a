package rule

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"comment-moderation/internal/logger"
	"comment-moderation/internal/metrics"
)

// RuleIndex holds the enabled rules in evaluation order: persisted rules by
// ascending ID, then unsaved rules in insertion order.
type RuleIndex struct {
	rules   []*Rule
	stats   IndexStats
	logger  *logger.Logger
	metrics *metrics.Metrics
	mu      sync.RWMutex
}

// IndexStats tracks rule index statistics
type IndexStats struct {
	RuleCount  uint64    // Rules currently indexed
	Skipped    uint64    // Disabled or nil rules left out by the last Replace
	Lookups    uint64    // Calls to Rules
	LastUpdate time.Time // Last index update time
}

// NewRuleIndex creates a new rule index
func NewRuleIndex(logger *logger.Logger, metrics *metrics.Metrics) *RuleIndex {
	return &RuleIndex{
		logger:  logger,
		metrics: metrics,
		stats: IndexStats{
			LastUpdate: time.Now(),
		},
	}
}

// Rules returns the indexed rules in evaluation order.
func (idx *RuleIndex) Rules() []*Rule {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	atomic.AddUint64(&idx.stats.Lookups, 1)

	out := make([]*Rule, len(idx.rules))
	copy(out, idx.rules)
	return out
}

// Replace swaps the whole rule set in one step. Disabled rules are left
// out.
func (idx *RuleIndex) Replace(rules []*Rule) {
	enabled := make([]*Rule, 0, len(rules))
	for _, r := range rules {
		if r != nil && r.Enabled {
			enabled = append(enabled, r)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return sortKey(enabled[i]) < sortKey(enabled[j])
	})

	idx.mu.Lock()
	defer idx.mu.Unlock()

	atomic.StoreUint64(&idx.stats.Skipped, uint64(len(rules)-len(enabled)))
	idx.rules = enabled
	idx.updated()

	idx.logger.Debug("rule index replaced",
		"count", len(enabled),
		"skipped", len(rules)-len(enabled))
}

// GetStats returns current index statistics
func (idx *RuleIndex) GetStats() IndexStats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return IndexStats{
		RuleCount:  atomic.LoadUint64(&idx.stats.RuleCount),
		Skipped:    atomic.LoadUint64(&idx.stats.Skipped),
		Lookups:    atomic.LoadUint64(&idx.stats.Lookups),
		LastUpdate: idx.stats.LastUpdate,
	}
}

// updated refreshes counters after a change. Callers hold mu.
func (idx *RuleIndex) updated() {
	atomic.StoreUint64(&idx.stats.RuleCount, uint64(len(idx.rules)))
	idx.stats.LastUpdate = time.Now()

	if idx.metrics != nil {
		idx.metrics.SetRulesActive(float64(len(idx.rules)))
	}
}

// sortKey places unsaved rules after persisted ones.
func sortKey(r *Rule) uint64 {
	if r.ID == 0 {
		return ^uint64(0)
	}
	return r.ID
}
