package stats

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// StatsCollector keeps an application-wide snapshot of moderation counters.
type StatsCollector struct {
	StartTime          time.Time
	CommentsReceived   uint64
	CommentsModerated  uint64
	RulesMatched       uint64
	DecisionsPublished uint64
	Errors             uint64

	mu         sync.RWMutex
	lastUpdate time.Time
}

// NewStatsCollector creates a new stats collector
func NewStatsCollector() *StatsCollector {
	now := time.Now()
	return &StatsCollector{
		StartTime:  now,
		lastUpdate: now,
	}
}

// Update replaces the counters with new values
func (s *StatsCollector) Update(received, moderated, matched, published, errors uint64) {
	atomic.StoreUint64(&s.CommentsReceived, received)
	atomic.StoreUint64(&s.CommentsModerated, moderated)
	atomic.StoreUint64(&s.RulesMatched, matched)
	atomic.StoreUint64(&s.DecisionsPublished, published)
	atomic.StoreUint64(&s.Errors, errors)

	s.mu.Lock()
	s.lastUpdate = time.Now()
	s.mu.Unlock()
}

// IncReceived counts one comment taken off the intake.
func (s *StatsCollector) IncReceived() {
	atomic.AddUint64(&s.CommentsReceived, 1)
}

// IncPublished counts one decision sent back to the broker.
func (s *StatsCollector) IncPublished() {
	atomic.AddUint64(&s.DecisionsPublished, 1)
}

func (s *StatsCollector) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// GetStats returns current statistics
func (s *StatsCollector) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"uptime":              time.Since(s.StartTime).String(),
		"comments_received":   atomic.LoadUint64(&s.CommentsReceived),
		"comments_moderated":  atomic.LoadUint64(&s.CommentsModerated),
		"rules_matched":       atomic.LoadUint64(&s.RulesMatched),
		"decisions_published": atomic.LoadUint64(&s.DecisionsPublished),
		"errors":              atomic.LoadUint64(&s.Errors),
		"last_update":         s.LastUpdate(),
	}
}

// GetStatsJSON returns stats as JSON
func (s *StatsCollector) GetStatsJSON() ([]byte, error) {
	return json.Marshal(s.GetStats())
}

// CalculateRate returns comments moderated per second since start.
func (s *StatsCollector) CalculateRate() float64 {
	uptime := time.Since(s.StartTime).Seconds()
	if uptime <= 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&s.CommentsModerated)) / uptime
}
