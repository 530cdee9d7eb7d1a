package rule

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"comment-moderation/internal/logger"
	"comment-moderation/internal/metrics"
)

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Workers          int
	MaxDepth         int
	PatternCacheSize int
	MaxPatternLength int
}

// Processor moderates comments against the loaded rules.
type Processor struct {
	index     *RuleIndex
	evaluator *Evaluator
	validator *Validator
	workers   int
	logger    *logger.Logger
	metrics   *metrics.Metrics
	stats     ProcessorStats
}

// ProcessorStats tracks processing metrics
type ProcessorStats struct {
	Processed    uint64
	Matched      uint64
	Errors       uint64
	InvalidRules uint64
}

// NewProcessor creates a new processor. metrics may be nil.
func NewProcessor(cfg ProcessorConfig, log *logger.Logger, m *metrics.Metrics) (*Processor, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	evaluator, err := NewEvaluator(cfg.PatternCacheSize, cfg.MaxPatternLength)
	if err != nil {
		return nil, err
	}

	return &Processor{
		index:     NewRuleIndex(log, m),
		evaluator: evaluator,
		validator: NewValidator(cfg.MaxDepth, cfg.MaxPatternLength),
		workers:   cfg.Workers,
		logger:    log,
		metrics:   m,
	}, nil
}

// LoadRules validates rules and replaces the index with the valid, enabled
// ones. Invalid rules are skipped; their errors are returned joined once the
// valid rules are in place.
func (p *Processor) LoadRules(rules []Rule) error {
	valid := make([]*Rule, 0, len(rules))
	var errs []error

	for i := range rules {
		rule := &rules[i]
		if err := p.validator.Validate(rule); err != nil {
			p.logger.Warn("skipping invalid rule",
				"ruleId", rule.ID,
				"name", rule.Name,
				"error", err)
			errs = append(errs, fmt.Errorf("rule %d (%s): %w", rule.ID, rule.Name, err))
			continue
		}
		if rule.Conditions == nil {
			p.logger.Warn("rule has no conditions and will never match",
				"ruleId", rule.ID,
				"name", rule.Name)
		}
		valid = append(valid, rule)
	}

	p.index.Replace(valid)
	atomic.StoreUint64(&p.stats.InvalidRules, uint64(len(errs)))

	p.logger.Info("rules loaded into index",
		"count", p.index.GetStats().RuleCount,
		"invalid", len(errs))

	return errors.Join(errs...)
}

// Rules returns the active rules in evaluation order.
func (p *Processor) Rules() []*Rule {
	return p.index.Rules()
}

// Moderate evaluates the active rules in order and returns the decision of
// the first one that matches.
func (p *Processor) Moderate(c *Comment) Decision {
	start := time.Now()
	decision := Decision{}
	if c != nil {
		decision.CommentID = c.ID
	}

	for _, rule := range p.index.Rules() {
		if !p.evaluator.Evaluate(rule.Conditions, c) {
			continue
		}
		decision.Matched = true
		decision.RuleID = rule.ID
		decision.RuleName = rule.Name
		decision.Outcome = rule.Outcome
		break
	}

	decision.Elapsed = time.Since(start)
	atomic.AddUint64(&p.stats.Processed, 1)

	if p.metrics != nil {
		p.metrics.IncCommentsTotal("processed")
		p.metrics.ObserveEvaluation(decision.Elapsed)
	}

	if decision.Matched {
		atomic.AddUint64(&p.stats.Matched, 1)
		if p.metrics != nil {
			p.metrics.IncRuleMatches()
			p.metrics.IncOutcomesTotal(string(decision.Outcome))
		}
		p.logger.Debug("comment matched rule",
			"commentId", decision.CommentID,
			"ruleId", decision.RuleID,
			"outcome", decision.Outcome)
	}

	return decision
}

// ModerateBatch moderates comments concurrently on at most Workers
// goroutines. Decisions keep the order of comments. It stops early when ctx
// is cancelled.
func (p *Processor) ModerateBatch(ctx context.Context, comments []*Comment) ([]Decision, error) {
	decisions := make([]Decision, len(comments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, c := range comments {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			decisions[i] = p.Moderate(c)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		atomic.AddUint64(&p.stats.Errors, 1)
		return nil, fmt.Errorf("batch moderation interrupted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		atomic.AddUint64(&p.stats.Errors, 1)
		return nil, fmt.Errorf("batch moderation interrupted: %w", err)
	}

	return decisions, nil
}

// RecordError counts a comment that could not be moderated.
func (p *Processor) RecordError() {
	atomic.AddUint64(&p.stats.Errors, 1)
	if p.metrics != nil {
		p.metrics.IncCommentsTotal("error")
	}
}

// GetStats returns current processing statistics
func (p *Processor) GetStats() ProcessorStats {
	return ProcessorStats{
		Processed:    atomic.LoadUint64(&p.stats.Processed),
		Matched:      atomic.LoadUint64(&p.stats.Matched),
		Errors:       atomic.LoadUint64(&p.stats.Errors),
		InvalidRules: atomic.LoadUint64(&p.stats.InvalidRules),
	}
}
