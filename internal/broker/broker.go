// Package broker connects the moderation processor to a message bus. Comments
// arrive as JSON on the intake topic; each decision is published to the
// decision topic suffixed with its outcome.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"comment-moderation/internal/logger"
	"comment-moderation/internal/rule"
	"comment-moderation/internal/stats"
)

// UnmatchedSuffix is the topic suffix for comments no rule matched.
const UnmatchedSuffix = "none"

// Broker is a running message bus connection.
type Broker interface {
	Start(ctx context.Context) error
	Close()
	GetStats() BrokerStats
}

// BrokerStats tracks message counts for a broker connection.
type BrokerStats struct {
	MessagesReceived  uint64
	MessagesPublished uint64
	Errors            uint64
	LastReconnect     time.Time
}

// Moderator decides comments. *rule.Processor satisfies it.
type Moderator interface {
	Moderate(c *rule.Comment) rule.Decision
	RecordError()
}

// DecisionMessage is the payload published for every moderated comment.
type DecisionMessage struct {
	DecisionID  string       `json:"decisionId"`
	CommentID   string       `json:"commentId,omitempty"`
	Matched     bool         `json:"matched"`
	RuleID      uint64       `json:"ruleId,omitempty"`
	RuleName    string       `json:"ruleName,omitempty"`
	Outcome     rule.Outcome `json:"outcome,omitempty"`
	ElapsedUS   int64        `json:"elapsedUs"`
	ModeratedAt time.Time    `json:"moderatedAt"`
}

// Router turns intake payloads into decision payloads. It is shared by the
// NATS and MQTT transports, which only differ in how they move bytes.
type Router struct {
	moderator     Moderator
	decisionTopic string
	logger        *logger.Logger
	stats         *stats.StatsCollector

	received  uint64
	published uint64
	errors    uint64

	newID func() string
	now   func() time.Time
}

// NewRouter creates a router publishing under decisionTopic. st may be nil.
func NewRouter(m Moderator, decisionTopic string, log *logger.Logger, st *stats.StatsCollector) *Router {
	return &Router{
		moderator:     m,
		decisionTopic: strings.TrimSuffix(decisionTopic, "/"),
		logger:        log,
		stats:         st,
		newID:         uuid.NewString,
		now:           time.Now,
	}
}

// Handle moderates one intake payload and returns the topic and payload of
// the decision. Payloads that are not a JSON comment are counted as errors.
func (r *Router) Handle(payload []byte) (string, []byte, error) {
	atomic.AddUint64(&r.received, 1)
	if r.stats != nil {
		r.stats.IncReceived()
	}

	var comment rule.Comment
	if err := json.Unmarshal(payload, &comment); err != nil {
		atomic.AddUint64(&r.errors, 1)
		r.moderator.RecordError()
		r.logger.Warn("dropping malformed comment",
			"payloadSize", len(payload),
			"error", err)
		return "", nil, fmt.Errorf("invalid comment payload: %w", err)
	}

	decision := r.moderator.Moderate(&comment)

	msg := DecisionMessage{
		DecisionID:  r.newID(),
		CommentID:   decision.CommentID,
		Matched:     decision.Matched,
		RuleID:      decision.RuleID,
		RuleName:    decision.RuleName,
		Outcome:     decision.Outcome,
		ElapsedUS:   decision.Elapsed.Microseconds(),
		ModeratedAt: r.now().UTC(),
	}

	out, err := json.Marshal(msg)
	if err != nil {
		atomic.AddUint64(&r.errors, 1)
		return "", nil, fmt.Errorf("failed to encode decision: %w", err)
	}

	return r.DecisionTopic(decision), out, nil
}

// DecisionTopic returns the MQTT-style topic a decision is published to.
func (r *Router) DecisionTopic(d rule.Decision) string {
	suffix := UnmatchedSuffix
	if d.Matched {
		suffix = string(d.Outcome)
	}
	return r.decisionTopic + "/" + suffix
}

// Published records a decision that reached the bus.
func (r *Router) Published() {
	atomic.AddUint64(&r.published, 1)
	if r.stats != nil {
		r.stats.IncPublished()
	}
}

// Failed records a decision that could not be published.
func (r *Router) Failed() {
	atomic.AddUint64(&r.errors, 1)
}

// Stats returns the router counters; LastReconnect is left to the transport.
func (r *Router) Stats() BrokerStats {
	return BrokerStats{
		MessagesReceived:  atomic.LoadUint64(&r.received),
		MessagesPublished: atomic.LoadUint64(&r.published),
		Errors:            atomic.LoadUint64(&r.errors),
	}
}
