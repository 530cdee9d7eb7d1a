package nats

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"comment-moderation/config"
	"comment-moderation/internal/broker"
	"comment-moderation/internal/logger"
	"comment-moderation/internal/metrics"
)

// NATSBroker takes comments from a queue subscription on the intake subject
// and publishes decisions under the decision subject. Several instances
// sharing a queue group split the intake between them.
type NATSBroker struct {
	logger       *logger.Logger
	config       config.BrokerConfig
	router       *broker.Router
	metrics      *metrics.Metrics
	pendingLimit int

	conn      *nats.Conn
	sub       *nats.Subscription
	connected atomic.Bool
	publish   func(subject string, data []byte) error

	lastReconnect time.Time
	done          chan struct{}
	closeOnce     sync.Once
	mu            sync.RWMutex
	wg            sync.WaitGroup
}

// NewBroker connects to the server named in cfg. pendingLimit bounds the
// number of comments buffered by the subscription; values below 1 keep the
// client default.
func NewBroker(cfg config.BrokerConfig, pendingLimit int, router *broker.Router, log *logger.Logger, m *metrics.Metrics) (*NATSBroker, error) {
	b := &NATSBroker{
		logger:        log.With("broker", "nats"),
		config:        cfg,
		router:        router,
		metrics:       m,
		pendingLimit:  pendingLimit,
		lastReconnect: time.Now(),
		done:          make(chan struct{}),
	}

	if err := b.connect(); err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}
	b.publish = b.conn.Publish

	return b, nil
}

// Start subscribes to the intake subject and unsubscribes once ctx is done
// or the broker is closed.
func (b *NATSBroker) Start(ctx context.Context) error {
	subject := ToNATSSubject(b.config.IntakeTopic)

	b.mu.Lock()
	sub, err := b.conn.QueueSubscribe(subject, b.config.QueueGroup, b.handleMessage)
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	if b.pendingLimit > 0 {
		if err := sub.SetPendingLimits(b.pendingLimit, -1); err != nil {
			b.logger.Warn("failed to set pending limits", "error", err)
		}
	}
	b.sub = sub
	b.mu.Unlock()

	b.logger.Info("subscribed to intake",
		"subject", subject,
		"queueGroup", b.config.QueueGroup)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		select {
		case <-ctx.Done():
			b.logger.Info("context done, unsubscribing from intake")
			b.unsubscribe()
		case <-b.done:
		}
	}()

	return nil
}

// handleMessage moderates one comment. Decisions go to the outcome subject
// and, for request-reply intake, back to the reply subject too.
func (b *NATSBroker) handleMessage(msg *nats.Msg) {
	b.logger.Debug("processing comment",
		"subject", msg.Subject,
		"payloadSize", len(msg.Data))

	topic, out, err := b.router.Handle(msg.Data)
	if err != nil {
		return
	}

	subject := ToNATSSubject(topic)
	if err := b.publish(subject, out); err != nil {
		b.router.Failed()
		b.logger.Error("failed to publish decision",
			"subject", subject,
			"error", err)
		return
	}
	b.router.Published()

	if msg.Reply != "" {
		if err := b.publish(msg.Reply, out); err != nil {
			b.logger.Warn("failed to reply with decision",
				"reply", msg.Reply,
				"error", err)
		}
	}
}

func (b *NATSBroker) unsubscribe() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub == nil {
		return
	}
	if err := b.sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
		b.logger.Warn("failed to unsubscribe", "error", err)
	}
	b.sub = nil
}

// Close unsubscribes, flushes pending decisions and closes the connection.
func (b *NATSBroker) Close() {
	b.logger.Info("shutting down NATS broker")
	b.closeOnce.Do(func() { close(b.done) })

	b.unsubscribe()
	if b.conn != nil {
		if err := b.conn.Flush(); err != nil {
			b.logger.Debug("flush before close failed", "error", err)
		}
		b.conn.Close()
	}
	b.connected.Store(false)

	b.wg.Wait()
}

func (b *NATSBroker) GetStats() broker.BrokerStats {
	stats := b.router.Stats()
	b.mu.RLock()
	stats.LastReconnect = b.lastReconnect
	b.mu.RUnlock()
	return stats
}

// safeMetricsUpdate safely updates metrics if they are enabled
func (b *NATSBroker) safeMetricsUpdate(fn func(*metrics.Metrics)) {
	if b.metrics != nil {
		fn(b.metrics)
	}
}
