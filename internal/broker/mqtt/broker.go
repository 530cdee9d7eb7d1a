package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"comment-moderation/config"
	"comment-moderation/internal/broker"
	"comment-moderation/internal/logger"
	"comment-moderation/internal/metrics"
)

const disconnectQuiesce = 250 // milliseconds

// MQTTBroker subscribes to the intake topic and publishes each decision to
// the decision topic suffixed with its outcome.
type MQTTBroker struct {
	logger  *logger.Logger
	config  config.BrokerConfig
	router  *broker.Router
	metrics *metrics.Metrics

	client    mqtt.Client
	connected atomic.Bool
	started   atomic.Bool

	lastReconnect time.Time
	done          chan struct{}
	closeOnce     sync.Once
	mu            sync.RWMutex
	wg            sync.WaitGroup
}

// NewBroker connects to the MQTT server named in cfg.
func NewBroker(cfg config.BrokerConfig, router *broker.Router, log *logger.Logger, m *metrics.Metrics) (*MQTTBroker, error) {
	b := newBroker(cfg, router, log, m)

	opts, err := b.clientOptions(cfg)
	if err != nil {
		return nil, err
	}
	b.client = mqtt.NewClient(opts)

	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", token.Error())
	}

	return b, nil
}

// NewBrokerWithClient wraps an already configured client.
func NewBrokerWithClient(cfg config.BrokerConfig, client mqtt.Client, router *broker.Router, log *logger.Logger, m *metrics.Metrics) *MQTTBroker {
	b := newBroker(cfg, router, log, m)
	b.client = client
	b.connected.Store(client.IsConnected())
	return b
}

func newBroker(cfg config.BrokerConfig, router *broker.Router, log *logger.Logger, m *metrics.Metrics) *MQTTBroker {
	return &MQTTBroker{
		logger:        log.With("broker", "mqtt"),
		config:        cfg,
		router:        router,
		metrics:       m,
		lastReconnect: time.Now(),
		done:          make(chan struct{}),
	}
}

// Start subscribes to the intake topic and unsubscribes once ctx is done or
// the broker is closed.
func (b *MQTTBroker) Start(ctx context.Context) error {
	if err := b.subscribe(); err != nil {
		return err
	}
	b.started.Store(true)

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

func (b *MQTTBroker) subscribe() error {
	topic := b.config.IntakeTopic
	token := b.client.Subscribe(topic, b.config.QoS, b.handleMessage)
	if token.Wait() && token.Error() != nil {
		b.logger.Error("failed to subscribe to intake",
			"topic", topic,
			"error", token.Error())
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}

	b.logger.Info("subscribed to intake", "topic", topic, "qos", b.config.QoS)
	return nil
}

func (b *MQTTBroker) unsubscribe() {
	if !b.started.CompareAndSwap(true, false) {
		return
	}
	if token := b.client.Unsubscribe(b.config.IntakeTopic); token.Wait() && token.Error() != nil {
		b.logger.Warn("failed to unsubscribe from intake",
			"topic", b.config.IntakeTopic,
			"error", token.Error())
	}
}

// handleMessage moderates one comment and publishes the decision.
func (b *MQTTBroker) handleMessage(client mqtt.Client, msg mqtt.Message) {
	b.logger.Debug("processing comment",
		"topic", msg.Topic(),
		"payloadSize", len(msg.Payload()))

	topic, out, err := b.router.Handle(msg.Payload())
	if err != nil {
		return
	}

	token := client.Publish(topic, b.config.QoS, false, out)
	if token.Wait() && token.Error() != nil {
		b.router.Failed()
		b.logger.Error("failed to publish decision",
			"topic", topic,
			"error", token.Error())
		return
	}
	b.router.Published()

	b.logger.Debug("published decision",
		"topic", topic,
		"payloadSize", len(out))
}

// IsConnected reports whether the client is currently connected.
func (b *MQTTBroker) IsConnected() bool {
	return b.connected.Load()
}

// Close unsubscribes and disconnects from the server.
func (b *MQTTBroker) Close() {
	b.logger.Info("shutting down mqtt broker")
	b.closeOnce.Do(func() { close(b.done) })

	b.unsubscribe()
	b.client.Disconnect(disconnectQuiesce)
	b.connected.Store(false)

	b.wg.Wait()
}

func (b *MQTTBroker) GetStats() broker.BrokerStats {
	stats := b.router.Stats()
	b.mu.RLock()
	stats.LastReconnect = b.lastReconnect
	b.mu.RUnlock()
	return stats
}

// safeMetricsUpdate safely updates metrics if they are enabled
func (b *MQTTBroker) safeMetricsUpdate(fn func(*metrics.Metrics)) {
	if b.metrics != nil {
		fn(b.metrics)
	}
}
