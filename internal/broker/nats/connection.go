package nats

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"comment-moderation/internal/metrics"
)

// connect dials the configured server with unlimited reconnects.
func (b *NATSBroker) connect() error {
	if b.config.URL == "" {
		return fmt.Errorf("no NATS server URL provided")
	}

	opts := []nats.Option{
		nats.Name(b.config.ClientID),
		nats.ReconnectWait(time.Second * 2),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(b.handleDisconnect),
		nats.ReconnectHandler(b.handleReconnect),
		nats.ClosedHandler(b.handleClosed),
	}

	if b.config.Username != "" {
		opts = append(opts, nats.UserInfo(b.config.Username, b.config.Password))
	}

	if b.config.TLS.Enable {
		opts = append(opts, nats.ClientCert(b.config.TLS.CertFile, b.config.TLS.KeyFile))
		if b.config.TLS.CAFile != "" {
			opts = append(opts, nats.RootCAs(b.config.TLS.CAFile))
		}
	}

	b.logger.Info("connecting to NATS server", "url", b.config.URL)

	conn, err := nats.Connect(b.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS server: %w", err)
	}

	b.conn = conn
	b.connected.Store(true)
	b.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetBrokerConnectionStatus(true)
	})

	b.logger.Info("connected to NATS server", "url", conn.ConnectedUrl())
	return nil
}

// IsConnected reports whether the connection is currently up.
func (b *NATSBroker) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected() && b.connected.Load()
}

func (b *NATSBroker) handleDisconnect(_ *nats.Conn, err error) {
	b.logger.Error("disconnected from NATS server", "error", err)
	b.connected.Store(false)

	b.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetBrokerConnectionStatus(false)
	})
}

// handleReconnect only records the event; the client restores the queue
// subscription itself.
func (b *NATSBroker) handleReconnect(conn *nats.Conn) {
	b.logger.Info("reconnected to NATS server", "url", conn.ConnectedUrl())
	b.connected.Store(true)

	b.mu.Lock()
	b.lastReconnect = time.Now()
	b.mu.Unlock()

	b.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetBrokerConnectionStatus(true)
		m.IncBrokerReconnects()
	})
}

func (b *NATSBroker) handleClosed(_ *nats.Conn) {
	b.logger.Warn("NATS connection closed")
	b.connected.Store(false)

	b.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetBrokerConnectionStatus(false)
	})
}
