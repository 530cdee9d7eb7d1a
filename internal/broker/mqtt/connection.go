package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"comment-moderation/config"
	"comment-moderation/internal/metrics"
)

// clientOptions builds the paho options for cfg with the broker's
// connection handlers attached.
func (b *MQTTBroker) clientOptions(cfg config.BrokerConfig) (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetMaxReconnectInterval(time.Minute)

	opts.OnConnect = b.handleConnect
	opts.OnConnectionLost = b.handleDisconnect
	opts.OnReconnecting = b.handleReconnecting

	if cfg.TLS.Enable {
		tlsConfig, err := newTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	return opts, nil
}

// handleConnect runs on the first connect and every reconnect. With a clean
// session the server forgets subscriptions, so the intake is resubscribed
// once Start has run.
func (b *MQTTBroker) handleConnect(client mqtt.Client) {
	b.logger.Info("mqtt client connected", "broker", b.config.URL)
	b.connected.Store(true)

	b.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetBrokerConnectionStatus(true)
	})

	if !b.started.Load() {
		return
	}

	b.mu.Lock()
	b.lastReconnect = time.Now()
	b.mu.Unlock()

	if err := b.subscribe(); err != nil {
		b.logger.Error("failed to resubscribe after reconnect", "error", err)
		return
	}
	b.logger.Info("resubscribed to intake after reconnect", "topic", b.config.IntakeTopic)
}

func (b *MQTTBroker) handleDisconnect(_ mqtt.Client, err error) {
	b.logger.Error("mqtt connection lost", "error", err)
	b.connected.Store(false)

	b.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetBrokerConnectionStatus(false)
	})
}

func (b *MQTTBroker) handleReconnecting(_ mqtt.Client, opts *mqtt.ClientOptions) {
	server := ""
	if len(opts.Servers) > 0 {
		server = opts.Servers[0].String()
	}
	b.logger.Info("mqtt client reconnecting", "broker", server)

	b.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.IncBrokerReconnects()
	})
}

// newTLSConfig loads a client certificate and, when caFile is set, the CA
// pool used to verify the server.
func newTLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if caFile == "" {
		return tlsConfig, nil
	}

	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = caCertPool

	return tlsConfig, nil
}
