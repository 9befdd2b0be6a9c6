package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/MahfuzulAlam/smart-assistant/internal/config"
)

// MQTTPublisher manages the broker connection and publishes notices.
// It uses Eclipse Paho v2's autopaho package for connection management
// with automatic reconnection. A will message flips the availability
// topic to "offline" on unexpected disconnects; a birth message flips
// it back on every (re-)connect.
type MQTTPublisher struct {
	cfg    config.MQTTConfig
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// NewMQTT creates a publisher but does not connect. Call
// [MQTTPublisher.Start] to begin the connection.
func NewMQTT(cfg config.MQTTConfig, logger *slog.Logger) *MQTTPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTPublisher{cfg: cfg, logger: logger}
}

// availabilityTopic is where online/offline status is published (retained).
func (p *MQTTPublisher) availabilityTopic() string {
	return p.cfg.TopicPrefix + "/status"
}

// Topic returns the full topic for a notice channel.
func (p *MQTTPublisher) Topic(channel string) string {
	return p.cfg.TopicPrefix + "/notice/" + strings.Trim(channel, "/")
}

// Start connects to the MQTT broker. It returns once the connection
// manager is running; autopaho retries in the background if the broker
// is unreachable. The connection lives until ctx is cancelled.
func (p *MQTTPublisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := p.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			if _, err := cm.Publish(ctx, &paho.Publish{
				Topic:   availTopic,
				Payload: []byte("online"),
				QoS:     1,
				Retain:  true,
			}); err != nil {
				p.logger.Warn("mqtt birth message failed", "error", err)
			}
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "smart-assistant-" + p.cfg.DeviceName,
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	// Wait briefly for the initial connection; autopaho keeps retrying
	// in the background either way.
	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	return nil
}

// Publish implements Publisher.
func (p *MQTTPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if p.cm == nil {
		return fmt.Errorf("mqtt publisher not started")
	}

	topic := p.Topic(channel)
	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
	}); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	p.logger.Debug("notice published", "topic", topic, "bytes", len(payload))
	return nil
}
