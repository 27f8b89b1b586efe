// Package telemetry publishes best-effort host lifecycle events to an
// MQTT broker for an external dashboard. It is entirely decoupled from
// the protocol: every publish is fire-and-forget, and a broker outage
// never affects evaluation.
package telemetry

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// Publisher publishes retained status messages under a configured
// topic prefix: "{prefix}/busy", "{prefix}/status", "{prefix}/cancel".
// The zero value is not usable; construct with New.
type Publisher struct {
	prefix   string
	clientID string
	logger   *slog.Logger

	cm *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call Start to begin
// connecting; publishes before a successful connect are swallowed.
func New(prefix, clientID string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{prefix: prefix, clientID: clientID, logger: logger}
}

// Start connects to broker and keeps the connection alive in the
// background until ctx is cancelled. It does not block waiting for the
// first connection: telemetry is never allowed to delay a session
// start.
func (p *Publisher) Start(ctx context.Context, broker string) error {
	brokerURL, err := url.Parse(broker)
	if err != nil {
		return err
	}

	cfg := autopaho.ClientConfig{
		ServerUrls: []*url.URL{brokerURL},
		KeepAlive:  30,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("telemetry connected to broker", "broker", broker)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("telemetry connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.clientID,
		},
	}

	cm, err := autopaho.NewConnection(ctx, cfg)
	if err != nil {
		return err
	}
	p.cm = cm
	return nil
}

// Stop disconnects from the broker.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	return p.cm.Disconnect(ctx)
}

func (p *Publisher) publish(topic, payload string) {
	if p.cm == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   p.prefix + "/" + topic,
		Payload: []byte(payload),
		QoS:     0,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("telemetry publish failed", "topic", topic, "error", err)
	}
}

// Busy satisfies host.Telemeter.
func (p *Publisher) Busy(busy bool) {
	if busy {
		p.publish("busy", "1")
	} else {
		p.publish("busy", "0")
	}
}

// Status satisfies host.Telemeter.
func (p *Publisher) Status(status string) {
	p.publish("status", status)
}

// Cancelled satisfies host.Telemeter.
func (p *Publisher) Cancelled(targetID string) {
	p.publish("cancel", targetID)
}
