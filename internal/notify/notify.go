// Package notify publishes alerts to subscribers outside the collector.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/vitalis-app/collector/internal/config"
	"github.com/vitalis-app/collector/internal/models"
)

// Notifier delivers alerts. Delivery is best effort.
type Notifier interface {
	Publish(ctx context.Context, alerts []models.Alert) error
	Close() error
}

// Nop discards alerts.
type Nop struct{}

// Publish implements Notifier.
func (Nop) Publish(context.Context, []models.Alert) error { return nil }

// Close implements Notifier.
func (Nop) Close() error { return nil }

// New returns a NATS notifier when a URL is configured and Nop otherwise.
func New(cfg config.NotifyConfig, logger *zap.Logger) (Notifier, error) {
	if cfg.NATSURL == "" {
		return Nop{}, nil
	}
	return ConnectNATS(cfg.NATSURL, cfg.Subject, logger)
}

// NATS publishes each alert as JSON on <subject>.<severity>.
type NATS struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

// ConnectNATS dials the server. The connection reconnects on its own; alerts
// published while disconnected are buffered by the client.
func ConnectNATS(url, subject string, logger *zap.Logger) (*NATS, error) {
	if subject == "" {
		subject = "vitalis.alerts"
	}
	nc, err := nats.Connect(url,
		nats.Name("vitalis-collector"),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("Disconnected from NATS", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &NATS{conn: nc, subject: subject, logger: logger}, nil
}

// Subject returns the subject an alert of the given severity is published on.
func (n *NATS) Subject(sev models.Severity) string {
	return n.subject + "." + string(sev)
}

// Publish implements Notifier.
func (n *NATS) Publish(ctx context.Context, alerts []models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	for _, a := range alerts {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encoding alert: %w", err)
		}
		if err := n.conn.Publish(n.Subject(a.Severity), data); err != nil {
			return fmt.Errorf("publishing alert: %w", err)
		}
	}
	if !n.conn.IsConnected() {
		n.logger.Debug("NATS disconnected, alerts buffered", zap.Int("count", len(alerts)))
		return nil
	}
	if err := n.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flushing alerts: %w", err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (n *NATS) Close() error {
	return n.conn.Drain()
}
