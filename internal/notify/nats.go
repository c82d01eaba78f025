package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "audiobook"

// ErrNATSURLRequired is returned when no server URL is given.
var ErrNATSURLRequired = errors.New("notify: nats url is required")

// NATSNotifier publishes chapter events as JSON on <prefix>.chapter.changed.
type NATSNotifier struct {
	conn    *nats.Conn
	owned   bool
	subject string
	logger  *slog.Logger
}

// ConnectNATS dials url and returns a notifier that owns the connection.
func ConnectNATS(url, prefix string, logger *slog.Logger) (*NATSNotifier, error) {
	if strings.TrimSpace(url) == "" {
		return nil, ErrNATSURLRequired
	}

	conn, err := nats.Connect(url,
		nats.Name("audiobook-forge"),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	n := NewNATSNotifier(conn, prefix, logger)
	n.owned = true
	n.logger.Info("connected to NATS", slog.String("url", url), slog.String("subject", n.subject))
	return n, nil
}

// NewNATSNotifier wraps an existing connection. The caller keeps ownership of conn.
func NewNATSNotifier(conn *nats.Conn, prefix string, logger *slog.Logger) *NATSNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSNotifier{
		conn:    conn,
		subject: prefix + ".chapter.changed",
		logger:  logger.With(slog.String("component", "notify.nats")),
	}
}

// Subject returns the subject events are published on.
func (n *NATSNotifier) Subject() string {
	return n.subject
}

// ChapterChanged implements Notifier.
func (n *NATSNotifier) ChapterChanged(ctx context.Context, ev ChapterEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal chapter event: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", n.subject, err)
	}
	return nil
}

// Healthy reports whether the connection is up.
func (n *NATSNotifier) Healthy() bool {
	return n != nil && n.conn != nil && n.conn.Status() == nats.CONNECTED
}

// Close drains and closes the connection if this notifier opened it.
func (n *NATSNotifier) Close() {
	if n == nil || !n.owned {
		return
	}
	if err := n.conn.Drain(); err != nil {
		n.logger.Warn("drain nats connection", slog.String("error", err.Error()))
	}
	n.conn.Close()
}
