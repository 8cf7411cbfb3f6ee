package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/graphmesh/errors"
	"github.com/c360/graphmesh/message"
	"github.com/c360/graphmesh/metric"
	"github.com/c360/graphmesh/pkg/retry"
	"github.com/c360/graphmesh/protocol"
)

// NATSConfig assembles a NATS subject transport.
type NATSConfig struct {
	// URL is the NATS server, for example nats.DefaultURL.
	URL string

	// Subject is where this app listens. Peers publish encoded frames
	// to it; replies ride the NATS reply subject.
	Subject string

	// Protocol frames and parses each NATS message payload.
	Protocol protocol.Protocol

	// Receiver gets every decoded message.
	Receiver Receiver

	// ReconnectWait spaces reconnect attempts. Zero means 2s.
	ReconnectWait time.Duration

	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// Validate checks the required fields.
func (c NATSConfig) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "NATSTransport", "Validate", "URL is required")
	}
	if c.Subject == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "NATSTransport", "Validate", "Subject is required")
	}
	if c.Protocol == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "NATSTransport", "Validate", "Protocol is required")
	}
	if c.Receiver == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "NATSTransport", "Validate", "Receiver is required")
	}
	return nil
}

// NATSTransport bridges apps over NATS subjects. NATS preserves
// payload boundaries, so each inbound message runs through a fresh
// decoder; replies go to the publisher's reply subject when one is
// set.
type NATSTransport struct {
	cfg     NATSConfig
	logger  *slog.Logger
	metrics *metric.Metrics

	mu     sync.Mutex
	conn   *nats.Conn
	sub    *nats.Subscription
	closed bool
}

// NewNATSTransport creates the transport. It does not connect until
// Start.
func NewNATSTransport(cfg NATSConfig) (*NATSTransport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSTransport{
		cfg:     cfg,
		logger:  logger.With("transport", "nats", "subject", cfg.Subject),
		metrics: cfg.Metrics,
	}, nil
}

// Name implements Transport.
func (t *NATSTransport) Name() string { return "nats" }

// Start implements Transport. The initial connect retries transient
// failures under retry.Persistent (up to 30 attempts) or until ctx ends,
// whichever comes first; after that the NATS client reconnects on its
// own.
func (t *NATSTransport) Start(ctx context.Context) error {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(t.cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			t.logger.Warn("disconnected", "error", err)
			if t.metrics != nil {
				t.metrics.RecordTransportStatus("nats", false)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			t.logger.Info("reconnected", "url", nc.ConnectedUrl())
			if t.metrics != nil {
				t.metrics.RecordTransportReconnect("nats")
				t.metrics.RecordTransportStatus("nats", true)
			}
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			t.logger.Info("connection closed")
		}),
	}

	var conn *nats.Conn
	err := retry.Do(ctx, retry.Persistent(), func() error {
		c, connErr := nats.Connect(t.cfg.URL, opts...)
		if connErr != nil {
			return errors.WrapTransient(errors.ErrTransport, "NATSTransport", "Start", connErr.Error())
		}
		conn = c
		return nil
	})
	if err != nil {
		return err
	}

	sub, err := conn.Subscribe(t.cfg.Subject, t.handleMsg)
	if err != nil {
		conn.Close()
		return errors.WrapTransient(errors.ErrTransport, "NATSTransport", "Start",
			fmt.Sprintf("subscribe %s: %v", t.cfg.Subject, err))
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		sub.Unsubscribe()
		conn.Close()
		return errors.WrapInvalid(errors.ErrShuttingDown, "NATSTransport", "Start", "transport already stopped")
	}
	t.conn = conn
	t.sub = sub
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.RecordTransportStatus("nats", true)
	}
	t.logger.Info("subscribed", "url", t.cfg.URL)
	return nil
}

func (t *NATSTransport) handleMsg(nm *nats.Msg) {
	msgs, err := t.cfg.Protocol.NewDecoder().Feed(nm.Data)
	if err != nil {
		t.logger.Warn("dropped corrupt payload", "error", err)
	}
	for _, m := range msgs {
		reply := nm.Reply
		t.cfg.Receiver.Receive(m, func(out message.Message) error {
			return t.publish(reply, out)
		})
	}
}

func (t *NATSTransport) publish(subject string, m message.Message) error {
	if subject == "" {
		return errors.WrapInvalid(errors.ErrTransport, "NATSTransport", "publish",
			"no reply subject on inbound message")
	}
	frame, err := t.cfg.Protocol.Encode(m)
	if err != nil {
		return err
	}
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "NATSTransport", "publish", "transport not started")
	}
	if err := conn.Publish(subject, frame); err != nil {
		return errors.WrapTransient(errors.ErrTransport, "NATSTransport", "publish", err.Error())
	}
	return nil
}

// Publish sends one message to an arbitrary subject, typically another
// app's ingress subject. Used for egress between apps.
func (t *NATSTransport) Publish(subject string, m message.Message) error {
	return t.publish(subject, m)
}

// Stop implements Transport. Drain lets in-flight handlers finish.
func (t *NATSTransport) Stop(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	sub := t.sub
	t.conn = nil
	t.sub = nil
	t.mu.Unlock()

	if sub != nil {
		if err := sub.Drain(); err != nil {
			t.logger.Warn("drain failed", "error", err)
		}
	}
	if conn != nil {
		conn.Close()
	}

	if t.metrics != nil {
		t.metrics.RecordTransportStatus("nats", false)
	}
	t.logger.Info("stopped")
	return nil
}
