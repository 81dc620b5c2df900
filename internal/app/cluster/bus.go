package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"forumdm/internal/app/chat"
	"forumdm/internal/pkg/logx"
)

// FanoutSubject carries chat.Envelope values between nodes.
const FanoutSubject = "dm.fanout"

// NATSConfig selects the NATS server and reconnect behaviour.
type NATSConfig struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

// NATSBus implements chat.Bus over a core NATS subject.
type NATSBus struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

// ConnectNATS dials NATS. The connection never receives its own publishes.
func ConnectNATS(cfg NATSConfig) (*NATSBus, error) {
	logger := logx.Component("cluster").With().Str("transport", "nats").Logger()

	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.NoEcho(),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}

	return &NATSBus{conn: conn, subject: FanoutSubject, logger: logger}, nil
}

// Publish implements chat.Bus.
func (b *NATSBus) Publish(_ context.Context, env chat.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return b.conn.Publish(b.subject, data)
}

// Run hands envelopes from other nodes to deliver until ctx ends, then
// drains the connection.
func (b *NATSBus) Run(ctx context.Context, deliver func(chat.Envelope)) error {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		var env chat.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			b.logger.Warn().Err(err).Msg("Dropping undecodable envelope")
			return
		}
		deliver(env)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", b.subject, err)
	}
	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	b.logger.Info().Str("subject", b.subject).Msg("Cluster fan-out subscribed")

	<-ctx.Done()

	if err := sub.Unsubscribe(); err != nil {
		b.logger.Debug().Err(err).Msg("Unsubscribe failed")
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (b *NATSBus) Close() error {
	return b.conn.Drain()
}
