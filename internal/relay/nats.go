package relay

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/worldsync/server/internal/config"
)

// NATSBus carries envelopes over a NATS connection.
type NATSBus struct {
	nc  *nats.Conn
	log *zap.Logger
}

// DialNATS connects to the configured server. An unreachable server is not
// an error: the client keeps retrying in the background and Healthy reports
// false until it connects. Only a malformed URL or option fails.
func DialNATS(cfg config.RelayConfig, name string, log *zap.Logger) (*NATSBus, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("bus disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("bus reconnected", zap.String("url", c.ConnectedUrl()))
		}),
		nats.ConnectHandler(func(c *nats.Conn) {
			log.Info("bus connected", zap.String("url", c.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info("bus connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	if !nc.IsConnected() {
		log.Warn("bus unreachable, retrying in background", zap.String("url", cfg.URL))
	}
	return &NATSBus{nc: nc, log: log}, nil
}

func (b *NATSBus) Publish(subject string, data []byte) error {
	if !b.nc.IsConnected() {
		return ErrBusDown
	}
	return b.nc.Publish(subject, data)
}

func (b *NATSBus) Subscribe(subject string, h MsgHandler) (Subscription, error) {
	sub, err := b.nc.Subscribe(subject, func(m *nats.Msg) {
		h(m.Subject, m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

func (b *NATSBus) Healthy() bool {
	return b.nc.IsConnected()
}

func (b *NATSBus) Close() error {
	if !b.nc.IsConnected() {
		b.nc.Close()
		return nil
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return err
	}
	return nil
}
