package client

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSClient is a thin wrapper over a NATS connection.
type NATSClient struct {
	conn *nats.Conn
}

// ConnectNATS dials url and logs connection state changes.
func ConnectNATS(url, name string, log zerolog.Logger) (*NATSClient, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NATSClient{conn: conn}, nil
}

// Publish sends data on subject unless ctx is already done.
func (c *NATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.conn.Publish(subject, data)
}

// Close drains pending messages and closes the connection.
func (c *NATSClient) Close() error {
	return c.conn.Drain()
}
