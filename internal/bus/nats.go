// Package bus is a thin JSON layer over a NATS connection, used to hand
// pipeline invocations to workers running in other processes.
package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/teranos/qaflow/errors"
)

// DefaultHandlerTimeout bounds one message handler invocation
const DefaultHandlerTimeout = 10 * time.Minute

type Client struct {
	nc     *nats.Conn
	logger *zap.SugaredLogger
}

// Connect dials url and keeps reconnecting for the lifetime of the client.
func Connect(url string, logger *zap.SugaredLogger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	nc, err := nats.Connect(url,
		nats.Name("qaflow"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnw("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infow("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to NATS at %s", url)
	}
	return &Client{nc: nc, logger: logger}, nil
}

// Close drains pending messages and closes the connection
func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

func (c *Client) Conn() *nats.Conn { return c.nc }

// PublishJSON marshals v and publishes it, then flushes so a publish error
// surfaces to the caller instead of being lost in the client buffer.
func (c *Client) PublishJSON(ctx context.Context, subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}
	if err := c.nc.Publish(subject, b); err != nil {
		return errors.Wrapf(err, "failed to publish to %s", subject)
	}
	if err := c.nc.FlushWithContext(ctx); err != nil {
		return errors.Wrapf(err, "failed to flush publish to %s", subject)
	}
	return nil
}

// QueueSubscribeJSON delivers each message on subject to exactly one member
// of queue. The handler context is cancelled after timeout or when ctx ends.
func (c *Client) QueueSubscribeJSON(ctx context.Context, subject, queue string, timeout time.Duration, handler func(ctx context.Context, data []byte)) (*nats.Subscription, error) {
	if timeout <= 0 {
		timeout = DefaultHandlerTimeout
	}
	sub, err := c.nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		hctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		handler(hctx, msg.Data)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to subscribe to %s", subject)
	}
	return sub, nil
}
