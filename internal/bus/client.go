// Package bus broadcasts playback status over NATS.
package bus

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/reed/internal/config"
	"github.com/nats-io/nats.go"
)

const (
	reconnectWait = 250 * time.Millisecond
	maxReconnects = 8
	// statuses published while reconnecting are held up to this many bytes
	reconnectBuffer = 256 * 1024
	flushTimeout    = time.Second
)

// Client is a publish-only NATS connection for playback status.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

// Connect dials the configured servers. The connect timeout is capped by the
// deadline of ctx.
func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Client{log: log.With(slog.String("component", "bus"))}

	timeout := time.Duration(cfg.ConnectTimeout) * time.Millisecond
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout || timeout <= 0 {
			timeout = remaining
		}
	}

	options := []nats.Option{
		nats.Name("reed"),
		nats.Timeout(timeout),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.ReconnectBufSize(reconnectBuffer),
		nats.DisconnectErrHandler(c.onDisconnect),
		nats.ReconnectHandler(c.onReconnect),
		nats.ClosedHandler(c.onClosed),
	}
	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	servers := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(servers, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	c.conn = conn
	c.log.Debug("connected to NATS", slog.String("server", conn.ConnectedUrlRedacted()))
	return c, nil
}

func (c *Client) onDisconnect(_ *nats.Conn, err error) {
	if err == nil {
		return
	}
	c.log.Warn("lost NATS connection, buffering playback status", slog.String("error", err.Error()))
}

func (c *Client) onReconnect(nc *nats.Conn) {
	c.log.Info("reconnected to NATS", slog.String("server", nc.ConnectedUrlRedacted()))
}

func (c *Client) onClosed(nc *nats.Conn) {
	if err := nc.LastError(); err != nil {
		c.log.Warn("NATS connection closed", slog.String("error", err.Error()))
		return
	}
	c.log.Debug("NATS connection closed")
}

// Ready reports whether a publish will be delivered now or buffered until the
// connection comes back.
func (c *Client) Ready() bool {
	if c == nil || c.conn == nil {
		return false
	}
	switch c.conn.Status() {
	case nats.CONNECTED, nats.RECONNECTING:
		return true
	default:
		return false
	}
}

// Close flushes pending statuses for up to a second and closes the
// connection. Statuses still buffered for a reconnect are dropped.
func (c *Client) Close() {
	if c == nil || c.conn == nil {
		return
	}
	if c.conn.Status() == nats.CONNECTED {
		if err := c.conn.FlushTimeout(flushTimeout); err != nil {
			c.log.Warn("playback status not flushed", slog.String("error", err.Error()))
		}
	} else if n, err := c.conn.Buffered(); err == nil && n > 0 {
		c.log.Warn("dropping buffered playback status", slog.Int("bytes", n))
	}
	c.conn.Close()
}
