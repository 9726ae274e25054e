package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/clawbridge/internal/conn"
)

var ErrInvalidURL = errors.New("webhook: invalid url")

// DefaultConn returns downstream connection defaults: 2s initial backoff.
func DefaultConn() conn.Options {
	return conn.DefaultOptions("webhook", 2*time.Second)
}

// URL appends the instance uid to the downstream address.
func URL(raw, uid string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: host required", ErrInvalidURL)
	}
	if uid == "" {
		return u.String(), nil
	}
	q := u.Query()
	q.Set("uid", uid)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Client is the downstream webhook delivery channel.
type Client struct {
	url  string
	conn *conn.Conn
}

func New(rawURL, uid string, opts conn.Options) (*Client, error) {
	target, err := URL(rawURL, uid)
	if err != nil {
		return nil, err
	}
	if opts.Name == "" {
		opts.Name = "webhook"
	}
	opts.URL = conn.StaticURL(target)
	return &Client{url: target, conn: conn.New(opts)}, nil
}

func (c *Client) URL() string {
	return c.url
}

func (c *Client) Bind(h conn.FrameHandler) error {
	return c.conn.Bind(h)
}

func (c *Client) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

func (c *Client) State() conn.State {
	return c.conn.State()
}

func (c *Client) Send(data []byte) error {
	if err := c.conn.Send(data); err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	return nil
}
