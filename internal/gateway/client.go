package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/danmuck/clawbridge/internal/conn"
	"github.com/danmuck/clawbridge/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrRequestTimeout  = errors.New("gateway: request timeout")
	ErrRequestRejected = errors.New("gateway: request rejected")
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 18789
)

type Config struct {
	Host           string
	Port           int
	Token          string
	AgentID        string
	RequestTimeout time.Duration
	Conn           conn.Options
}

// DefaultConn returns upstream connection defaults: 1s initial backoff.
func DefaultConn() conn.Options {
	return conn.DefaultOptions("gateway", time.Second)
}

// URL is the local gateway websocket address.
func URL(host string, port int) string {
	if host == "" {
		host = DefaultHost
	}
	if port <= 0 {
		port = DefaultPort
	}
	return "ws://" + host + ":" + strconv.Itoa(port)
}

// Client is the upstream agent gateway channel.
type Client struct {
	cfg     Config
	conn    *conn.Conn
	pending *pendingTable
	lastID  atomic.Int64
	now     func() time.Time
}

func New(cfg Config) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.AgentID == "" {
		cfg.AgentID = "main"
	}
	opts := cfg.Conn
	if opts.Name == "" {
		opts.Name = "gateway"
	}
	opts.URL = conn.StaticURL(URL(cfg.Host, cfg.Port))
	token := cfg.Token
	opts.Handshake = func(ctx context.Context, ws *websocket.Conn) error {
		data, err := protocol.NewConnectRequest(token).Encode()
		if err != nil {
			return err
		}
		return ws.WriteMessage(websocket.TextMessage, data)
	}

	return &Client{
		cfg:     cfg,
		conn:    conn.New(opts),
		pending: newPendingTable(),
		now:     time.Now,
	}
}

// Bind wires the upstream event handler. Responses to pending requests are consumed here.
func (c *Client) Bind(h conn.FrameHandler) error {
	return c.conn.Bind(conn.FrameHandlerFunc(func(data []byte) {
		if env, err := protocol.DecodeEnvelope(data); err == nil && env.IsResponse() {
			if c.pending.Resolve(env) {
				return
			}
		}
		h.OnFrame(data)
	}))
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

func (c *Client) AgentID() string {
	return c.cfg.AgentID
}

// Pending lists requests still waiting for a response.
func (c *Client) Pending() []PendingRequest {
	return c.pending.List()
}

// SendAgentRequest forwards message for sessionKey.
func (c *Client) SendAgentRequest(message, sessionKey string) error {
	req := protocol.NewAgentRequest(message, c.cfg.AgentID, sessionKey, c.nextStamp())
	data, err := req.Encode()
	if err != nil {
		return err
	}
	if err := c.conn.Send(data); err != nil {
		return fmt.Errorf("gateway: send agent request: %w", err)
	}
	log.Debug().Str("request_id", req.ID).Str("session_key", sessionKey).Msg("gateway.Client.SendAgentRequest sent")
	return nil
}

// SendApproval answers a pending approval and waits for the gateway to acknowledge it.
func (c *Client) SendApproval(ctx context.Context, requestID string, approved bool) error {
	req := protocol.NewApprovalRequest(requestID, approved, c.nextStamp())
	_, err := c.roundTrip(ctx, req)
	if err != nil {
		return fmt.Errorf("gateway: approval %s: %w", requestID, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, req protocol.Request) (protocol.Envelope, error) {
	data, err := req.Encode()
	if err != nil {
		return protocol.Envelope{}, err
	}
	now := c.now()
	reply := c.pending.Register(PendingRequest{
		RequestID: req.ID,
		Method:    req.Method,
		QueuedAt:  now,
		Deadline:  now.Add(c.cfg.RequestTimeout),
	})
	defer c.pending.Remove(req.ID)

	if err := c.conn.Send(data); err != nil {
		return protocol.Envelope{}, err
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case env := <-reply:
		if reason, rejected := env.Rejected(); rejected {
			return env, fmt.Errorf("%w: %s", ErrRequestRejected, reason)
		}
		return env, nil
	case <-timer.C:
		return protocol.Envelope{}, ErrRequestTimeout
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	}
}

// nextStamp returns a strictly increasing nanosecond stamp.
func (c *Client) nextStamp() int64 {
	for {
		last := c.lastID.Load()
		next := c.now().UnixNano()
		if next <= last {
			next = last + 1
		}
		if c.lastID.CompareAndSwap(last, next) {
			return next
		}
	}
}
