package conn

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// HandshakeFunc runs once per fresh transport before the connection is reported Connected.
type HandshakeFunc func(ctx context.Context, ws *websocket.Conn) error

// URLFunc resolves the dial target for each attempt.
type URLFunc func() (string, error)

// Options configures one Resilient Connection.
type Options struct {
	// Name labels logs and metrics ("gateway", "webhook").
	Name           string
	URL            URLFunc
	Header         http.Header
	Handshake      HandshakeFunc
	Dialer         *websocket.Dialer
	ConnectTimeout time.Duration
	SendWait       time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	QueueSize      int
	MessageType    int
	Backoff        BackoffConfig
}

// DefaultBackoff doubles from initial up to 30s without jitter.
func DefaultBackoff(initial time.Duration) BackoffConfig {
	return BackoffConfig{
		InitialDelay: initial,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
		Jitter:       false,
	}
}

// DefaultOptions returns bridge-aligned reliability defaults.
func DefaultOptions(name string, initial time.Duration) Options {
	return Options{
		Name:           name,
		ConnectTimeout: 5 * time.Second,
		SendWait:       5 * time.Second,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		QueueSize:      100,
		MessageType:    websocket.TextMessage,
		Backoff:        DefaultBackoff(initial),
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions(o.Name, time.Second)
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.SendWait <= 0 {
		o.SendWait = def.SendWait
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.QueueSize <= 0 {
		o.QueueSize = def.QueueSize
	}
	if o.MessageType == 0 {
		o.MessageType = def.MessageType
	}
	if o.Backoff.InitialDelay <= 0 {
		o.Backoff = def.Backoff
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Name == "" {
		o.Name = "conn"
	}
	return o
}

// StaticURL adapts a fixed address into a URLFunc.
func StaticURL(raw string) URLFunc {
	return func() (string, error) {
		if raw == "" {
			return "", ErrURLRequired
		}
		return raw, nil
	}
}
