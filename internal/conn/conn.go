package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/clawbridge/internal/observability"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// FrameHandler receives every inbound application frame.
// OnFrame runs on the read path and must hand slow work off.
type FrameHandler interface {
	OnFrame(data []byte)
}

// FrameHandlerFunc adapts a function into a FrameHandler.
type FrameHandlerFunc func(data []byte)

func (f FrameHandlerFunc) OnFrame(data []byte) {
	f(data)
}

// Conn is one logical duplex channel kept alive across transport failures.
type Conn struct {
	opts    Options
	state   *stateCell
	queue   chan []byte
	handler atomic.Pointer[handlerBox]

	// life ends on Close and releases senders parked on state or queue.
	life context.Context
	stop context.CancelFunc

	mu        sync.Mutex
	started   bool
	closed    bool
	cancel    context.CancelFunc
	done      chan struct{}
	first     chan error
	firstOnce sync.Once
	closeOnce sync.Once
}

type handlerBox struct {
	h FrameHandler
}

// New builds an unstarted connection. Bind a FrameHandler before Connect.
func New(opts Options) *Conn {
	opts = opts.withDefaults()
	life, stop := context.WithCancel(context.Background())
	return &Conn{
		opts:  opts,
		life:  life,
		stop:  stop,
		state: newStateCell(),
		queue: make(chan []byte, opts.QueueSize),
		first: make(chan error, 1),
		done:  make(chan struct{}),
	}
}

// Bind wires the inbound handler. It may be called once.
func (c *Conn) Bind(h FrameHandler) error {
	if h == nil {
		return fmt.Errorf("conn: nil frame handler")
	}
	if !c.handler.CompareAndSwap(nil, &handlerBox{h: h}) {
		return ErrAlreadyBound
	}
	return nil
}

func (c *Conn) Name() string {
	return c.opts.Name
}

func (c *Conn) State() State {
	return c.state.Get()
}

func (c *Conn) IsConnected() bool {
	return c.state.Get() == Connected
}

// Connect starts the supervision loop and waits for the first attempt to settle.
// The loop keeps retrying in the background when the first attempt fails.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	go c.supervise(loopCtx)

	timer := time.NewTimer(c.opts.ConnectTimeout)
	defer timer.Stop()
	select {
	case err := <-c.first:
		if err != nil {
			if errors.Is(err, ErrConnectTimeout) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
		}
		return nil
	case <-timer.C:
		return ErrConnectTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send enqueues one frame for the active transport.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !c.state.EverConnected() {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(c.life, c.opts.SendWait)
	defer cancel()
	if c.state.Get() != Connected {
		if err := c.state.Wait(ctx, Connected); err != nil {
			return c.sendErr(ErrConnectTimeout)
		}
	}

	select {
	case c.queue <- data:
		return nil
	default:
	}
	select {
	case c.queue <- data:
		return nil
	case <-ctx.Done():
		return c.sendErr(ErrQueueFull)
	}
}

func (c *Conn) sendErr(timeout error) error {
	if c.life.Err() != nil {
		return ErrClosed
	}
	return timeout
}

// Close stops the supervision loop and closes the transport. Safe to call repeatedly.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.stop()
		cancel := c.cancel
		started := c.started
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if started {
			<-c.done
		}
		c.state.Set(Disconnected)
		log.Info().Str("conn", c.opts.Name).Msg("conn.Conn.Close closed")
	})
	return nil
}

func (c *Conn) reportFirst(err error) {
	c.firstOnce.Do(func() {
		c.first <- err
	})
}

func (c *Conn) supervise(ctx context.Context) {
	defer close(c.done)
	backoff := backoffTracker{cfg: c.opts.Backoff}
	name := c.opts.Name

	for {
		if ctx.Err() != nil {
			return
		}
		c.state.Set(Connecting)
		ws, err := c.dial(ctx)
		if err != nil {
			c.state.Set(Disconnected)
			c.reportFirst(err)
			if ctx.Err() != nil {
				return
			}
			observability.RecordConnectAttempt(name, false)
			delay := backoff.failure()
			log.Warn().
				Str("conn", name).
				Int("attempt", backoff.failures).
				Dur("retry_in", delay).
				Err(err).
				Msg("conn.Conn.supervise connect failed")
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}

		backoff.reset()
		observability.RecordConnectAttempt(name, true)
		observability.SetConnected(name, true)
		c.state.Set(Connected)
		c.reportFirst(nil)
		log.Info().Str("conn", name).Msg("conn.Conn.supervise connected")

		err = c.serve(ctx, ws)
		c.state.Set(Disconnected)
		observability.SetConnected(name, false)
		if ctx.Err() != nil {
			return
		}

		delay := backoff.afterSession()
		log.Warn().
			Str("conn", name).
			Dur("retry_in", delay).
			Err(err).
			Msg("conn.Conn.supervise session lost")
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	if c.opts.URL == nil {
		return nil, ErrURLRequired
	}
	target, err := c.opts.URL()
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	ws, _, err := c.opts.Dialer.DialContext(dialCtx, target, c.opts.Header)
	if err != nil {
		return nil, dialErr(ctx, dialCtx, fmt.Errorf("dial %s: %w", redactURL(target), err))
	}

	if c.opts.Handshake != nil {
		_ = ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
		if err := c.opts.Handshake(dialCtx, ws); err != nil {
			_ = ws.Close()
			return nil, dialErr(ctx, dialCtx, fmt.Errorf("handshake: %w", err))
		}
		_ = ws.SetWriteDeadline(time.Time{})
	}
	return ws, nil
}

// dialErr marks attempts cut off by the per-attempt deadline as ErrConnectTimeout.
func dialErr(parent, attempt context.Context, err error) error {
	if parent.Err() == nil && errors.Is(attempt.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrConnectTimeout, err)
	}
	return err
}

// serve runs one read loop and one write loop until either fails or ctx ends.
func (c *Conn) serve(ctx context.Context, ws *websocket.Conn) error {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ws.SetPingHandler(func(appData string) error {
		deadline := time.Now().Add(c.opts.WriteTimeout)
		if err := ws.WriteControl(websocket.PongMessage, []byte(appData), deadline); err != nil {
			return fmt.Errorf("pong: %w", err)
		}
		return nil
	})

	errCh := make(chan error, 2)
	go func() { errCh <- c.readLoop(ws) }()
	go func() { errCh <- c.writeLoop(sessCtx, ws) }()

	var err error
	pending := 2
	select {
	case err = <-errCh:
		pending--
	case <-ctx.Done():
		deadline := time.Now().Add(time.Second)
		_ = ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
	}
	cancel()
	_ = ws.Close()
	for ; pending > 0; pending-- {
		<-errCh
	}
	return err
}

func (c *Conn) readLoop(ws *websocket.Conn) error {
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		observability.RecordFrame(c.opts.Name, "in")
		if box := c.handler.Load(); box != nil {
			box.h.OnFrame(data)
		}
	}
}

func (c *Conn) writeLoop(ctx context.Context, ws *websocket.Conn) error {
	var pingC <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		pingC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case data := <-c.queue:
			_ = ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := ws.WriteMessage(c.opts.MessageType, data); err != nil {
				return fmt.Errorf("write: %w", err)
			}
			observability.RecordFrame(c.opts.Name, "out")
		case <-pingC:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// IsTimeout reports whether err is a connect or send-wait timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrConnectTimeout) || errors.Is(err, context.DeadlineExceeded)
}
