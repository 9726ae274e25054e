package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/danmuck/clawbridge/internal/commands"
	"github.com/danmuck/clawbridge/internal/conn"
	"github.com/danmuck/clawbridge/internal/observability"
	"github.com/danmuck/clawbridge/internal/sessions"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyAttached = errors.New("bridge: channels already attached")
	ErrNotAttached     = errors.New("bridge: channels not attached")
	ErrStoreRequired   = errors.New("bridge: session store required")
)

const (
	channelGateway = "gateway"
	channelWebhook = "webhook"
)

// Upstream is the agent gateway channel.
type Upstream interface {
	Bind(h conn.FrameHandler) error
	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool
	SendAgentRequest(message, sessionKey string) error
}

// Downstream is the webhook delivery channel.
type Downstream interface {
	Bind(h conn.FrameHandler) error
	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool
	Send(data []byte) error
}

// CommandHandler decides how a slash command is served.
type CommandHandler interface {
	Handle(ctx context.Context, text string) commands.Outcome
}

type Options struct {
	AgentID       string
	UID           string
	Scope         sessions.Scope
	ResetTriggers []string
	// TrackUpstreamRoutes records the last route for upstream events carrying a sessionKey.
	TrackUpstreamRoutes bool
}

type Bridge struct {
	opts     Options
	store    *sessions.Store
	control  *sessions.Controller
	commands CommandHandler

	attachMu   sync.Mutex
	upstream   Upstream
	downstream Downstream
	// attached is published only after both channels are assigned and bound.
	attached atomic.Bool

	ctx       context.Context
	cancel    context.CancelFunc
	tasks     sync.WaitGroup
	taskMu    sync.Mutex
	closing   bool
	closeOnce sync.Once
}

func New(opts Options, store *sessions.Store, cmds CommandHandler) (*Bridge, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if opts.AgentID == "" {
		opts.AgentID = sessions.DefaultAgentID
	}
	if opts.Scope == "" {
		opts.Scope = sessions.ScopePerSender
	}
	if opts.ResetTriggers == nil {
		opts.ResetTriggers = sessions.DefaultResetTriggers
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		opts:     opts,
		store:    store,
		control:  sessions.NewController(store),
		commands: cmds,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Attach wires both channels into the bridge. It succeeds at most once.
func (b *Bridge) Attach(up Upstream, down Downstream) error {
	if up == nil || down == nil {
		return fmt.Errorf("bridge: both channels required")
	}
	b.attachMu.Lock()
	defer b.attachMu.Unlock()
	if b.attached.Load() {
		return ErrAlreadyAttached
	}
	if err := up.Bind(conn.FrameHandlerFunc(func(data []byte) {
		b.spawn(func() { b.HandleUpstream(data) })
	})); err != nil {
		return fmt.Errorf("bridge: bind upstream: %w", err)
	}
	if err := down.Bind(conn.FrameHandlerFunc(func(data []byte) {
		b.spawn(func() { b.HandleDownstream(data) })
	})); err != nil {
		return fmt.Errorf("bridge: bind downstream: %w", err)
	}
	b.upstream = up
	b.downstream = down
	b.attached.Store(true)
	return nil
}

// Controller exposes the session-control handler for other surfaces.
func (b *Bridge) Controller() *sessions.Controller {
	return b.control
}

// Start connects both channels. First-attempt failures are logged; reconnects continue.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.attached.Load() {
		return ErrNotAttached
	}
	var wg sync.WaitGroup
	connect := func(name string, ch interface{ Connect(context.Context) error }) {
		defer wg.Done()
		if err := ch.Connect(ctx); err != nil {
			log.Warn().Str("channel", name).Err(err).Msg("bridge.Bridge.Start initial connect failed, retrying in background")
		}
	}
	wg.Add(2)
	go connect(channelWebhook, b.downstream)
	go connect(channelGateway, b.upstream)
	wg.Wait()
	log.Info().
		Str("agent_id", b.opts.AgentID).
		Str("scope", string(b.opts.Scope)).
		Stringer("status", b.Status()).
		Msg("bridge.Bridge.Start started")
	return nil
}

// Run starts the bridge and blocks until ctx ends.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	log.Info().Msg("bridge.Bridge.Run shutdown")
	return b.Close()
}

// Close stops both channels and waits for in-flight frame tasks.
func (b *Bridge) Close() error {
	var errs []error
	b.closeOnce.Do(func() {
		b.taskMu.Lock()
		b.closing = true
		b.taskMu.Unlock()
		b.cancel()
		b.attachMu.Lock()
		up, down := b.upstream, b.downstream
		b.attachMu.Unlock()
		if up != nil {
			if err := up.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if down != nil {
			if err := down.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		b.tasks.Wait()
	})
	return errors.Join(errs...)
}

// Wait blocks until every spawned frame task has finished.
func (b *Bridge) Wait() {
	b.tasks.Wait()
}

// Status is a connection snapshot of both channels.
type Status struct {
	Gateway bool `json:"gateway"`
	Webhook bool `json:"webhook"`
}

func (s Status) Ready() bool {
	return s.Gateway && s.Webhook
}

func (s Status) String() string {
	return fmt.Sprintf("gateway=%s webhook=%s", stateWord(s.Gateway), stateWord(s.Webhook))
}

func stateWord(connected bool) string {
	if connected {
		return "connected"
	}
	return "disconnected"
}

func (b *Bridge) Status() Status {
	if !b.attached.Load() {
		return Status{}
	}
	return Status{
		Gateway: b.upstream.IsConnected(),
		Webhook: b.downstream.IsConnected(),
	}
}

// spawn keeps the read path free: every inbound frame runs on its own task.
func (b *Bridge) spawn(fn func()) {
	b.taskMu.Lock()
	defer b.taskMu.Unlock()
	if b.closing {
		return
	}
	b.tasks.Add(1)
	go func() {
		defer b.tasks.Done()
		fn()
	}()
}

func (b *Bridge) sendDownstream(data []byte, what string) {
	if err := b.downstream.Send(data); err != nil {
		observability.RecordDrop(channelWebhook, dropReason(err))
		log.Warn().Str("what", what).Err(err).Msg("bridge.Bridge.sendDownstream dropped")
	}
}

func dropReason(err error) string {
	if errors.Is(err, conn.ErrNotConnected) || conn.IsTimeout(err) || errors.Is(err, conn.ErrClosed) {
		return observability.DropNotConnected
	}
	return "send"
}
