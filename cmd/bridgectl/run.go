package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/clawbridge/internal/admin"
	"github.com/danmuck/clawbridge/internal/bridge"
	"github.com/danmuck/clawbridge/internal/commands"
	"github.com/danmuck/clawbridge/internal/config"
	"github.com/danmuck/clawbridge/internal/conn"
	"github.com/danmuck/clawbridge/internal/gateway"
	"github.com/danmuck/clawbridge/internal/logging"
	"github.com/danmuck/clawbridge/internal/observability"
	"github.com/danmuck/clawbridge/internal/sessions"
	"github.com/danmuck/clawbridge/internal/webhook"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge in the foreground until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := opts.dir()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBridge(ctx, dir, cmd.OutOrStdout())
		},
	}
}

// process is everything one bridge process owns.
type process struct {
	cfg    config.Config
	bridge *bridge.Bridge
	admin  *admin.Server
}

func buildProcess(cfg config.Config) (*process, error) {
	store, err := sessions.NewStore(cfg.StoreConfig())
	if err != nil {
		return nil, err
	}

	gwConn := gateway.DefaultConn()
	gwConn.Backoff = backoff(cfg.Reconnect.UpstreamInitial, cfg.Reconnect.MaxDelay)
	upstream := gateway.New(gateway.Config{
		Host:    cfg.Gateway.Host,
		Port:    cfg.Gateway.Port,
		Token:   cfg.Gateway.Token,
		AgentID: cfg.AgentID,
		Conn:    gwConn,
	})

	whConn := webhook.DefaultConn()
	whConn.Backoff = backoff(cfg.Reconnect.DownstreamInitial, cfg.Reconnect.MaxDelay)
	if whConn.Dialer, err = webhook.TLSDialer(cfg.WebhookCAFile); err != nil {
		return nil, err
	}
	downstream, err := webhook.New(cfg.WebhookURL, cfg.UID, whConn)
	if err != nil {
		return nil, err
	}

	var b *bridge.Bridge
	cmds := commands.NewHandler(commands.Options{
		Version:       version,
		ResetTriggers: sessions.DefaultResetTriggers,
		Approver:      upstream,
		Status: func() string {
			return "Bridge " + cfg.UID + ": " + b.Status().String()
		},
	})
	b, err = bridge.New(bridge.Options{
		AgentID:             cfg.AgentID,
		UID:                 cfg.UID,
		Scope:               cfg.Scope(),
		ResetTriggers:       sessions.DefaultResetTriggers,
		TrackUpstreamRoutes: cfg.TrackUpstreamRoutes,
	}, store, cmds)
	if err != nil {
		return nil, err
	}
	if err := b.Attach(upstream, downstream); err != nil {
		return nil, err
	}

	rt := &process{cfg: cfg, bridge: b}
	if cfg.AdminAddr != "" {
		rt.admin = admin.New(admin.Options{
			Addr:    cfg.AdminAddr,
			ID:      cfg.UID,
			Version: version,
			Token:   cfg.AdminToken,
		}, b, b.Controller())
	}
	return rt, nil
}

func backoff(initial, maxDelay time.Duration) conn.BackoffConfig {
	cfg := conn.DefaultBackoff(initial)
	if maxDelay > 0 {
		cfg.MaxDelay = maxDelay
	}
	return cfg
}

func runBridge(ctx context.Context, dir string, out io.Writer) error {
	logging.ConfigureRuntime()
	observability.RegisterMetrics()

	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	observability.InitLogger("bridgectl", cfg.UID)
	if err := config.PersistUID(cfg); err != nil {
		log.Warn().Err(err).Msg("bridgectl.run persist uid failed")
	}

	printBanner(out, cfg)
	rt, err := buildProcess(cfg)
	if err != nil {
		return err
	}
	log.Info().
		Str("webhook", cfg.WebhookURL).
		Str("gateway", gateway.URL(cfg.Gateway.Host, cfg.Gateway.Port)).
		Str("agent_id", cfg.AgentID).
		Str("store", cfg.StorePath).
		Msg("bridgectl.run starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.bridge.Run(gctx)
	})
	if rt.admin != nil {
		g.Go(func() error {
			return rt.admin.Serve(gctx)
		})
	}
	err = g.Wait()
	log.Info().Msg("bridgectl.run stopped")
	return err
}

func printBanner(out io.Writer, cfg config.Config) {
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Bridge UID: %s\n", cfg.UID)
	fmt.Fprintf(out, "  Webhook:    %s\n", cfg.WebhookURL)
	fmt.Fprintln(out)
}
