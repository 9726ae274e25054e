package main

import (
	"fmt"
	"os"

	"github.com/danmuck/clawbridge/internal/config"
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.2.0"

type rootOptions struct {
	configDir string
}

// dir resolves --config-dir, falling back to ~/.openclaw.
func (o *rootOptions) dir() (string, error) {
	if o.configDir != "" {
		return o.configDir, nil
	}
	return config.DefaultDir()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "bridgectl",
		Short:         "Bridge an OpenClaw gateway to a webhook websocket server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configDir, "config-dir", "", "configuration directory (default ~/.openclaw)")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newServiceCmds()...)
	root.AddCommand(newVersionCmd())
	root.AddCommand(newConfigCmd(opts))
	root.AddCommand(newQRCmd(opts))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "bridgectl: %v\n", err)
		os.Exit(1)
	}
}
