package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const serviceNotice = `bridgectl does not daemonize itself.
Run "bridgectl run" under a process supervisor (systemd, launchd, a container runtime)
and use that supervisor to %s the bridge.`

// newServiceCmds returns the daemon-control verbs, which only explain how to supervise the bridge.
func newServiceCmds() []*cobra.Command {
	verbs := []struct {
		use   string
		short string
		verb  string
	}{
		{"start", "Explain how to start the bridge in the background", "start"},
		{"stop", "Explain how to stop a supervised bridge", "stop"},
		{"status", "Explain how to inspect a supervised bridge", "inspect"},
		{"restart", "Explain how to restart a supervised bridge", "restart"},
	}
	cmds := make([]*cobra.Command, 0, len(verbs))
	for _, v := range verbs {
		verb := v.verb
		cmds = append(cmds, &cobra.Command{
			Use:   v.use,
			Short: v.short,
			Args:  cobra.ArbitraryArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprintf(cmd.OutOrStdout(), serviceNotice+"\n", verb)
				if verb == "inspect" {
					fmt.Fprintln(cmd.OutOrStdout(), "With admin_addr set, GET /ready reports both connections.")
				}
				return nil
			},
		})
	}
	return cmds
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the bridge version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bridgectl %s\n", version)
		},
	}
}
