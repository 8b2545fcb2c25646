package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pkt.systems/analyzerd"
	"pkt.systems/analyzerd/internal/lockfile"
)

func newStatusCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether an analysis server is running for the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := resolveProject(v)
			if err != nil {
				return err
			}
			serverLock := analyzerd.ServerLockPath(project)
			held, err := lockfile.Probe(serverLock)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !held {
				fmt.Fprintf(out, "no server running at %s\n", project)
				return nil
			}
			stale, err := lockfile.Stale(serverLock)
			if err != nil {
				return err
			}
			pid, havePID := lockfile.Owner(serverLock)
			switch {
			case stale && havePID:
				fmt.Fprintf(out, "server lock at %s is held but its recorded owner (pid %d) is gone\n", project, pid)
			case havePID:
				fmt.Fprintf(out, "server running at %s (pid %d)\n", project, pid)
			default:
				fmt.Fprintf(out, "server running at %s\n", project)
			}
			return nil
		},
	}
	return cmd
}
