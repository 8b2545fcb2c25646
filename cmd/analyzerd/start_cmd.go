package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"pkt.systems/analyzerd"
)

func newStartCommand(v *viper.Viper, baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the analysis server unless one is already running",
		Long: "Start launches the analysis server for the project. Concurrent\n" +
			"invocations for the same project are serialized; when a server is\n" +
			"already running the command reports it and exits normally.",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := resolveProject(v)
			if err != nil {
				return err
			}
			cfg, err := loadProjectConfig(v, project)
			if err != nil {
				return err
			}
			launcher := analyzerd.ExecLauncher{
				Binary:   cfg.Binary,
				Dir:      project,
				Terminal: cfg.Terminal,
			}
			coord := analyzerd.NewCoordinator(project, cfg, launcher, baseLogger)
			outcome, err := coord.Start(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch outcome {
			case analyzerd.OutcomeAlreadyRunning:
				fmt.Fprintf(out, "server already running at %s\n", project)
			case analyzerd.OutcomeLockContention:
				return fmt.Errorf("timed out waiting for the start lock at %s", project)
			default:
				fmt.Fprintf(out, "server started at %s\n", project)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Bool("no-watchman", false, "do not ask the server to use watchman")
	flags.Bool("terminal", false, "keep the server attached to this terminal")
	flags.Int("workers", 0, "number of parallel workers (defaults to the CPU count)")
	flags.String("typeshed", "", "path to the typeshed stubs")
	flags.String("expected-binary-version", "", "version hash the server binary must match")
	flags.StringSlice("search-path", nil, "additional module search paths")
	flags.StringSlice("analysis-directory", nil, "restrict analysis to these directories")
	flags.String("binary", "", "analysis server binary to launch")
	flags.Duration("wait-timeout", 0, "bound the wait for the start lock (0 waits forever)")
	bindFlags(v, flags,
		"no-watchman", "terminal", "workers", "typeshed",
		"expected-binary-version", "search-path", "analysis-directory",
		"binary", "wait-timeout",
	)
	return cmd
}
