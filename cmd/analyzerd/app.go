package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"pkt.systems/analyzerd"
	"pkt.systems/analyzerd/internal/pathutil"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("ANALYZERD_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "analyzerd")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("ANALYZERD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "analyzerd",
		Short:         "Coordinate a singleton analysis server per project",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.String("config", "", "config file (defaults to <project>/.analyzerd/config.yaml when present)")
	pf.String("project", ".", "project root directory")
	bindFlags(v, pf, "config", "project")

	root.AddCommand(newStartCommand(v, baseLogger))
	root.AddCommand(newStatusCommand(v))
	root.AddCommand(newConfigCommand(v))
	root.AddCommand(newVersionCommand())
	return root
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet, names ...string) {
	for _, name := range names {
		_ = v.BindPFlag(name, fs.Lookup(name))
	}
}

// resolveProject turns the --project flag into an absolute, existing
// directory.
func resolveProject(v *viper.Viper) (string, error) {
	p, err := pathutil.ExpandUserAndEnv(v.GetString("project"))
	if err != nil {
		return "", fmt.Errorf("expand project path: %w", err)
	}
	if p == "" {
		p = "."
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve project path %q: %w", p, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("project directory %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("project path %s is not a directory", abs)
	}
	return abs, nil
}

// loadProjectConfig layers an explicit --config file, or the project's own
// config file when one exists, under env and flag overrides.
func loadProjectConfig(v *viper.Viper, projectRoot string) (analyzerd.Config, error) {
	cfgPath := strings.TrimSpace(v.GetString("config"))
	explicit := cfgPath != ""
	if cfgPath == "" {
		candidate := filepath.Join(projectRoot, analyzerd.StateDirName, analyzerd.DefaultConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			cfgPath = candidate
		}
	}
	if cfgPath != "" {
		expanded, err := pathutil.ExpandUserAndEnv(cfgPath)
		if err != nil {
			return analyzerd.Config{}, fmt.Errorf("expand config path %q: %w", cfgPath, err)
		}
		v.SetConfigFile(expanded)
		if err := v.ReadInConfig(); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return analyzerd.Config{}, fmt.Errorf("read config %s: %w", expanded, err)
			}
		}
	}
	return analyzerd.LoadConfig(v)
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
