package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/analyzerd"
)

func newConfigCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage analyzerd configuration files",
	}
	cmd.AddCommand(newConfigGenCommand(v))
	return cmd
}

func newConfigGenCommand(v *viper.Viper) *cobra.Command {
	var outPath string
	var force bool
	var stdout bool

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a default analyzerd configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stdout && outPath != "" {
				return fmt.Errorf("--stdout and --out are mutually exclusive")
			}
			data, err := defaultConfigYAML()
			if err != nil {
				return err
			}
			if stdout {
				fmt.Fprint(cmd.OutOrStdout(), string(data))
				return nil
			}
			if outPath == "" {
				project, err := resolveProject(v)
				if err != nil {
					return err
				}
				outPath = filepath.Join(project, analyzerd.StateDirName, analyzerd.DefaultConfigFileName)
			}
			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if !force {
				if _, err := os.Stat(outPath); err == nil {
					return fmt.Errorf("config file %s already exists (use --force to overwrite)", outPath)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("stat config file: %w", err)
				}
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return fmt.Errorf("write config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", "output path (defaults to <project>/.analyzerd/config.yaml)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite the target file if it already exists")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print the config to stdout instead of writing a file")
	return cmd
}

// configFileTemplate mirrors analyzerd.Config with a human-readable duration.
type configFileTemplate struct {
	Binary                string   `yaml:"binary"`
	Workers               int      `yaml:"workers"`
	Typeshed              string   `yaml:"typeshed"`
	ExpectedBinaryVersion string   `yaml:"expected-binary-version"`
	SearchPath            []string `yaml:"search-path"`
	AnalysisDirectory     []string `yaml:"analysis-directory"`
	NoWatchman            bool     `yaml:"no-watchman"`
	Terminal              bool     `yaml:"terminal"`
	WaitTimeout           string   `yaml:"wait-timeout"`
}

func defaultConfigYAML() ([]byte, error) {
	cfg := analyzerd.DefaultConfig()
	tmpl := configFileTemplate{
		Binary:                cfg.Binary,
		Workers:               cfg.NumberOfWorkers,
		Typeshed:              cfg.TypeshedPath,
		ExpectedBinaryVersion: cfg.VersionHash,
		SearchPath:            cfg.SearchPath,
		AnalysisDirectory:     cfg.AnalysisDirectories,
		NoWatchman:            cfg.NoWatchman,
		Terminal:              cfg.Terminal,
		WaitTimeout:           cfg.WaitTimeout.String(),
	}
	data, err := yaml.Marshal(tmpl)
	if err != nil {
		return nil, fmt.Errorf("marshal default config: %w", err)
	}
	return data, nil
}
