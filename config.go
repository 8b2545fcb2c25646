package analyzerd

import (
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"

	"pkt.systems/analyzerd/internal/pathutil"
)

const (
	// DefaultBinary is the analysis server binary, resolved from PATH when
	// the configuration names no explicit path.
	DefaultBinary = "analyzerd-server"
	// DefaultConfigFileName is the per-project configuration file looked up
	// under the state directory.
	DefaultConfigFileName = "config.yaml"
	// StateDirName is the project-relative directory holding coordination
	// state. Its layout is shared with every other coordinator and with the
	// server itself, so the names below must never change.
	StateDirName = ".analyzerd"

	startLockName  = "client.lock"
	serverLockDir  = "server"
	serverLockName = "server.lock"
)

// StartLockPath returns the lock file serializing start attempts for
// projectRoot.
func StartLockPath(projectRoot string) string {
	return filepath.Join(projectRoot, StateDirName, startLockName)
}

// ServerLockPath returns the lock file a live server holds for projectRoot.
func ServerLockPath(projectRoot string) string {
	return filepath.Join(projectRoot, StateDirName, serverLockDir, serverLockName)
}

// Config describes how the analysis server is launched for a project.
type Config struct {
	// Binary is the server executable handed to the process launcher.
	Binary string `mapstructure:"binary" yaml:"binary"`
	// NumberOfWorkers is passed to the server as its parallelism.
	NumberOfWorkers int `mapstructure:"workers" yaml:"workers"`
	// TypeshedPath points the server at its typeshed stubs.
	TypeshedPath string `mapstructure:"typeshed" yaml:"typeshed"`
	// VersionHash is the binary version the server must match at startup.
	VersionHash string `mapstructure:"expected-binary-version" yaml:"expected-binary-version"`
	// SearchPath lists additional module search paths, in order.
	SearchPath []string `mapstructure:"search-path" yaml:"search-path,omitempty"`
	// AnalysisDirectories restricts analysis scope. The restriction flag is
	// only emitted when this is a strict superset of the project root with
	// more than one entry.
	AnalysisDirectories []string `mapstructure:"analysis-directory" yaml:"analysis-directory,omitempty"`
	// NoWatchman disables watchman-based file watching in the server.
	NoWatchman bool `mapstructure:"no-watchman" yaml:"no-watchman"`
	// Terminal keeps the server attached to the launching terminal.
	Terminal bool `mapstructure:"terminal" yaml:"terminal"`
	// WaitTimeout bounds the blocking wait for the start lock. Zero waits
	// indefinitely, which is the default.
	WaitTimeout time.Duration `mapstructure:"wait-timeout" yaml:"wait-timeout"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return Config{
		Binary:          DefaultBinary,
		NumberOfWorkers: runtime.NumCPU(),
	}
}

// Validate checks cfg for values the coordinator cannot work with.
func (c Config) Validate() error {
	if c.Binary == "" {
		return fmt.Errorf("config: binary required")
	}
	if c.NumberOfWorkers <= 0 {
		return fmt.Errorf("config: workers must be positive, got %d", c.NumberOfWorkers)
	}
	if c.WaitTimeout < 0 {
		return fmt.Errorf("config: wait-timeout must not be negative, got %s", c.WaitTimeout)
	}
	return nil
}

// LoadConfig resolves a Config from v, layering config file, environment and
// bound flags over DefaultConfig. A nil v yields the defaults.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()
	if v == nil {
		return cfg, cfg.Validate()
	}
	v.SetDefault("binary", cfg.Binary)
	v.SetDefault("workers", cfg.NumberOfWorkers)

	cfg.Binary = v.GetString("binary")
	cfg.NumberOfWorkers = v.GetInt("workers")
	cfg.TypeshedPath = v.GetString("typeshed")
	cfg.VersionHash = v.GetString("expected-binary-version")
	cfg.SearchPath = v.GetStringSlice("search-path")
	cfg.AnalysisDirectories = v.GetStringSlice("analysis-directory")
	cfg.NoWatchman = v.GetBool("no-watchman")
	cfg.Terminal = v.GetBool("terminal")
	cfg.WaitTimeout = v.GetDuration("wait-timeout")

	var err error
	if cfg.Binary, err = pathutil.ExpandUserAndEnv(cfg.Binary); err != nil {
		return cfg, fmt.Errorf("expand binary path: %w", err)
	}
	if cfg.TypeshedPath, err = pathutil.ExpandUserAndEnv(cfg.TypeshedPath); err != nil {
		return cfg, fmt.Errorf("expand typeshed path: %w", err)
	}
	for i, p := range cfg.SearchPath {
		if cfg.SearchPath[i], err = pathutil.ExpandUserAndEnv(p); err != nil {
			return cfg, fmt.Errorf("expand search path %q: %w", p, err)
		}
	}
	return cfg, cfg.Validate()
}
