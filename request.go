package analyzerd

import (
	"path/filepath"
	"strconv"
	"strings"
)

// StartRequest describes a single server launch: the command handed to the
// server binary and the ordered flag list following it. A request is built
// once per successful coordination and consumed exactly once by the launcher.
type StartRequest struct {
	Command string
	Flags   []string
}

// buildStartRequest assembles the launch flags for projectRoot from cfg.
// Flag order is fixed so independent launches of the same configuration are
// byte-identical.
func buildStartRequest(projectRoot string, cfg Config) StartRequest {
	flags := make([]string, 0, 12)
	// Only restrict analysis when the directory set is a strict superset of
	// the project root; a set of just the root (or nothing) would make the
	// restriction redundant.
	if dirs := cfg.AnalysisDirectories; len(dirs) > 1 && containsPath(dirs, projectRoot) {
		flags = append(flags, "-filter-directories", strings.Join(dirs, ","))
	}
	if !cfg.NoWatchman {
		flags = append(flags, "-use-watchman")
	}
	if cfg.Terminal {
		flags = append(flags, "-terminal")
	}
	flags = append(flags,
		"-workers", strconv.Itoa(cfg.NumberOfWorkers),
		"-typeshed", cfg.TypeshedPath,
		"-expected-binary-version", cfg.VersionHash,
	)
	if len(cfg.SearchPath) > 0 {
		flags = append(flags, "-search-path", strings.Join(cfg.SearchPath, ","))
	}
	return StartRequest{Command: "start", Flags: flags}
}

func containsPath(paths []string, target string) bool {
	target = filepath.Clean(target)
	for _, p := range paths {
		if filepath.Clean(p) == target {
			return true
		}
	}
	return false
}
