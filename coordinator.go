package analyzerd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/xid"
	"pkt.systems/pslog"

	"pkt.systems/analyzerd/internal/lockfile"
)

// Outcome classifies one coordination attempt.
type Outcome int

const (
	// OutcomeUnknown accompanies a non-nil error.
	OutcomeUnknown Outcome = iota
	// OutcomeStarted means this attempt launched the server.
	OutcomeStarted
	// OutcomeAlreadyRunning means a live server already holds the server
	// lock for the project. This is benign, not an error.
	OutcomeAlreadyRunning
	// OutcomeLockContention means the bounded wait for the start lock
	// expired before it could be acquired. Only possible when a wait
	// timeout is configured.
	OutcomeLockContention
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case OutcomeStarted:
		return "started"
	case OutcomeAlreadyRunning:
		return "already-running"
	case OutcomeLockContention:
		return "lock-contention"
	default:
		return "unknown"
	}
}

// Coordinator serializes concurrent attempts to start the analysis server
// for one project and launches it at most once. Its logic is single-threaded
// per attempt; mutual exclusion across processes comes from the start lock.
type Coordinator struct {
	projectRoot string
	cfg         Config
	launcher    Launcher
	logger      pslog.Logger
}

// NewCoordinator returns a coordinator for projectRoot. A nil logger
// disables logging.
func NewCoordinator(projectRoot string, cfg Config, launcher Launcher, logger pslog.Logger) *Coordinator {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Coordinator{
		projectRoot: projectRoot,
		cfg:         cfg,
		launcher:    launcher,
		logger:      logger.With("sys", "coordinator"),
	}
}

// StartLockPath returns the start lock file for the coordinator's project.
func (c *Coordinator) StartLockPath() string {
	return StartLockPath(c.projectRoot)
}

// ServerLockPath returns the server lock file for the coordinator's project.
func (c *Coordinator) ServerLockPath() string {
	return ServerLockPath(c.projectRoot)
}

// Start runs one coordination attempt: take the start lock, probe the server
// lock for a live server, and launch one when none is running. The launcher
// is invoked at most once, while the start lock is held.
func (c *Coordinator) Start(ctx context.Context) (Outcome, error) {
	logger := c.logger.With("attempt", xid.New().String(), "project", c.projectRoot)

	lease, err := c.acquireStartLock(ctx, logger)
	if err != nil {
		if errors.Is(err, lockfile.ErrTimeout) {
			logger.Warn("gave up waiting on the start lock", "timeout", c.cfg.WaitTimeout)
			return OutcomeLockContention, nil
		}
		return OutcomeUnknown, err
	}
	defer lease.Release()

	// Probing under the start lock is race-free: no other attempt can be
	// mid-probe, and a server only spawns from within this critical section.
	held, err := lockfile.Probe(c.ServerLockPath())
	if err != nil {
		return OutcomeUnknown, err
	}
	if held {
		logger.Warn("server already running, skipping", "path", c.projectRoot)
		return OutcomeAlreadyRunning, nil
	}

	req := buildStartRequest(c.projectRoot, c.cfg)
	logger.Info("launching server", "binary", c.cfg.Binary, "flags", strings.Join(req.Flags, " "))
	if err := c.launcher.Launch(ctx, req); err != nil {
		return OutcomeUnknown, fmt.Errorf("launch server for %s: %w", c.projectRoot, err)
	}
	return OutcomeStarted, nil
}

type acquireState int

const (
	stateProbing acquireState = iota
	stateWaiting
)

// acquireStartLock obtains the start lock, optimistically non-blocking first
// so contention can be reported, then degrading to a blocking wait. Busy is
// the only condition that transitions to waiting; everything else aborts.
func (c *Coordinator) acquireStartLock(ctx context.Context, logger pslog.Logger) (*lockfile.Lease, error) {
	path := c.StartLockPath()
	state := stateProbing
	for {
		switch state {
		case stateProbing:
			lease, err := lockfile.Acquire(path, false)
			if err == nil {
				return lease, nil
			}
			if !errors.Is(err, lockfile.ErrBusy) {
				return nil, err
			}
			logger.Info("waiting on the start lock", "lock", path)
			state = stateWaiting
		case stateWaiting:
			if c.cfg.WaitTimeout > 0 {
				waitCtx, cancel := context.WithTimeout(ctx, c.cfg.WaitTimeout)
				lease, err := lockfile.AcquireContext(waitCtx, path)
				cancel()
				return lease, err
			}
			return lockfile.Acquire(path, true)
		}
	}
}
