// Package lockfile provides advisory, filesystem-backed mutual exclusion
// scoped to the owning process. A Lease represents exclusive ownership of a
// lock file; the OS advisory lock is the sole arbiter of ownership, so leases
// held by a process that exits are released by the kernel.
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/shirou/gopsutil/v4/process"
)

// ErrBusy reports that the resource is currently held by another process.
// Non-blocking acquisition fails with ErrBusy immediately instead of waiting.
var ErrBusy = errors.New("lockfile: resource busy")

// ErrTimeout reports that a context-bounded acquisition expired before the
// resource became available.
var ErrTimeout = errors.New("lockfile: acquisition timed out")

// retryDelay paces context-bounded acquisition attempts.
const retryDelay = 100 * time.Millisecond

// Lease is exclusive ownership of a lock file. Release must run on every
// exit path of the acquiring scope; it is safe to call more than once.
type Lease struct {
	fl       *flock.Flock
	released bool
}

// Acquire obtains an exclusive advisory lock on path, creating the backing
// file and its parent directory when absent. Non-blocking mode attempts the
// lock exactly once and fails with ErrBusy when it is held elsewhere;
// blocking mode suspends the caller until the lock becomes available.
func Acquire(path string, blocking bool) (*Lease, error) {
	if err := ensureDir(path); err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	fl := flock.New(path)
	if blocking {
		if err := fl.Lock(); err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", path, err)
		}
	} else {
		locked, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", path, err)
		}
		if !locked {
			return nil, fmt.Errorf("acquire lock %s: %w", path, ErrBusy)
		}
	}
	recordOwner(path)
	return &Lease{fl: fl}, nil
}

// AcquireContext blocks for the lock like Acquire in blocking mode, but gives
// up when ctx expires, failing with ErrTimeout.
func AcquireContext(ctx context.Context, path string) (*Lease, error) {
	if err := ensureDir(path); err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	fl := flock.New(path)
	locked, err := fl.TryLockContext(ctx, retryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("acquire lock %s: %w", path, ErrTimeout)
		}
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("acquire lock %s: %w", path, ErrBusy)
	}
	recordOwner(path)
	return &Lease{fl: fl}, nil
}

// Release drops the lease. Subsequent calls are no-ops.
func (l *Lease) Release() error {
	if l == nil || l.released {
		return nil
	}
	l.released = true
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.fl.Path(), err)
	}
	return nil
}

// Path returns the lock file backing the lease.
func (l *Lease) Path() string {
	return l.fl.Path()
}

// Probe reports whether path is currently locked by another process. It is
// read-only: a missing lock file means no holder and is not created, and a
// free lock is taken and dropped without touching the owner record, so a
// probe never leaves a dangling hold and never masquerades as a holder.
func Probe(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("probe lock %s: %w", path, err)
	}
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe lock %s: %w", path, err)
	}
	if !locked {
		return true, nil
	}
	if err := fl.Unlock(); err != nil {
		return false, fmt.Errorf("probe lock %s: %w", path, err)
	}
	return false, nil
}

// Owner returns the PID recorded in the lock file, when one is present and
// parseable. The recorded PID is a diagnostic left by the last acquirer;
// mutual exclusion never depends on it.
func Owner(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// Stale reports whether path looks held while its recorded owner process is
// gone. The kernel releases advisory locks when the holder exits, so this
// only triggers when a descendant inherited the descriptor; it is a
// diagnostic for operators, never acted on automatically.
func Stale(path string) (bool, error) {
	held, err := Probe(path)
	if err != nil || !held {
		return false, err
	}
	pid, ok := Owner(path)
	if !ok {
		return false, nil
	}
	alive, err := process.PidExists(int32(pid))
	if err != nil {
		return false, fmt.Errorf("check lock owner pid %d: %w", pid, err)
	}
	return !alive, nil
}

func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

// recordOwner stamps the holder's PID into the lock file. Contents are
// informational; interop depends solely on the advisory lock state. Writing
// through a separate descriptor is safe: flock locks attach to the holder's
// open file description, not to the process or path.
func recordOwner(path string) {
	_ = os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}
