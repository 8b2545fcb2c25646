package analyzerd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/analyzerd/internal/lockfile"
)

type recordingLauncher struct {
	mu    sync.Mutex
	calls []StartRequest
	err   error
}

func (l *recordingLauncher) Launch(ctx context.Context, req StartRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, req)
	return l.err
}

func (l *recordingLauncher) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

// serverSimLauncher behaves like a real launch: the spawned server takes the
// server lock and holds it for its lifetime (here, until the test ends).
type serverSimLauncher struct {
	projectRoot string

	mu     sync.Mutex
	leases []*lockfile.Lease
}

func (l *serverSimLauncher) Launch(ctx context.Context, req StartRequest) error {
	lease, err := lockfile.Acquire(ServerLockPath(l.projectRoot), false)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.leases = append(l.leases, lease)
	return nil
}

func (l *serverSimLauncher) shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, lease := range l.leases {
		lease.Release()
	}
	l.leases = nil
}

// syncBuffer lets tests read log output concurrently with the coordinator
// writing it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger(buf *syncBuffer) pslog.Logger {
	return pslog.NewWithOptions(buf, pslog.Options{
		Mode:     pslog.ModeStructured,
		MinLevel: pslog.InfoLevel,
	})
}

func TestStartLaunchesServerOnce(t *testing.T) {
	project := t.TempDir()
	launcher := &recordingLauncher{}
	coord := NewCoordinator(project, baseConfig(), launcher, nil)

	outcome, err := coord.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if outcome != OutcomeStarted {
		t.Fatalf("outcome = %s, want started", outcome)
	}
	if got := launcher.callCount(); got != 1 {
		t.Fatalf("launcher invoked %d times, want 1", got)
	}
	if launcher.calls[0].Command != "start" {
		t.Fatalf("request command = %q", launcher.calls[0].Command)
	}
}

func TestStartDetectsRunningServer(t *testing.T) {
	project := t.TempDir()
	serverLease, err := lockfile.Acquire(ServerLockPath(project), false)
	if err != nil {
		t.Fatalf("simulate running server: %v", err)
	}
	defer serverLease.Release()

	var buf syncBuffer
	launcher := &recordingLauncher{}
	coord := NewCoordinator(project, baseConfig(), launcher, testLogger(&buf))

	outcome, err := coord.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if outcome != OutcomeAlreadyRunning {
		t.Fatalf("outcome = %s, want already-running", outcome)
	}
	if got := launcher.callCount(); got != 0 {
		t.Fatalf("launcher invoked %d times, want 0", got)
	}
	if !strings.Contains(buf.String(), "server already running") {
		t.Fatalf("missing warning, logs: %s", buf.String())
	}

	// Probing must not leave a dangling hold on the start lock either.
	held, err := lockfile.Probe(coord.StartLockPath())
	if err != nil {
		t.Fatalf("probe start lock: %v", err)
	}
	if held {
		t.Fatal("start lock still held after coordination")
	}
}

func TestProbeIsIdempotentAcrossAttempts(t *testing.T) {
	project := t.TempDir()
	launcher := &recordingLauncher{}

	for i := 0; i < 2; i++ {
		coord := NewCoordinator(project, baseConfig(), launcher, nil)
		outcome, err := coord.Start(context.Background())
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if outcome != OutcomeStarted {
			t.Fatalf("attempt %d outcome = %s, want started", i, outcome)
		}
	}
	if got := launcher.callCount(); got != 2 {
		t.Fatalf("launcher invoked %d times, want 2", got)
	}
}

func TestStartEscalatesToBlockingOnContention(t *testing.T) {
	project := t.TempDir()
	startLease, err := lockfile.Acquire(StartLockPath(project), false)
	if err != nil {
		t.Fatalf("hold start lock: %v", err)
	}

	var buf syncBuffer
	launcher := &recordingLauncher{}
	coord := NewCoordinator(project, baseConfig(), launcher, testLogger(&buf))

	done := make(chan struct{})
	var outcome Outcome
	var startErr error
	go func() {
		defer close(done)
		outcome, startErr = coord.Start(context.Background())
	}()

	// Release only after the attempt has observed contention and escalated.
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(buf.String(), "waiting on the start lock") {
		if time.Now().After(deadline) {
			t.Fatal("coordinator never reported waiting on the start lock")
		}
		time.Sleep(10 * time.Millisecond)
	}
	startLease.Release()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("coordination did not finish after the start lock was released")
	}
	if startErr != nil {
		t.Fatalf("start: %v", startErr)
	}
	if outcome != OutcomeStarted {
		t.Fatalf("outcome = %s, want started", outcome)
	}
	if got := strings.Count(buf.String(), "waiting on the start lock"); got != 1 {
		t.Fatalf("waiting notice logged %d times, want 1; logs: %s", got, buf.String())
	}
}

func TestStartLockContentionWithTimeout(t *testing.T) {
	project := t.TempDir()
	startLease, err := lockfile.Acquire(StartLockPath(project), false)
	if err != nil {
		t.Fatalf("hold start lock: %v", err)
	}
	defer startLease.Release()

	cfg := baseConfig()
	cfg.WaitTimeout = 300 * time.Millisecond
	launcher := &recordingLauncher{}
	coord := NewCoordinator(project, cfg, launcher, nil)

	outcome, err := coord.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if outcome != OutcomeLockContention {
		t.Fatalf("outcome = %s, want lock-contention", outcome)
	}
	if got := launcher.callCount(); got != 0 {
		t.Fatalf("launcher invoked %d times, want 0", got)
	}
}

func TestStartLockUnavailableIsFatal(t *testing.T) {
	project := t.TempDir()
	// A regular file where the state directory belongs makes the lock path
	// uncreatable.
	if err := os.WriteFile(filepath.Join(project, StateDirName), []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	launcher := &recordingLauncher{}
	coord := NewCoordinator(project, baseConfig(), launcher, nil)

	outcome, err := coord.Start(context.Background())
	if err == nil {
		t.Fatal("expected fatal error for uncreatable lock path")
	}
	if errors.Is(err, lockfile.ErrBusy) {
		t.Fatalf("unavailable path must not classify as contention: %v", err)
	}
	if outcome != OutcomeUnknown {
		t.Fatalf("outcome = %s, want unknown", outcome)
	}
	if got := launcher.callCount(); got != 0 {
		t.Fatalf("launcher invoked %d times, want 0", got)
	}
}

func TestLauncherFailurePropagates(t *testing.T) {
	project := t.TempDir()
	launcher := &recordingLauncher{err: errors.New("binary version mismatch")}
	coord := NewCoordinator(project, baseConfig(), launcher, nil)

	outcome, err := coord.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "binary version mismatch") {
		t.Fatalf("expected launcher failure, got %v", err)
	}
	if outcome != OutcomeUnknown {
		t.Fatalf("outcome = %s, want unknown", outcome)
	}

	held, err := lockfile.Probe(coord.StartLockPath())
	if err != nil {
		t.Fatalf("probe start lock: %v", err)
	}
	if held {
		t.Fatal("start lock leaked after launcher failure")
	}
}

func TestConcurrentAttemptsStartExactlyOne(t *testing.T) {
	project := t.TempDir()
	launcher := &serverSimLauncher{projectRoot: project}
	defer launcher.shutdown()

	const attempts = 4
	outcomes := make([]Outcome, attempts)
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			coord := NewCoordinator(project, baseConfig(), launcher, nil)
			outcomes[i], errs[i] = coord.Start(context.Background())
		}(i)
	}
	wg.Wait()

	var started, alreadyRunning int
	for i := 0; i < attempts; i++ {
		if errs[i] != nil {
			t.Fatalf("attempt %d: %v", i, errs[i])
		}
		switch outcomes[i] {
		case OutcomeStarted:
			started++
		case OutcomeAlreadyRunning:
			alreadyRunning++
		default:
			t.Fatalf("attempt %d outcome = %s", i, outcomes[i])
		}
	}
	if started != 1 {
		t.Fatalf("%d attempts started a server, want exactly 1", started)
	}
	if alreadyRunning != attempts-1 {
		t.Fatalf("%d attempts saw a running server, want %d", alreadyRunning, attempts-1)
	}
}
