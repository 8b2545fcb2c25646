package analyzerd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Launcher starts the external server process described by a StartRequest.
// It is invoked synchronously; its result gates the Started outcome.
type Launcher interface {
	Launch(ctx context.Context, req StartRequest) error
}

// ExecLauncher runs the configured server binary via os/exec. The binary is
// expected to daemonize itself and take the server lock for its lifetime.
type ExecLauncher struct {
	// Binary is the executable to run, resolved from PATH when relative.
	Binary string
	// Dir is the working directory for the server, normally the project root.
	Dir string
	// Terminal wires the launcher's terminal through to the server instead
	// of capturing its output.
	Terminal bool
}

// Launch runs the binary with the request's command and flags and waits for
// it to exit.
func (l ExecLauncher) Launch(ctx context.Context, req StartRequest) error {
	args := append([]string{req.Command}, req.Flags...)
	cmd := exec.CommandContext(ctx, l.Binary, args...)
	cmd.Dir = l.Dir
	if l.Terminal {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("run %s %s: %w", l.Binary, req.Command, err)
		}
		return nil
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("run %s %s: %w: %s", l.Binary, req.Command, err, msg)
		}
		return fmt.Errorf("run %s %s: %w", l.Binary, req.Command, err)
	}
	return nil
}
