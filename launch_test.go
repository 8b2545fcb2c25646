package analyzerd

import (
	"context"
	"testing"
)

func TestExecLauncherReportsExitFailure(t *testing.T) {
	launcher := ExecLauncher{Binary: "false", Dir: t.TempDir()}
	err := launcher.Launch(context.Background(), StartRequest{Command: "start"})
	if err == nil {
		t.Fatal("expected failure from nonzero exit")
	}
}

func TestExecLauncherRunsBinary(t *testing.T) {
	launcher := ExecLauncher{Binary: "true", Dir: t.TempDir()}
	req := buildStartRequest("/proj", baseConfig())
	if err := launcher.Launch(context.Background(), req); err != nil {
		t.Fatalf("launch: %v", err)
	}
}

func TestExecLauncherMissingBinary(t *testing.T) {
	launcher := ExecLauncher{Binary: "/nonexistent/analyzerd-server", Dir: t.TempDir()}
	if err := launcher.Launch(context.Background(), StartRequest{Command: "start"}); err == nil {
		t.Fatal("expected error for missing binary")
	}
}
