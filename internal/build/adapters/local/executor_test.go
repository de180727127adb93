package local

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/cochaviz/bitbuild/internal/build"
)

func newTestExecutor() *Executor {
	return &Executor{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestExecuteCapturesOutput(t *testing.T) {
	t.Parallel()

	result, err := newTestExecutor().Execute(context.Background(), build.Command{
		Path: "sh",
		Args: []string{"-c", "echo out; echo err >&2"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", result.ExitCode)
	}
	if strings.TrimSpace(result.Stdout) != "out" || strings.TrimSpace(result.Stderr) != "err" {
		t.Fatalf("unexpected output: stdout=%q stderr=%q", result.Stdout, result.Stderr)
	}
}

func TestExecuteReportsExitCode(t *testing.T) {
	t.Parallel()

	result, err := newTestExecutor().Execute(context.Background(), build.Command{
		Path: "sh",
		Args: []string{"-c", "exit 3"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", result.ExitCode)
	}
}

func TestExecutePassesArgumentsVerbatim(t *testing.T) {
	t.Parallel()

	recipe := `make DESIGN=Top "TARGET_CONFIG=a b" $(rm -rf /)`
	result, err := newTestExecutor().Execute(context.Background(), build.Command{
		Path: "printf",
		Args: []string{"%s|%s", "", recipe},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Stdout != "|"+recipe {
		t.Fatalf("stdout = %q, want %q", result.Stdout, "|"+recipe)
	}
}

func TestExecuteMissingBinary(t *testing.T) {
	t.Parallel()

	_, err := newTestExecutor().Execute(context.Background(), build.Command{Path: "/nonexistent/replace-rtl.sh"})
	if err == nil {
		t.Fatal("Execute() error = nil for missing binary")
	}
}

func TestExecuteCancelKillsProcessGroup(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := newTestExecutor().Execute(ctx, build.Command{
		Path: "sh",
		Args: []string{"-c", "sleep 30 & sleep 30; wait"},
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Execute() error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("cancellation took %v", elapsed)
	}
}
