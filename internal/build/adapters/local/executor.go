package local

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cochaviz/bitbuild/internal/build"
	"github.com/cochaviz/bitbuild/internal/logging"
)

// Ensure Executor satisfies the build executor interface.
var _ build.Executor = (*Executor)(nil)

// Executor runs commands on the orchestration host. Every command gets its own
// process group so that cancelling the context also stops the toolchain's
// children.
type Executor struct {
	Logger *slog.Logger
	// Env, when non-nil, replaces the inherited process environment.
	Env []string
	// WaitDelay bounds how long output pipes are drained after cancellation.
	WaitDelay time.Duration
}

func (e *Executor) logger() *slog.Logger {
	if e != nil && e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Execute runs command and captures its output. The output is also streamed
// to the logger one line at a time.
func (e *Executor) Execute(ctx context.Context, command build.Command) (build.Result, error) {
	if command.Path == "" {
		return build.Result{}, &build.BuildError{Kind: build.KindToolchain, Message: "no command provided"}
	}

	logger := e.logger().With("host", "localhost", "command", command.Path)
	logger.Debug("running command", "args", command.Args, "dir", command.Dir)

	cmd := exec.CommandContext(ctx, command.Path, command.Args...)
	cmd.Dir = command.Dir
	cmd.Env = e.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = e.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}

	var stdout, stderr bytes.Buffer
	stdoutLog := logging.NewLineWriter(logger, slog.LevelDebug, "stdout")
	stderrLog := logging.NewLineWriter(logger, slog.LevelDebug, "stderr")
	cmd.Stdout = io.MultiWriter(&stdout, stdoutLog)
	cmd.Stderr = io.MultiWriter(&stderr, stderrLog)

	err := cmd.Run()
	stdoutLog.Flush()
	stderrLog.Flush()

	result := build.Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		result.ExitCode = exitErr.ExitCode()
		if result.ExitCode < 0 {
			result.ExitCode = 1
		}
		logger.Debug("command exited", "exit_code", result.ExitCode)
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}
	return result, err
}
