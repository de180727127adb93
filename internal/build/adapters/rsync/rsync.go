// Package rsync synchronizes directory trees with the build host using the
// rsync command line tool over SSH.
package rsync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"al.essio.dev/pkg/shellescape"

	"github.com/cochaviz/bitbuild/internal/build"
)

var _ build.Transfer = (*Transfer)(nil)

// Remote identifies the build host side of a transfer. A zero Remote makes
// every transfer a local copy.
type Remote struct {
	Host    string
	User    string
	Port    int
	KeyFile string
}

func (r Remote) isLocal() bool {
	return r.Host == ""
}

func (r Remote) prefix() string {
	if r.User == "" {
		return r.Host + ":"
	}
	return r.User + "@" + r.Host + ":"
}

// Transfer runs rsync through an executor on the orchestration host.
type Transfer struct {
	Logger   *slog.Logger
	Executor build.Executor
	Remote   Remote
	// Binary overrides the rsync executable.
	Binary string
}

// New returns a Transfer for remote that runs rsync with executor.
func New(executor build.Executor, remote Remote, logger *slog.Logger) *Transfer {
	return &Transfer{Executor: executor, Remote: remote, Logger: logger}
}

// Sync performs request and fails when rsync exits non-zero.
func (t *Transfer) Sync(ctx context.Context, request build.SyncRequest) (build.SyncResult, error) {
	command, err := t.Command(request)
	if err != nil {
		return build.SyncResult{}, err
	}

	logger := t.logger().With("direction", request.Direction, "local", request.LocalPath, "remote", request.RemotePath)
	logger.Debug("synchronizing", "command", command.String())

	result, err := t.Executor.Execute(ctx, command)
	sync := build.SyncResult{Stdout: result.Stdout, Stderr: result.Stderr}
	if err != nil {
		return sync, fmt.Errorf("run rsync: %w", err)
	}
	if !result.Succeeded() {
		return sync, fmt.Errorf("rsync exited with code %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	logger.Debug("synchronized")
	return sync, nil
}

// Command builds the rsync invocation for request.
func (t *Transfer) Command(request build.SyncRequest) (build.Command, error) {
	if request.LocalPath == "" || request.RemotePath == "" {
		return build.Command{}, fmt.Errorf("rsync requires both a local and a remote path")
	}

	args := []string{"-pthrvz"}
	if request.PreserveSymlinks {
		args = append(args, "-l")
	}

	excludes := append([]string(nil), request.Excludes...)
	sort.Strings(excludes)
	for _, exclude := range excludes {
		args = append(args, "--exclude", exclude)
	}

	remotePath := request.RemotePath
	if !t.Remote.isLocal() {
		// -s keeps the remote shell from splitting or expanding the remote path.
		args = append(args, "-s", "-e", t.remoteShell())
		remotePath = t.Remote.prefix() + remotePath
	}

	switch request.Direction {
	case build.Upload:
		args = append(args, request.LocalPath, remotePath)
	case build.Download:
		args = append(args, remotePath, request.LocalPath)
	default:
		return build.Command{}, fmt.Errorf("unknown transfer direction %q", request.Direction)
	}

	binary := t.Binary
	if binary == "" {
		binary = "rsync"
	}
	return build.Command{Path: binary, Args: args}, nil
}

// remoteShell renders the -e value. rsync splits it on whitespace and honors
// quotes, so the key path is quoted.
func (t *Transfer) remoteShell() string {
	parts := []string{"ssh", "-o", "StrictHostKeyChecking=no"}
	if t.Remote.KeyFile != "" {
		parts = append(parts, "-i", shellescape.Quote(t.Remote.KeyFile))
	}
	if t.Remote.Port != 0 {
		parts = append(parts, "-p", strconv.Itoa(t.Remote.Port))
	}
	return strings.Join(parts, " ")
}

func (t *Transfer) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}
