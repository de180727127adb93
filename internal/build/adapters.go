package build

import (
	"context"
	"time"
)

// Executor runs commands on one host. A non-zero exit is reported through
// Result.ExitCode with a nil error; the error is reserved for failures to run
// the command at all.
type Executor interface {
	Execute(ctx context.Context, command Command) (Result, error)
}

// Direction selects which side of a Transfer is the source.
type Direction string

const (
	Upload   Direction = "upload"
	Download Direction = "download"
)

// SyncRequest describes one directory synchronization between the
// orchestration host and the build host.
type SyncRequest struct {
	LocalPath        string
	RemotePath       string
	Direction        Direction
	Excludes         []string
	PreserveSymlinks bool
}

// SyncResult holds the captured transfer output.
type SyncResult struct {
	Stdout string
	Stderr string
}

// Transfer synchronizes directory trees between hosts.
type Transfer interface {
	Sync(ctx context.Context, request SyncRequest) (SyncResult, error)
}

// ImageRegistry publishes artifacts and turns them into hardware images.
type ImageRegistry interface {
	Upload(ctx context.Context, bucket, key, path string) error
	CreateImage(ctx context.Context, request CreateImageRequest) (ImageRecord, error)
	DescribeImage(ctx context.Context, imageID string) (ImageRecord, error)
	CopyToAllRegions(ctx context.Context, image ImageRecord) error
}

// Notifier delivers a titled message to the operator.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// BuildHost abstracts where the build runs and owns its lifecycle.
type BuildHost interface {
	IsLocal() bool
	// Identity names the host; it is embedded in uploaded object keys.
	Identity() string
	// HomeOverride replaces the remote home directory when non-empty.
	HomeOverride() string
	// Terminate releases the host. It must be safe to call more than once.
	Terminate(ctx context.Context) error
}

// Revision yields the source revision tag of the design repository.
type Revision interface {
	CommitTag(ctx context.Context) (string, error)
}

// Sleeper pauses between registry polls.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// RealSleeper waits on a timer and returns early when ctx is done.
var RealSleeper Sleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
})
