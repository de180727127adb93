// Package hosts provides build hosts whose lifecycle the pipeline does not own.
package hosts

import (
	"context"
	"log/slog"

	"github.com/cochaviz/bitbuild/internal/build"
)

var (
	_ build.BuildHost = Local{}
	_ build.BuildHost = Unmanaged{}
)

// LocalIdentity names the orchestration host in object keys.
const LocalIdentity = "localhost"

// Local builds on the orchestration host itself.
type Local struct{}

func (Local) IsLocal() bool                   { return true }
func (Local) Identity() string                { return LocalIdentity }
func (Local) HomeOverride() string            { return "" }
func (Local) Terminate(context.Context) error { return nil }

// Unmanaged is a remote build host that outlives the pipeline, such as a
// shared build server. Releasing it only logs.
type Unmanaged struct {
	Logger  *slog.Logger
	Address string
	Home    string
}

func (u Unmanaged) IsLocal() bool        { return false }
func (u Unmanaged) Identity() string     { return u.Address }
func (u Unmanaged) HomeOverride() string { return u.Home }

func (u Unmanaged) Terminate(context.Context) error {
	logger := u.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("leaving unmanaged build host running", "host", u.Address)
	return nil
}
