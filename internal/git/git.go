// Package git provides the commit tag recorded in every image description.
// All commands target an explicit repository directory through "git -C";
// the process working directory is never changed.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Repository is a git working tree at a fixed directory.
type Repository struct {
	dir    string
	binary string
}

// NewRepository returns a Repository targeting dir.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir, binary: "git"}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Run executes a git command in the repository and returns stdout. Stderr is
// folded into the error on failure.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", r.dir}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, r.binary, fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), r.dir, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Head returns the full hash of the checked out commit.
func (r *Repository) Head(ctx context.Context) (string, error) {
	out, err := r.Run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Dirty reports whether the working tree has uncommitted changes.
func (r *Repository) Dirty(ctx context.Context) (bool, error) {
	out, err := r.Run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// CommitTag returns the HEAD hash with a "-dirty" suffix when the working
// tree has uncommitted changes.
func (r *Repository) CommitTag(ctx context.Context) (string, error) {
	hash, err := r.Head(ctx)
	if err != nil {
		return "", err
	}
	dirty, err := r.Dirty(ctx)
	if err != nil {
		return "", err
	}
	if dirty {
		return hash + "-dirty", nil
	}
	return hash, nil
}
