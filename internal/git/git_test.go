package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func initRepository(t *testing.T) *Repository {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir := t.TempDir()
	repo := NewRepository(dir)
	ctx := context.Background()
	for _, args := range [][]string{
		{"init", "-q"},
		{"config", "user.email", "builder@example.test"},
		{"config", "user.name", "builder"},
		{"config", "commit.gpgsign", "false"},
	} {
		if _, err := repo.Run(ctx, args...); err != nil {
			t.Fatalf("git %v: %v", args, err)
		}
	}

	if err := os.WriteFile(filepath.Join(dir, "design.scala"), []byte("class Top\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := repo.Run(ctx, "add", "design.scala"); err != nil {
		t.Fatalf("git add: %v", err)
	}
	if _, err := repo.Run(ctx, "commit", "-q", "-m", "initial"); err != nil {
		t.Fatalf("git commit: %v", err)
	}
	return repo
}

func TestCommitTagClean(t *testing.T) {
	t.Parallel()

	repo := initRepository(t)
	tag, err := repo.CommitTag(context.Background())
	if err != nil {
		t.Fatalf("CommitTag() error = %v", err)
	}
	if len(tag) != 40 || strings.HasSuffix(tag, "-dirty") {
		t.Fatalf("CommitTag() = %q, want bare 40 character hash", tag)
	}
}

func TestCommitTagDirty(t *testing.T) {
	t.Parallel()

	repo := initRepository(t)
	if err := os.WriteFile(filepath.Join(repo.Dir(), "design.scala"), []byte("class Top2\n"), 0o644); err != nil {
		t.Fatalf("modify file: %v", err)
	}

	tag, err := repo.CommitTag(context.Background())
	if err != nil {
		t.Fatalf("CommitTag() error = %v", err)
	}
	if !strings.HasSuffix(tag, "-dirty") {
		t.Fatalf("CommitTag() = %q, want -dirty suffix", tag)
	}
}

func TestRunReportsStderr(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	repo := NewRepository(t.TempDir())
	_, err := repo.Head(context.Background())
	if err == nil {
		t.Fatal("Head() error = nil outside a repository")
	}
	if !strings.Contains(err.Error(), "rev-parse HEAD") {
		t.Fatalf("Head() error = %v, want command in message", err)
	}
}
