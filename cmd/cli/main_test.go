package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cochaviz/bitbuild/internal/build"
	"github.com/cochaviz/bitbuild/internal/logging"
)

func newTestApp() (*app, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	a := &app{stdout: &stdout, stderr: &stderr}
	a.logger = logging.NewCLI(&stderr, &a.levelVar)
	return a, &stdout
}

func execute(t *testing.T, a *app, args ...string) error {
	t.Helper()
	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	return root.ExecuteContext(context.Background())
}

func TestTagsRoundTrip(t *testing.T) {
	a, stdout := newTestApp()

	if err := execute(t, a, "tags", "encode", "fireboom-A-F90", "fireboom-A-F90", "abc123"); err != nil {
		t.Fatalf("tags encode error = %v", err)
	}
	description := strings.TrimSpace(stdout.String())
	want := "bitbuild-buildtriplet:fireboom-A-F90,bitbuild-deploytriplet:fireboom-A-F90,bitbuild-commit:abc123"
	if description != want {
		t.Fatalf("tags encode = %q, want %q", description, want)
	}

	stdout.Reset()
	if err := execute(t, a, "tags", "decode", description); err != nil {
		t.Fatalf("tags decode error = %v", err)
	}
	if !strings.Contains(stdout.String(), "commit:\tabc123") {
		t.Fatalf("tags decode output = %q", stdout.String())
	}
}

func TestTagsEncodeRejectsLongValue(t *testing.T) {
	a, _ := newTestApp()

	err := execute(t, a, "tags", "encode", strings.Repeat("x", build.MaxTagLength+1), "d", "c")
	if err == nil {
		t.Fatal("tags encode error = nil, want error")
	}
}

func TestHWDBListPrintsEntries(t *testing.T) {
	a, stdout := newTestApp()
	deployDir := t.TempDir()
	layout := build.Layout{DeployDir: deployDir}
	for _, name := range []string{"zeta", "alpha"} {
		if _, err := build.WriteHWDBEntry(layout.HWDBDir(), name, build.HWDBEntry(name, "agfi-"+name)); err != nil {
			t.Fatalf("WriteHWDBEntry() error = %v", err)
		}
	}

	if err := execute(t, a, "hwdb", "list", "--deploy-dir", deployDir); err != nil {
		t.Fatalf("hwdb list error = %v", err)
	}
	out := stdout.String()
	if strings.Index(out, "[alpha]") > strings.Index(out, "[zeta]") || !strings.Contains(out, "agfi=agfi-zeta") {
		t.Fatalf("hwdb list output = %q", out)
	}
}

func TestValidateListsProblems(t *testing.T) {
	a, stdout := newTestApp()
	path := filepath.Join(t.TempDir(), "recipe.yaml")
	if err := os.WriteFile(path, []byte("name: myimg\n"), 0o644); err != nil {
		t.Fatalf("write recipe: %v", err)
	}

	if err := execute(t, a, "validate", path); err == nil {
		t.Fatal("validate error = nil, want error")
	}
	if !strings.Contains(stdout.String(), "bucket") {
		t.Fatalf("validate output = %q, want missing bucket", stdout.String())
	}
}

func TestRootRejectsUnknownLogFormat(t *testing.T) {
	a, _ := newTestApp()

	if err := execute(t, a, "--log-format", "xml", "hwdb", "list"); err == nil {
		t.Fatal("execute error = nil, want log format error")
	}
}
