package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestCLIHandlerFormatsAttributes(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	logger := NewCLI(&out, slog.LevelDebug).With("component", "build")
	logger.WithGroup("image").Info("submitted", "id", "afi-123", "error", errors.New("boom"))

	line := out.String()
	for _, want := range []string{"INFO ", " | submitted", "component=build", "image.id=afi-123", "image.error=boom"} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %q missing %q", line, want)
		}
	}
}

func TestCLIHandlerQuotesMultilineValues(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	NewCLI(&out, nil).Info("notify", "body", "line one\nline two")

	if strings.Count(out.String(), "\n") != 1 {
		t.Fatalf("expected a single line, got %q", out.String())
	}
	if !strings.Contains(out.String(), `body="line one\nline two"`) {
		t.Fatalf("body not quoted: %q", out.String())
	}
}

func TestCLIHandlerRespectsLevel(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	NewCLI(&out, slog.LevelWarn).Info("hidden")
	if out.Len() != 0 {
		t.Fatalf("info record written at warn level: %q", out.String())
	}
}

func TestLineWriterSplitsLines(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	writer := NewLineWriter(NewCLI(&out, slog.LevelDebug), slog.LevelDebug, "stdout")

	if _, err := writer.Write([]byte("first\nsec")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := writer.Write([]byte("ond\n\npartial")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	writer.Flush()

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d records, want 3: %q", len(lines), out.String())
	}
	for i, want := range []string{"| first", "| second", "| partial"} {
		if !strings.Contains(lines[i], want) || !strings.Contains(lines[i], "stream=stdout") {
			t.Fatalf("record %d = %q, want %q", i, lines[i], want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"err":     slog.LevelError,
	}
	for input, want := range cases {
		got, err := ParseLevel(input)
		if err != nil {
			t.Fatalf("ParseLevel(%q) error = %v", input, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("ParseLevel(verbose) error = nil")
	}
}
