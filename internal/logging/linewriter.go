package logging

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
)

// LineWriter is an io.Writer that emits one log record per line written to
// it. It is used to capture the output streams of long running toolchain
// processes. Call Flush after the writer is no longer used to emit a
// trailing partial line.
type LineWriter struct {
	logger *slog.Logger
	level  slog.Level
	stream string

	mu      sync.Mutex
	pending []byte
}

// NewLineWriter returns a LineWriter logging at level with a "stream" attribute.
func NewLineWriter(logger *slog.Logger, level slog.Level, stream string) *LineWriter {
	return &LineWriter{
		logger: Ensure(logger),
		level:  level,
		stream: stream,
	}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, p...)
	for {
		index := bytes.IndexByte(w.pending, '\n')
		if index < 0 {
			break
		}
		w.emit(w.pending[:index])
		w.pending = w.pending[index+1:]
	}
	return len(p), nil
}

// Flush logs any buffered partial line.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) > 0 {
		w.emit(w.pending)
		w.pending = nil
	}
}

func (w *LineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	w.logger.Log(context.Background(), w.level, string(line), "stream", w.stream)
}
