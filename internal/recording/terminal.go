package recording

import (
	"context"
)

// TerminalRecorder captures a PTY session's stdin/stdout/stderr bytes as a
// sequence of timestamped Events, enough to reconstruct an asciicast-style
// playback (spec §4.7).
type TerminalRecorder struct {
	writer *Writer
}

// NewTerminalRecorder wraps an already-open Writer for a terminal session.
func NewTerminalRecorder(w *Writer) *TerminalRecorder {
	return &TerminalRecorder{writer: w}
}

// WriteOutput records bytes the server sent toward the client terminal.
func (r *TerminalRecorder) WriteOutput(ctx context.Context, data []byte) error {
	return r.writer.Write(ctx, "output", data)
}

// WriteInput records bytes the client typed.
func (r *TerminalRecorder) WriteInput(ctx context.Context, data []byte) error {
	return r.writer.Write(ctx, "input", data)
}

// Close finalizes the recording.
func (r *TerminalRecorder) Close() error {
	return r.writer.Close()
}
