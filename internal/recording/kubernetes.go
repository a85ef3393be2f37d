package recording

import "context"

// KubernetesRecorder captures the multiplexed stdout/stderr/stdin streams of
// an `exec`/`attach` session, reusing the Writer JSONL format terminal
// sessions use since both are, fundamentally, timestamped byte streams
// (spec §4.7 Non-goals note SPDY channel framing is out of scope; only the
// decoded stream content is recorded).
type KubernetesRecorder struct {
	writer *Writer
}

// NewKubernetesRecorder wraps an already-open Writer for an exec/attach
// session.
func NewKubernetesRecorder(w *Writer) *KubernetesRecorder {
	return &KubernetesRecorder{writer: w}
}

// WriteStream records a chunk from one of "stdout", "stderr", "stdin".
func (r *KubernetesRecorder) WriteStream(ctx context.Context, stream string, data []byte) error {
	return r.writer.Write(ctx, stream, data)
}

// Close finalizes the recording.
func (r *KubernetesRecorder) Close() error {
	return r.writer.Close()
}
