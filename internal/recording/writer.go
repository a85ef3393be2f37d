// Package recording implements the append-only session recorders described
// in spec §4.7: terminal (asciicast-style JSONL), traffic (synthesized pcap
// for non-terminal TCP protocols), and Kubernetes exec/attach streams.
// Grounded on the teacher's lib/session recorder's bounded-channel-plus-
// drain-goroutine shape and on original_source's recordings/traffic.rs for
// the pcap synthesis semantics.
package recording

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

// Event is one recorded unit: `{t, data}` per spec.md's JSONL schema, plus
// a Channel tag (output/input for terminals; the stream name for
// Kubernetes exec/attach) needed because a single Writer multiplexes more
// than one byte stream for those two recorder kinds. T is the time elapsed
// since the writer started, in seconds.
type Event struct {
	T       float64 `json:"t"`
	Channel string  `json:"channel"`
	Data    []byte  `json:"data"`
}

// Writer is a bounded-channel JSONL sink: Write enqueues without blocking
// the hot path (an SSH channel, a SQL connection) on disk I/O; a background
// goroutine drains to the underlying io.WriteCloser and forwards the same
// raw bytes to sessionID's live-viewer broadcast Channel. Close waits,
// without a time bound, until everything queued has been written, then
// closes the sink and returns.
type Writer struct {
	sessionID uuid.UUID
	out       io.WriteCloser
	clock     clockwork.Clock
	started   time.Time
	queue     chan Event
	done      chan struct{}
	broadcast *Channel
	log       *log.Entry

	mu       sync.Mutex
	writeErr error
}

// DefaultQueueDepth bounds how many events can be buffered before Write
// starts applying backpressure to the caller.
const DefaultQueueDepth = 1024

// NewWriter starts the drain goroutine writing JSON-per-line Events to out
// and forwarding raw bytes to sessionID's live-viewer broadcast Channel.
func NewWriter(sessionID uuid.UUID, out io.WriteCloser, clock clockwork.Clock) *Writer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	w := &Writer{
		sessionID: sessionID,
		out:       out,
		clock:     clock,
		started:   clock.Now(),
		queue:     make(chan Event, DefaultQueueDepth),
		done:      make(chan struct{}),
		broadcast: broadcastChannelFor(sessionID),
		log:       log.WithField(trace.Component, "recording"),
	}
	go w.drain()
	return w
}

func (w *Writer) drain() {
	defer close(w.done)
	enc := json.NewEncoder(w.out)
	for ev := range w.queue {
		if err := enc.Encode(ev); err != nil {
			w.mu.Lock()
			w.writeErr = err
			w.mu.Unlock()
			w.log.WithError(err).Warn("recording write failed")
		}
	}
}

// Write enqueues a recorded chunk on channel, stamped with the elapsed time
// since the writer started. It blocks only if the queue is full, applying
// backpressure rather than growing memory unboundedly.
func (w *Writer) Write(ctx context.Context, channel string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	ev := Event{T: w.clock.Now().Sub(w.started).Seconds(), Channel: channel, Data: cp}
	select {
	case w.queue <- ev:
		w.broadcast.publish(data)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting writes, drains the queue, closes the sink, and
// retires sessionID's broadcast Channel.
func (w *Writer) Close() error {
	close(w.queue)
	<-w.done
	closeBroadcastChannel(w.sessionID)
	w.mu.Lock()
	err := w.writeErr
	w.mu.Unlock()
	if closeErr := w.out.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return trace.Wrap(err)
	}
	return nil
}
