package recording

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func TestWriterRoundTripsEvents(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWriter(uuid.New(), nopCloser{buf}, clockwork.NewFakeClock())

	require.NoError(t, w.Write(context.Background(), "output", []byte("hello")))
	require.NoError(t, w.Write(context.Background(), "input", []byte("world")))
	require.NoError(t, w.Close())

	scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	var events []Event
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	require.Equal(t, "output", events[0].Channel)
	require.Equal(t, []byte("hello"), events[0].Data)
	require.Equal(t, "input", events[1].Channel)
	require.Equal(t, []byte("world"), events[1].Data)
}

func TestWriterDrainsQueueOnClose(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWriter(uuid.New(), nopCloser{buf}, nil)
	for i := 0; i < 50; i++ {
		require.NoError(t, w.Write(context.Background(), "output", []byte("x")))
	}
	require.NoError(t, w.Close())

	scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	count := 0
	for scanner.Scan() {
		count++
	}
	require.Equal(t, 50, count)
}

// TestWriterBroadcastsToLiveViewer confirms a viewer subscribed via
// Subscribe before the Writer starts still receives every chunk written,
// and stops receiving once the Writer closes.
func TestWriterBroadcastsToLiveViewer(t *testing.T) {
	sessionID := uuid.New()
	viewer, cancel := Subscribe(sessionID)
	defer cancel()

	buf := &bytes.Buffer{}
	w := NewWriter(sessionID, nopCloser{buf}, clockwork.NewFakeClock())

	require.NoError(t, w.Write(context.Background(), "output", []byte("hi")))
	require.Equal(t, []byte("hi"), <-viewer)

	require.NoError(t, w.Close())
}
