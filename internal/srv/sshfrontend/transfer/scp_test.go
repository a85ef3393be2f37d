package transfer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSCPInspectorTracksUploadBytes(t *testing.T) {
	ins := NewSCPInspector()

	content := []byte("hello world")
	control := "C0644 11 greeting.txt\n"

	ok, _ := ins.ObserveChunk([]byte(control))
	require.True(t, ok)
	require.NotNil(t, ins.current)
	require.Equal(t, int64(11), ins.remaining)

	ok, _ = ins.ObserveChunk(content)
	require.True(t, ok)
	require.Nil(t, ins.current, "session should close once all bytes arrive")
}

func TestSCPInspectorDeniesByPolicy(t *testing.T) {
	ins := NewSCPInspector()
	ins.Deny = func(path string, dir Direction) bool { return path == "secret.txt" }

	ok, denyLine := ins.ObserveChunk([]byte("C0644 3 secret.txt\n"))
	require.False(t, ok)
	require.Contains(t, denyLine, "denied")
}

func TestSCPInspectorHandlesSplitChunks(t *testing.T) {
	ins := NewSCPInspector()
	ok, _ := ins.ObserveChunk([]byte("C0644 5 part"))
	require.True(t, ok)
	ok, _ = ins.ObserveChunk([]byte(".txt\nhello"))
	require.True(t, ok)
	require.Nil(t, ins.current)
}
