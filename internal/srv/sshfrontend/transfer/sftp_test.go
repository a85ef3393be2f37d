package transfer

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildOpen(reqID uint32, path string, pflags uint32) []byte {
	buf := []byte{fxpOpen}
	buf = appendUint32(buf, reqID)
	buf = appendString(buf, path)
	buf = appendUint32(buf, pflags)
	buf = appendUint32(buf, 0) // attrs placeholder
	return buf
}

func buildHandle(reqID uint32, handle string) []byte {
	buf := []byte{fxpHandle}
	buf = appendUint32(buf, reqID)
	buf = appendString(buf, handle)
	return buf
}

func buildWrite(reqID uint32, handle string, offset uint64, data []byte) []byte {
	buf := []byte{fxpWrite}
	buf = appendUint32(buf, reqID)
	buf = appendString(buf, handle)
	offBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(offBytes, offset)
	buf = append(buf, offBytes...)
	buf = appendString(buf, string(data))
	return buf
}

func buildClose(reqID uint32, handle string) []byte {
	buf := []byte{fxpClose}
	buf = appendUint32(buf, reqID)
	buf = appendString(buf, handle)
	return buf
}

func appendUint32(buf []byte, v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return append(buf, b...)
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	return append(buf, []byte(s)...)
}

func TestSFTPInspectorTracksUploadAcrossOpenWriteClose(t *testing.T) {
	ins := NewSFTPInspector()

	ok, deny := ins.InspectClientPacket(buildOpen(1, "/tmp/foo", flagWrite))
	require.True(t, ok)
	require.Nil(t, deny)

	ins.InspectServerPacket(buildHandle(1, "h1"))
	require.Contains(t, ins.sessions, "h1")

	ok, _ = ins.InspectClientPacket(buildWrite(2, "h1", 0, []byte("payload")))
	require.True(t, ok)
	require.Equal(t, int64(len("payload")), ins.sessions["h1"].Bytes)

	ok, _ = ins.InspectClientPacket(buildClose(3, "h1"))
	require.True(t, ok)
	require.NotContains(t, ins.sessions, "h1")
}

func TestSFTPInspectorDeniesByPolicy(t *testing.T) {
	ins := NewSFTPInspector()
	ins.Deny = func(path string, dir Direction) bool { return path == "/secret" }

	ok, deny := ins.InspectClientPacket(buildOpen(1, "/secret", flagWrite))
	require.False(t, ok)
	require.NotEmpty(t, deny)
	require.Equal(t, byte(fxpStatus), deny[0])
}
