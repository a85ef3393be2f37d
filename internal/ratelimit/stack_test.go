package ratelimit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCellUnlimitedByDefault(t *testing.T) {
	c := NewCell(nil)
	require.Equal(t, time.Duration(0), c.WaitN(1<<20))
}

func TestCellQuotaZeroMeansUnlimited(t *testing.T) {
	zero := 0
	c := NewCell(&zero)
	require.Equal(t, time.Duration(0), c.WaitN(1<<20))
}

func TestStackPicksMaxDelay(t *testing.T) {
	slow, fast := 10, 10_000_000
	stack := NewStack(NewCell(&fast), NewCell(&slow), nil)
	d := stack.WaitN(100)
	require.Greater(t, d, time.Duration(0))
}

// TestRateLimitedTransferPreservesBytes exercises testable property 5 and
// the SFTP round-trip property from spec §8: a rate-limited transfer of N
// bytes loses nothing and the hash matches once fully drained.
func TestRateLimitedTransferPreservesBytes(t *testing.T) {
	const quota = 1024 // bytes/sec
	payload := bytes.Repeat([]byte{0xAB}, 10*1024) // 10 KiB

	stack := NewStack(nil, NewCell(ptrInt(quota)), nil)
	reader := NewLimitedReader(context.Background(), bytes.NewReader(payload), stack)

	start := time.Now()
	got, err := io.ReadAll(reader)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Equal(t, sha256.Sum256(payload), sha256.Sum256(got))
	// 10KiB at 1024B/s takes several seconds of throttled reads; we don't
	// assert the full >=9s wall-clock bound here, only that throttling
	// clearly occurred (an unthrottled copy finishes in microseconds).
	require.Greater(t, elapsed, time.Second)
}

func ptrInt(v int) *int { return &v }
