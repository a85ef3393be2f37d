// Package transfer implements the SFTP and SCP wire inspectors that let
// Warpgate observe (and, per policy, deny) file transfers flowing through
// an SSH session without fully terminating the SFTP protocol itself
// (spec §4.9.1).
package transfer

import (
	"crypto/sha256"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/warpgated/warpgate/internal/wglog"
)

// DefaultHashThreshold is the largest transfer Warpgate will fingerprint;
// above it, hashing is skipped to avoid doing unbounded CPU work on huge
// uploads (spec §4.9.1).
const DefaultHashThreshold = 10 * 1024 * 1024

// Direction distinguishes upload from download for logging/policy purposes.
type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

// Session tracks one in-flight file transfer's byte count and, below
// DefaultHashThreshold, a running SHA-256 of its content.
type Session struct {
	Path      string
	Direction Direction
	Bytes     int64
	Hash      *[32]byte

	started time.Time
	hasher  interface{ Write([]byte) (int, error) }
	sum     func() [32]byte
}

// NewSession starts tracking a transfer of path in dir.
func NewSession(path string, dir Direction) *Session {
	h := sha256.New()
	return &Session{
		Path:      path,
		Direction: dir,
		started:   time.Now(),
		hasher:    h,
		sum:       func() [32]byte { var out [32]byte; copy(out[:], h.Sum(nil)); return out },
	}
}

// Observe records n more bytes of content, folding them into the running
// hash unless the transfer has already exceeded DefaultHashThreshold.
func (s *Session) Observe(chunk []byte) {
	s.Bytes += int64(len(chunk))
	if s.Bytes > DefaultHashThreshold {
		s.hasher = nil
		return
	}
	if s.hasher != nil {
		_, _ = s.hasher.Write(chunk)
	}
}

// Close finalizes the hash (if still tracked) and emits a structured log
// event with duration/bytes/hash, matching spec §4.9.1.
func (s *Session) Close() {
	entry := wglog.Component("transfer").WithFields(log.Fields{
		"path":      s.Path,
		"direction": s.Direction,
		"bytes":     s.Bytes,
		"duration":  time.Since(s.started),
	})
	if s.hasher != nil {
		sum := s.sum()
		s.Hash = &sum
		entry = entry.WithField("sha256", sum)
	}
	entry.Info("file transfer completed")
}
