package recording

import (
	"sync"

	"github.com/google/uuid"
)

// liveViewers is the process-wide registry of per-session broadcast
// channels, keyed by session ID, so a Writer started anywhere in the
// process can be found by whatever front-end wants to attach a live
// viewer to it.
var liveViewers sync.Map

// Channel fans out raw recorded bytes to live viewers of one session. Sends
// are non-blocking: a slow viewer misses bytes rather than stalling the
// recording writer, mirroring internal/session.Registry's broadcast set.
type Channel struct {
	mu   sync.RWMutex
	subs map[chan []byte]struct{}
}

func newChannel() *Channel {
	return &Channel{subs: map[chan []byte]struct{}{}}
}

func (c *Channel) publish(data []byte) {
	if c == nil {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)

	c.mu.RLock()
	defer c.mu.RUnlock()
	for ch := range c.subs {
		select {
		case ch <- cp:
		default:
		}
	}
}

// Subscribe returns a channel of raw bytes written to sessionID's active
// recording as they arrive, and a cancel func that stops delivery. It
// works whether or not a Writer for sessionID exists yet: the broadcast
// Channel is created lazily and looked up by whichever side (viewer or
// writer) arrives first.
func Subscribe(sessionID uuid.UUID) (<-chan []byte, func()) {
	v, _ := liveViewers.LoadOrStore(sessionID, newChannel())
	c := v.(*Channel)

	ch := make(chan []byte, 32)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		delete(c.subs, ch)
		c.mu.Unlock()
	}
	return ch, cancel
}

// broadcastChannelFor returns the Channel a Writer for sessionID should
// publish to, creating it if no viewer has subscribed yet.
func broadcastChannelFor(sessionID uuid.UUID) *Channel {
	v, _ := liveViewers.LoadOrStore(sessionID, newChannel())
	return v.(*Channel)
}

// closeBroadcastChannel drops sessionID's entry once its Writer closes, so
// finished sessions don't accumulate in the map forever.
func closeBroadcastChannel(sessionID uuid.UUID) {
	liveViewers.Delete(sessionID)
}
