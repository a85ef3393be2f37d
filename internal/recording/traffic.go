package recording

import (
	"io"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
)

// TrafficRecorder captures raw bytes crossing a non-terminal TCP connection
// (MySQL, Postgres, Kubernetes API, plain TCP targets) as a standard pcap
// file by synthesizing loopback-style Ethernet/IPv4/TCP framing around each
// write, per spec §4.7.
type TrafficRecorder struct {
	fb     *frameBuilder
	pcapW  *pcapgo.Writer
	out    io.Closer
	clock  clockwork.Clock
}

// NewTrafficRecorder opens a pcap stream on out, writing its global header
// immediately, and returns a recorder ready to accept segments between
// clientAddr and serverAddr.
func NewTrafficRecorder(out io.WriteCloser, clientAddr, serverAddr net.Addr, clock clockwork.Clock) (*TrafficRecorder, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	w := pcapgo.NewWriter(out)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return nil, trace.Wrap(err)
	}

	fb := newFrameBuilder(clientAddr, serverAddr)
	rec := &TrafficRecorder{fb: fb, pcapW: w, out: out, clock: clock}
	if err := rec.writeHandshake(); err != nil {
		return nil, trace.Wrap(err)
	}
	return rec, nil
}

// writeHandshake emits the synthetic SYN/SYN-ACK/ACK frames that open the
// captured stream, so the pcap reassembles as a complete TCP connection
// rather than starting mid-stream.
func (r *TrafficRecorder) writeHandshake() error {
	frames, err := r.fb.buildHandshake()
	if err != nil {
		return trace.Wrap(err)
	}
	for _, frame := range frames {
		info := gopacket.CaptureInfo{Timestamp: r.clock.Now(), CaptureLength: len(frame), Length: len(frame)}
		if err := r.pcapW.WritePacket(info, frame); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

func (r *TrafficRecorder) writeDirection(dir direction, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	frame, err := r.fb.buildSegment(dir, payload)
	if err != nil {
		return trace.Wrap(err)
	}
	now := r.clock.Now()
	info := gopacket.CaptureInfo{Timestamp: now, CaptureLength: len(frame), Length: len(frame)}
	return trace.Wrap(r.pcapW.WritePacket(info, frame))
}

// WriteClientToServer records bytes sent from the connecting client upstream.
func (r *TrafficRecorder) WriteClientToServer(payload []byte) error {
	return r.writeDirection(clientToServer, payload)
}

// WriteServerToClient records bytes returned by the target.
func (r *TrafficRecorder) WriteServerToClient(payload []byte) error {
	return r.writeDirection(serverToClient, payload)
}

// Close closes the underlying pcap file.
func (r *TrafficRecorder) Close() error {
	return trace.Wrap(r.out.Close())
}
