package recording

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// frameBuilder synthesizes fake Ethernet/IPv4/TCP frames for a single
// connection so that captured application bytes can be replayed in any
// standard pcap viewer, matching original_source's recordings/traffic.rs
// approach of treating the recording as a loopback-style capture rather
// than a literal wire capture. Sequence numbers are maintained per
// direction and wrap per TCP semantics (uint32 overflow is intentional).
type frameBuilder struct {
	clientIP, serverIP     net.IP
	clientPort, serverPort layers.TCPPort
	clientMAC, serverMAC   net.HardwareAddr

	clientSeq, serverSeq uint32
}

var (
	syntheticClientMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	syntheticServerMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

func newFrameBuilder(clientAddr, serverAddr net.Addr) *frameBuilder {
	fb := &frameBuilder{
		clientMAC: syntheticClientMAC,
		serverMAC: syntheticServerMAC,
	}
	if tcp, ok := clientAddr.(*net.TCPAddr); ok {
		fb.clientIP = tcp.IP
		fb.clientPort = layers.TCPPort(tcp.Port)
	} else {
		fb.clientIP = net.IPv4(127, 0, 0, 1)
	}
	if tcp, ok := serverAddr.(*net.TCPAddr); ok {
		fb.serverIP = tcp.IP
		fb.serverPort = layers.TCPPort(tcp.Port)
	} else {
		fb.serverIP = net.IPv4(127, 0, 0, 2)
	}
	return fb
}

// direction selects which side is "source" for a segment so sequence
// numbers advance independently per endpoint.
type direction int

const (
	clientToServer direction = iota
	serverToClient
)

// frame serializes a single Ethernet+IPv4+TCP+payload frame for tcp flowing
// in dir, filling in addressing and the current sequence/ack numbers for
// that direction before advancing clientSeq/serverSeq by advance.
func (fb *frameBuilder) frame(dir direction, tcp *layers.TCP, payload []byte, advance uint32) ([]byte, error) {
	eth := &layers.Ethernet{EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP}
	tcp.Window = 65535

	switch dir {
	case clientToServer:
		eth.SrcMAC, eth.DstMAC = fb.clientMAC, fb.serverMAC
		ip.SrcIP, ip.DstIP = fb.clientIP, fb.serverIP
		tcp.SrcPort, tcp.DstPort = fb.clientPort, fb.serverPort
		tcp.Seq, tcp.Ack = fb.clientSeq, fb.serverSeq
		fb.clientSeq += advance
	case serverToClient:
		eth.SrcMAC, eth.DstMAC = fb.serverMAC, fb.clientMAC
		ip.SrcIP, ip.DstIP = fb.serverIP, fb.clientIP
		tcp.SrcPort, tcp.DstPort = fb.serverPort, fb.clientPort
		tcp.Seq, tcp.Ack = fb.serverSeq, fb.clientSeq
		fb.serverSeq += advance
	}

	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// buildSegment returns a fully serialized Ethernet+IPv4+TCP+payload frame
// for data flowing in dir, advancing that direction's sequence number by
// len(payload) (mod 2^32, matching TCP's wrapping sequence space).
func (fb *frameBuilder) buildSegment(dir direction, payload []byte) ([]byte, error) {
	tcp := &layers.TCP{PSH: true, ACK: true}
	return fb.frame(dir, tcp, payload, uint32(len(payload)))
}

// buildHandshake returns the per-direction SYN, SYN-ACK, and ACK frames
// that open the synthesized connection, each consuming one sequence number
// the way a real three-way handshake does, so a capture viewer sees a
// complete TCP stream rather than data frames appearing out of nowhere.
func (fb *frameBuilder) buildHandshake() ([][]byte, error) {
	syn, err := fb.frame(clientToServer, &layers.TCP{SYN: true}, nil, 1)
	if err != nil {
		return nil, err
	}
	synAck, err := fb.frame(serverToClient, &layers.TCP{SYN: true, ACK: true}, nil, 1)
	if err != nil {
		return nil, err
	}
	ack, err := fb.frame(clientToServer, &layers.TCP{ACK: true}, nil, 0)
	if err != nil {
		return nil, err
	}
	return [][]byte{syn, synAck, ack}, nil
}
