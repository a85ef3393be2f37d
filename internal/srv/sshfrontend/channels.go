package sshfrontend

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/warpgated/warpgate/internal/config"
	"github.com/warpgated/warpgate/internal/ratelimit"
	"github.com/warpgated/warpgate/internal/recording"
	"github.com/warpgated/warpgate/internal/session"
	"github.com/warpgated/warpgate/internal/srv/sshfrontend/transfer"
)

// connSession bundles everything one accepted client SSH connection needs
// to service its channels: the client conn itself, the session handle, and
// the selected target. Each client channel gets its own goroutine per
// spec §9's "give each upstream channel its own task" redesign note,
// mirroring the teacher's per-channel task spawning in lib/srv.
type connSession struct {
	server   *Server
	sconn    *ssh.ServerConn
	handle   *session.Handle
	target   *config.Target
	username string
	log      *log.Entry
}

// dispatchChannels spawns one goroutine per incoming client channel until
// chans closes or ctx is cancelled.
func (cs *connSession) dispatchChannels(ctx context.Context, chans <-chan ssh.NewChannel) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case newChan, ok := <-chans:
			if !ok {
				return nil
			}
			go cs.handleChannel(ctx, newChan)
		}
	}
}

func (cs *connSession) handleChannel(ctx context.Context, newChan ssh.NewChannel) {
	if newChan.ChannelType() != "session" {
		newChan.Reject(ssh.UnknownChannelType, "unsupported channel type")
		return
	}

	clientCh, requests, err := newChan.Accept()
	if err != nil {
		cs.log.WithError(err).Warn("failed to accept channel")
		return
	}
	defer clientCh.Close()

	if cs.target.Options.Kind != config.TargetKindSSH {
		cs.log.Warn("ssh session channel requested against non-ssh target")
		return
	}

	upstream, err := dialUpstream(ctx, cs.target.Options.SSH, cs.server.knownHosts, cs.server.keys)
	if err != nil {
		cs.log.WithError(err).Warn("failed to dial upstream ssh target")
		return
	}
	defer upstream.Close()

	upstreamSess, err := upstream.NewSession()
	if err != nil {
		cs.log.WithError(err).Warn("failed to open upstream session")
		return
	}
	defer upstreamSess.Close()

	var limiters *ratelimit.Stack
	if cs.server.limiters != nil {
		limiters = cs.server.limiters(cs.username, cs.target.Name)
	}

	var trafficRec *recording.TrafficRecorder
	if cs.server.recordings != nil && cs.target.Options.SSH.RecordShellSessions {
		trafficRec, err = cs.server.recordings.StartTraffic(cs.handle.ID(), cs.target.Name,
			cs.sconn.RemoteAddr(), targetAddr(cs.target.Options.SSH.Host, cs.target.Options.SSH.Port))
		if err != nil {
			cs.log.WithError(err).Warn("failed to start traffic recorder")
		}
	}

	ch := &channelSession{
		cs:           cs,
		client:       clientCh,
		upstream:     upstreamSess,
		limiters:     limiters,
		ptyRequested: false,
		trafficRec:   trafficRec,
	}
	ch.serve(ctx, requests)
}

// targetAddr builds a synthetic net.Addr for pcap framing out of an SSH
// target's configured host/port; the pcap stream is a replay artifact, not
// a literal wire capture, so an unresolvable hostname falls back to a
// loopback-range placeholder rather than failing the session.
func targetAddr(host string, port int) net.Addr {
	ip := net.ParseIP(host)
	if ip == nil {
		ip = net.IPv4(127, 0, 0, 2)
	}
	return &net.TCPAddr{IP: ip, Port: port}
}

// channelSession tracks one SSH "session" channel's request stream and the
// matching upstream *ssh.Session, wiring stdin/stdout/stderr relay and
// recording.
type channelSession struct {
	cs           *connSession
	client       ssh.Channel
	upstream     *ssh.Session
	limiters     *ratelimit.Stack
	ptyRequested bool
	recorder     *recording.TerminalRecorder
	trafficRec   *recording.TrafficRecorder
}

func (ch *channelSession) serve(ctx context.Context, requests <-chan *ssh.Request) {
	upstreamIn, _ := ch.upstream.StdinPipe()
	upstreamOut, _ := ch.upstream.StdoutPipe()
	upstreamErr, _ := ch.upstream.StderrPipe()

	for req := range requests {
		ok := false
		switch req.Type {
		case "pty-req":
			ok = ch.handlePTYReq(req.Payload)
		case "window-change":
			ok = true
		case "env":
			ok = true
		case "shell":
			ok = ch.startShell(ctx, upstreamIn, upstreamOut, upstreamErr)
		case "exec":
			ok = ch.startExec(ctx, req.Payload, upstreamIn, upstreamOut, upstreamErr)
		case "subsystem":
			ok = ch.startSubsystem(ctx, req.Payload, upstreamIn, upstreamOut, upstreamErr)
		}
		if req.WantReply {
			req.Reply(ok, nil)
		}
	}

	if ch.recorder != nil {
		ch.recorder.Close()
	}
	if ch.trafficRec != nil {
		ch.trafficRec.Close()
	}
}

func (ch *channelSession) handlePTYReq(payload []byte) bool {
	ch.ptyRequested = true
	term, _, rest := parseString(payload)
	width, rest := parseUint32(rest)
	height, _ := parseUint32(rest)
	_ = rest
	if err := ch.upstream.RequestPty(term, int(height), int(width), ssh.TerminalModes{}); err != nil {
		ch.cs.log.WithError(err).Warn("upstream pty request failed")
		return false
	}
	if ch.cs.server.recordings != nil && ch.cs.target.Options.SSH.RecordShellSessions {
		rec, err := ch.cs.server.recordings.StartTerminal(ch.cs.handle.ID(), "shell")
		if err != nil {
			ch.cs.log.WithError(err).Warn("failed to start terminal recorder")
		} else {
			ch.recorder = rec
		}
	}
	return true
}

func (ch *channelSession) startShell(ctx context.Context, stdin io.WriteCloser, stdout, stderr io.Reader) bool {
	if err := ch.upstream.Shell(); err != nil {
		ch.cs.log.WithError(err).Warn("upstream shell failed")
		return false
	}
	ch.bridge(ctx, stdin, stdout, stderr)
	return true
}

func (ch *channelSession) startExec(ctx context.Context, payload []byte, stdin io.WriteCloser, stdout, stderr io.Reader) bool {
	cmd, _, _ := parseString(payload)

	if isSCPCommand(cmd) {
		return ch.startSCP(ctx, cmd, stdin, stdout, stderr)
	}

	if err := ch.upstream.Start(cmd); err != nil {
		ch.cs.log.WithError(err).Warn("upstream exec failed")
		return false
	}
	ch.bridge(ctx, stdin, stdout, stderr)
	return true
}

func (ch *channelSession) startSubsystem(ctx context.Context, payload []byte, stdin io.WriteCloser, stdout, stderr io.Reader) bool {
	name, _, _ := parseString(payload)
	if err := ch.upstream.RequestSubsystem(name); err != nil {
		ch.cs.log.WithError(err).Warn("upstream subsystem request failed")
		return false
	}
	if name == "sftp" {
		ch.bridgeWithSFTPInspection(ctx, stdin, stdout)
		return true
	}
	ch.bridge(ctx, stdin, stdout, stderr)
	return true
}

// bridge copies bytes bidirectionally between the client channel and the
// upstream session's stdio, applying rate limiting to client input and,
// when a terminal recorder is active, recording every chunk sent to the
// client (stdout and stderr).
func (ch *channelSession) bridge(ctx context.Context, upstreamIn io.WriteCloser, upstreamOut, upstreamErr io.Reader) {
	done := make(chan struct{}, 3)

	go func() {
		defer func() { done <- struct{}{} }()
		reader := io.Reader(ch.client)
		if ch.limiters != nil {
			reader = ratelimit.NewLimitedReader(ctx, reader, ch.limiters)
		}
		ch.copyFromClient(upstreamIn, reader)
		upstreamIn.Close()
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		ch.copyToClient(ctx, upstreamOut, "output")
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		ch.copyToClient(ctx, upstreamErr, "stderr")
	}()

	<-done
	ch.client.Close()
	<-done
	<-done
}

// copyFromClient relays bytes typed by the client toward the upstream
// session, recording each chunk to the traffic pcap when active.
func (ch *channelSession) copyFromClient(w io.Writer, r io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if ch.trafficRec != nil {
				ch.trafficRec.WriteClientToServer(chunk)
			}
			if _, werr := w.Write(chunk); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (ch *channelSession) copyToClient(ctx context.Context, r io.Reader, label string) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if ch.recorder != nil {
				ch.recorder.WriteOutput(ctx, chunk)
			}
			if ch.trafficRec != nil {
				ch.trafficRec.WriteServerToClient(chunk)
			}
			if label == "stderr" {
				ch.client.Stderr().Write(chunk)
			} else {
				ch.client.Write(chunk)
			}
		}
		if err != nil {
			return
		}
	}
}

// bridgeWithSFTPInspection relays SFTP wire bytes while feeding each
// length-prefixed packet through transfer.SFTPInspector.
func (ch *channelSession) bridgeWithSFTPInspection(ctx context.Context, upstreamIn io.WriteCloser, upstreamOut io.Reader) {
	inspector := transfer.NewSFTPInspector()
	if ch.cs.target.Options.SSH != nil && !ch.cs.target.Options.SSH.AllowFileUpload {
		inspector.Deny = func(path string, dir transfer.Direction) bool {
			return dir == transfer.DirectionUpload
		}
	}

	done := make(chan struct{}, 2)
	go func() {
		defer func() { done <- struct{}{} }()
		relaySFTPPackets(ch.client, upstreamIn, func(payload []byte) ([]byte, bool) {
			if ch.trafficRec != nil {
				ch.trafficRec.WriteClientToServer(payload)
			}
			ok, deny := inspector.InspectClientPacket(payload)
			if !ok {
				return deny, false
			}
			return payload, true
		})
		upstreamIn.Close()
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		relaySFTPPackets(upstreamOut, ch.client, func(payload []byte) ([]byte, bool) {
			if ch.trafficRec != nil {
				ch.trafficRec.WriteServerToClient(payload)
			}
			inspector.InspectServerPacket(payload)
			return payload, true
		})
	}()
	<-done
	ch.client.Close()
	<-done
}

// relaySFTPPackets copies one length-prefixed SFTP packet at a time from r
// to w, letting transform rewrite or replace the payload (used to splice in
// a denial SSH_FXP_STATUS in place of a forbidden OPEN).
func relaySFTPPackets(r io.Reader, w io.Writer, transform func(payload []byte) ([]byte, bool)) {
	lenBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(lenBuf)
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			return
		}
		out, relay := transform(payload)
		outLen := make([]byte, 4)
		binary.BigEndian.PutUint32(outLen, uint32(len(out)))
		if _, err := w.Write(outLen); err != nil {
			return
		}
		if _, err := w.Write(out); err != nil {
			return
		}
		_ = relay
	}
}

func isSCPCommand(cmd string) bool {
	return strings.Contains(cmd, "scp ") && (strings.Contains(cmd, " -t ") || strings.Contains(cmd, " -f "))
}

func (ch *channelSession) startSCP(ctx context.Context, cmd string, stdin io.WriteCloser, stdout, stderr io.Reader) bool {
	if err := ch.upstream.Start(cmd); err != nil {
		ch.cs.log.WithError(err).Warn("upstream scp exec failed")
		return false
	}

	inspector := transfer.NewSCPInspector()
	if strings.Contains(cmd, " -t ") && ch.cs.target.Options.SSH != nil && !ch.cs.target.Options.SSH.AllowFileUpload {
		inspector.Deny = func(string, transfer.Direction) bool { return true }
	}

	done := make(chan struct{}, 3)
	go func() {
		defer func() { done <- struct{}{} }()
		buf := make([]byte, 32*1024)
		for {
			n, err := ch.client.Read(buf)
			if n > 0 {
				ok, denyLine := inspector.ObserveChunk(buf[:n])
				if !ok {
					ch.client.Write([]byte(denyLine))
					break
				}
				stdin.Write(buf[:n])
			}
			if err != nil {
				break
			}
		}
		stdin.Close()
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		io.Copy(ch.client, stdout)
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		io.Copy(ch.client.Stderr(), stderr)
	}()
	<-done
	ch.client.Close()
	<-done
	<-done
	return true
}

func parseString(b []byte) (string, []byte, []byte) {
	if len(b) < 4 {
		return "", nil, b
	}
	n := binary.BigEndian.Uint32(b[:4])
	if uint32(len(b)-4) < n {
		return "", nil, b
	}
	return string(b[4 : 4+n]), b[:4+n], b[4+n:]
}

func parseUint32(b []byte) (uint32, []byte) {
	if len(b) < 4 {
		return 0, b
	}
	return binary.BigEndian.Uint32(b[:4]), b[4:]
}
