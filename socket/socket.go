// Package socket implements the application-facing TCP socket API: a
// listen table and a four-tuple-keyed connection table driven by a single
// per-node event loop, with each connection owning a TCPSender and
// TCPReceiver pair over its own ByteStreams.
package socket

import (
	"io"
	"net/netip"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"ip-tcp-stack/bytestream"
	"ip-tcp-stack/tcpmsg"
	"ip-tcp-stack/tcpreceiver"
	"ip-tcp-stack/tcpsender"
	"ip-tcp-stack/wire"
	"ip-tcp-stack/wrap32"
)

const streamCapacity = 64 * 1024
const initialRTOMs = 1000

// ConnState mirrors the classic TCP state names; this stack only
// implements the subset needed to drive the sender/receiver pair
// through a full connection lifecycle.
type ConnState int

const (
	StateListen ConnState = iota
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait
	StateClosed
)

// FourTuple identifies one TCP connection.
type FourTuple struct {
	LocalAddr  netip.Addr
	LocalPort  uint16
	RemoteAddr netip.Addr
	RemotePort uint16
}

// TransmitFunc hands a ready-to-send segment, addressed to remoteAddr, to
// the IP layer.
type TransmitFunc func(seg wire.TCPSegment, localAddr, remoteAddr netip.Addr)

// Connection is one established (or establishing) TCP connection.
type Connection struct {
	ID    uint32
	Tuple FourTuple
	State ConnState

	sender   *tcpsender.TCPSender
	receiver *tcpreceiver.TCPReceiver

	lastAckSent *wrap32.Wrap32

	stack *Stack
}

// Reader exposes the connection's inbound ByteStream reader.
func (c *Connection) Reader() *bytestream.Reader { return c.receiver.Reader() }

// Writer exposes the connection's outbound ByteStream writer.
func (c *Connection) Writer() *bytestream.Writer { return c.sender.Writer() }

// VWrite pushes data into the connection's outbound stream and
// immediately pumps the sender, returning the number of bytes accepted
// (which may be less than len(data) if the stream is near capacity).
func (c *Connection) VWrite(data []byte) (int, error) {
	if c.State == StateClosed {
		return 0, errors.New("connection closed")
	}
	before := c.Writer().BytesPushed()
	c.Writer().Push(data)
	n := int(c.Writer().BytesPushed() - before)
	c.stack.pump(c)
	return n, nil
}

// VRead copies up to len(buf) bytes out of the connection's inbound
// stream. It never blocks: if nothing is buffered and the stream is not
// finished, it returns (0, nil) — the caller is expected to poll or be
// driven by the owning event loop.
func (c *Connection) VRead(buf []byte) (int, error) {
	reader := c.Reader()
	if reader.BytesBuffered() == 0 {
		if reader.IsFinished() {
			return 0, io.EOF
		}
		return 0, nil
	}
	n := copy(buf, reader.Peek())
	reader.Pop(uint64(n))
	return n, nil
}

// VClose marks the outbound stream closed, allowing the sender to emit a
// final FIN once queued data drains.
func (c *Connection) VClose() {
	c.Writer().Close()
	c.stack.pump(c)
}

// Listener accepts inbound connections on a bound local port.
type Listener struct {
	Port    uint16
	backlog []*Connection
}

// Stack owns the listen table and connection table for one node, and is
// the single event loop every inbound segment and every tick passes
// through.
type Stack struct {
	localAddr netip.Addr
	transmit  TransmitFunc

	ListenTable      map[uint16]*Listener
	ConnectionsTable map[FourTuple]*Connection
	nextSocketID     uint32

	log *logrus.Entry
}

// New constructs a Stack bound to localAddr, handing ready segments to
// transmit.
func New(localAddr netip.Addr, transmit TransmitFunc) *Stack {
	return &Stack{
		localAddr:        localAddr,
		transmit:         transmit,
		ListenTable:      make(map[uint16]*Listener),
		ConnectionsTable: make(map[FourTuple]*Connection),
		log:              logrus.WithField("component", "socket"),
	}
}

// VListen registers a passive-open socket on port.
func (s *Stack) VListen(port uint16) (*Listener, error) {
	if _, exists := s.ListenTable[port]; exists {
		return nil, errors.Errorf("port %d already listening", port)
	}
	l := &Listener{Port: port}
	s.ListenTable[port] = l
	return l, nil
}

// VAccept returns the next inbound connection queued on l, or an error if
// none is waiting yet — callers poll this the way they poll VRead.
func (l *Listener) VAccept() (*Connection, error) {
	if len(l.backlog) == 0 {
		return nil, errors.New("no pending connection")
	}
	conn := l.backlog[0]
	l.backlog = l.backlog[1:]
	return conn, nil
}

func (s *Stack) newConnection(tuple FourTuple, isn wrap32.Wrap32) *Connection {
	s.nextSocketID++
	conn := &Connection{
		ID:       s.nextSocketID,
		Tuple:    tuple,
		sender:   tcpsender.New(bytestream.New(streamCapacity), isn, initialRTOMs),
		receiver: tcpreceiver.New(bytestream.New(streamCapacity)),
		stack:    s,
	}
	s.ConnectionsTable[tuple] = conn
	return conn
}

// VConnect initiates an active-open connection to remoteAddr:remotePort.
func (s *Stack) VConnect(remoteAddr netip.Addr, remotePort uint16) (*Connection, error) {
	tuple := FourTuple{LocalAddr: s.localAddr, LocalPort: s.ephemeralPort(), RemoteAddr: remoteAddr, RemotePort: remotePort}
	conn := s.newConnection(tuple, isnForTuple(tuple))
	conn.State = StateSynSent
	s.pump(conn)
	return conn, nil
}

// ephemeralPort picks an unused local port above the well-known range.
func (s *Stack) ephemeralPort() uint16 {
	port := uint16(49152)
	for {
		inUse := false
		for tuple := range s.ConnectionsTable {
			if tuple.LocalPort == port {
				inUse = true
				break
			}
		}
		if !inUse {
			return port
		}
		port++
	}
}

// isnForTuple derives a deterministic-enough initial sequence number; a
// production stack would randomize this per RFC 793 but determinism
// keeps this stack's REPL and tests reproducible.
func isnForTuple(tuple FourTuple) wrap32.Wrap32 {
	h := uint32(tuple.LocalPort)<<16 ^ uint32(tuple.RemotePort)
	return wrap32.FromRaw(h)
}

// HandleSegment dispatches one inbound TCP segment to the matching
// connection, or to a listener to spawn a new one.
func (s *Stack) HandleSegment(seg wire.TCPSegment, srcAddr, dstAddr netip.Addr) {
	tuple := FourTuple{LocalAddr: dstAddr, LocalPort: seg.DstPort, RemoteAddr: srcAddr, RemotePort: seg.SrcPort}

	if conn, ok := s.ConnectionsTable[tuple]; ok {
		s.deliver(conn, seg)
		return
	}

	listener, ok := s.ListenTable[seg.DstPort]
	if !ok {
		s.log.WithField("tuple", tuple).Debug("dropping segment: no listener or connection")
		return
	}
	if !seg.SYN {
		return
	}

	conn := s.newConnection(tuple, isnForTuple(tuple))
	conn.State = StateSynReceived
	conn.receiver.Receive(tcpmsg.SenderMessage{Seqno: wrap32.FromRaw(seg.SeqNum), SYN: true})
	s.pump(conn)
	listener.backlog = append(listener.backlog, conn)
}

func (s *Stack) deliver(conn *Connection, seg wire.TCPSegment) {
	senderMsg := tcpmsg.SenderMessage{
		Seqno:   wrap32.FromRaw(seg.SeqNum),
		SYN:     seg.SYN,
		FIN:     seg.FIN,
		RST:     seg.RST,
		Payload: seg.Payload,
	}
	conn.receiver.Receive(senderMsg)

	if seg.HasAck {
		ackno := wrap32.FromRaw(seg.AckNum)
		conn.sender.Receive(tcpmsg.ReceiverMessage{Ackno: &ackno, WindowSize: seg.Window})
	}

	switch conn.State {
	case StateSynSent:
		if seg.SYN && seg.HasAck {
			conn.State = StateEstablished
		}
	case StateSynReceived:
		if seg.HasAck {
			conn.State = StateEstablished
		}
	}

	s.pump(conn)
}

// pump drives the connection's sender, which transmits any new or
// retransmitted segments; if the sender has nothing new to say but the
// receiver's ackno has moved since the last segment we sent, emit an
// empty segment to carry it (a standalone ACK, as in a SYN-ACK or
// pure-ack handshake step). Comparing against lastAckSent avoids an
// infinite ping-pong of empty acks between two idle peers.
func (s *Stack) pump(conn *Connection) {
	sent := false
	conn.sender.Push(func(msg tcpmsg.SenderMessage) {
		sent = true
		s.send(conn, msg)
	})
	if sent {
		return
	}
	recvMsg := conn.receiver.Send()
	if recvMsg.Ackno != nil && (conn.lastAckSent == nil || conn.lastAckSent.Raw() != recvMsg.Ackno.Raw()) {
		s.send(conn, conn.sender.MakeEmptyMessage())
	}
}

func (s *Stack) send(conn *Connection, msg tcpmsg.SenderMessage) {
	recvMsg := conn.receiver.Send()
	seg := wire.TCPSegment{
		SrcPort: conn.Tuple.LocalPort,
		DstPort: conn.Tuple.RemotePort,
		SeqNum:  msg.Seqno.Raw(),
		SYN:     msg.SYN,
		FIN:     msg.FIN,
		RST:     msg.RST,
		Payload: msg.Payload,
	}
	if recvMsg.Ackno != nil {
		seg.HasAck = true
		seg.AckNum = recvMsg.Ackno.Raw()
		seg.Window = recvMsg.WindowSize
		conn.lastAckSent = recvMsg.Ackno
	}
	s.transmit(seg, conn.Tuple.LocalAddr, conn.Tuple.RemoteAddr)
}

// Tick advances every connection's retransmission timer.
func (s *Stack) Tick(elapsedMs uint64) {
	for _, conn := range s.ConnectionsTable {
		conn.sender.Tick(elapsedMs, func(msg tcpmsg.SenderMessage) {
			s.send(conn, msg)
		})
	}
}
