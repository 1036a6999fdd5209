// Package tcpsender implements the egress side of a TCP connection: turning
// bytes pushed into an outbound ByteStream into TCPSenderMessages, tracking
// outstanding segments, and driving retransmission off a caller-supplied
// tick.
package tcpsender

import (
	"container/list"

	"github.com/sirupsen/logrus"

	"ip-tcp-stack/bytestream"
	"ip-tcp-stack/tcpmsg"
	"ip-tcp-stack/wrap32"
)

// MaxPayloadSize is the MSS-equivalent cap on a single segment's payload,
// not counting SYN/FIN.
const MaxPayloadSize = 1000

// outstandingSegment is the record kept per in-flight segment so it can be
// reconstructed byte-for-byte on retransmission.
type outstandingSegment struct {
	firstSeqno uint64
	syn        bool
	fin        bool
	payload    []byte
}

func (s outstandingSegment) sequenceLength() uint64 {
	n := uint64(len(s.payload))
	if s.syn {
		n++
	}
	if s.fin {
		n++
	}
	return n
}

// TransmitFunc is called once per segment TCPSender wants put on the wire.
type TransmitFunc func(tcpmsg.SenderMessage)

// TCPSender reads an outbound ByteStream and emits TCPSenderMessages,
// retransmitting on timeout per a classic exponential-backoff RTO.
type TCPSender struct {
	outbound *bytestream.ByteStream
	isn      wrap32.Wrap32

	absSeqno                   uint64
	absAckno                   uint64
	rwnd                       uint16
	sequenceNumbersInFlight    uint64
	consecutiveRetransmissions uint64

	initialRTOMs uint64
	rtoMs        uint64
	rtoTimer     uint64
	rtoRunning   bool

	firstMsgSent bool
	finished     bool

	outstanding *list.List // of outstandingSegment

	log *logrus.Entry
}

// New constructs a TCPSender over outbound with the given initial sequence
// number and initial retransmission timeout.
func New(outbound *bytestream.ByteStream, isn wrap32.Wrap32, initialRTOMs uint64) *TCPSender {
	return &TCPSender{
		outbound:     outbound,
		isn:          isn,
		rwnd:         1,
		initialRTOMs: initialRTOMs,
		rtoMs:        initialRTOMs,
		outstanding:  list.New(),
		log:          logrus.WithField("component", "tcpsender"),
	}
}

// Writer exposes the outbound stream's Writer view for the application.
func (s *TCPSender) Writer() *bytestream.Writer { return s.outbound.Writer() }

func (s *TCPSender) SequenceNumbersInFlight() uint64 { return s.sequenceNumbersInFlight }
func (s *TCPSender) ConsecutiveRetransmissions() uint64 { return s.consecutiveRetransmissions }

// MakeEmptyMessage returns a segment with no flags and no payload, the form
// used to surface a local RST when otherwise idle.
func (s *TCPSender) MakeEmptyMessage() tcpmsg.SenderMessage {
	return tcpmsg.SenderMessage{
		Seqno: wrap32.Wrap(s.absSeqno, s.isn),
		RST:   s.outbound.Writer().HasError(),
	}
}

// Push emits as many new segments as the advertised window allows.
func (s *TCPSender) Push(transmit TransmitFunc) {
	reader := s.outbound.Reader()

	for !s.finished {
		window := uint64(s.rwnd)
		if window == 0 {
			window = 1
		}
		if s.sequenceNumbersInFlight >= window {
			return
		}
		budget := window - s.sequenceNumbersInFlight
		if budget > MaxPayloadSize+2 {
			budget = MaxPayloadSize + 2
		}
		if budget == 0 {
			return
		}

		seg := tcpmsg.SenderMessage{
			Seqno: wrap32.Wrap(s.absSeqno, s.isn),
			RST:   reader.HasError(),
		}

		if !s.firstMsgSent {
			s.firstMsgSent = true
			seg.SYN = true
			budget--
		}

		payloadLen := budget
		if payloadLen > MaxPayloadSize {
			payloadLen = MaxPayloadSize
		}
		if buffered := reader.BytesBuffered(); payloadLen > buffered {
			payloadLen = buffered
		}
		if payloadLen > 0 {
			seg.Payload = append([]byte(nil), reader.Peek()[:payloadLen]...)
			reader.Pop(payloadLen)
		}
		budget -= payloadLen

		if reader.IsFinished() && budget > 0 {
			seg.FIN = true
			s.finished = true
		}

		seqLen := seg.SequenceLength()
		if seqLen == 0 {
			return
		}

		// Record the segment before handing it to transmit, so a transmit
		// callback that synchronously delivers the peer's ack back into
		// Receive finds it outstanding.
		s.outstanding.PushBack(outstandingSegment{
			firstSeqno: s.absSeqno,
			syn:        seg.SYN,
			fin:        seg.FIN,
			payload:    seg.Payload,
		})

		s.absSeqno += seqLen
		s.sequenceNumbersInFlight += seqLen

		if !s.rtoRunning {
			s.rtoRunning = true
			s.rtoTimer = 0
			s.rtoMs = s.initialRTOMs
		}

		transmit(seg)
	}
}

// Receive processes an ackno/window update from the peer.
func (s *TCPSender) Receive(msg tcpmsg.ReceiverMessage) {
	if msg.Ackno == nil {
		if msg.WindowSize == 0 {
			s.outbound.Writer().SetError()
			return
		}
		if s.absAckno == 0 {
			s.rwnd = msg.WindowSize
		}
		return
	}

	acknoAbs := msg.Ackno.Unwrap(s.isn, s.absAckno)
	if acknoAbs < s.absAckno || acknoAbs > s.absSeqno {
		return
	}

	s.absAckno = acknoAbs
	s.rwnd = msg.WindowSize

	for s.outstanding.Len() > 0 {
		front := s.outstanding.Front().Value.(outstandingSegment)
		seqLen := front.sequenceLength()
		if seqLen == 0 {
			seqLen = 1
		}
		if s.absAckno < front.firstSeqno+seqLen {
			break
		}
		s.outstanding.Remove(s.outstanding.Front())
		s.sequenceNumbersInFlight -= seqLen
		s.rtoMs = s.initialRTOMs
		s.rtoTimer = 0
		s.consecutiveRetransmissions = 0
	}

	if s.outstanding.Len() == 0 {
		s.rtoRunning = false
		s.rtoTimer = 0
		s.rtoMs = s.initialRTOMs
	}
}

// Tick advances the RTO timer, retransmitting the oldest outstanding
// segment and backing off when it fires.
func (s *TCPSender) Tick(elapsedMs uint64, transmit TransmitFunc) {
	if !s.rtoRunning {
		return
	}
	s.rtoTimer += elapsedMs
	if s.rtoTimer < s.rtoMs || s.outstanding.Len() == 0 {
		return
	}
	s.rtoTimer = 0

	front := s.outstanding.Front().Value.(outstandingSegment)
	seg := tcpmsg.SenderMessage{
		Seqno:   wrap32.Wrap(front.firstSeqno, s.isn),
		SYN:     front.syn,
		FIN:     front.fin,
		Payload: front.payload,
		RST:     s.outbound.Writer().HasError(),
	}

	s.log.WithFields(logrus.Fields{
		"seqno":   front.firstSeqno,
		"attempt": s.consecutiveRetransmissions + 1,
		"rtoMs":   s.rtoMs,
	}).Debug("retransmitting segment on rto timeout")
	transmit(seg)

	s.consecutiveRetransmissions++
	if s.rwnd > 0 {
		s.rtoMs <<= 1
	}
}
