package wire

import (
	"encoding/binary"

	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"
)

const tcpHeaderLen = 20

// TCPSegment is the byte-exact wire form of a TCP segment: one real TCP
// header piggybacks both a TCPSenderMessage (seqno/SYN/payload/FIN) and,
// when HasAck is set, a TCPReceiverMessage (ackno/window) for the reverse
// direction of the same connection.
type TCPSegment struct {
	SrcPort, DstPort uint16
	SeqNum           uint32
	AckNum           uint32
	HasAck           bool
	SYN, FIN, RST    bool
	Window           uint16
	Payload          []byte
}

// EncodeTCPSegment serializes a segment, computing the checksum over the
// IPv4 pseudo-header per RFC 793.
func EncodeTCPSegment(seg TCPSegment, src, dst [4]byte) []byte {
	var flags uint8
	if seg.FIN {
		flags |= header.TCPFlagFin
	}
	if seg.SYN {
		flags |= header.TCPFlagSyn
	}
	if seg.RST {
		flags |= header.TCPFlagRst
	}
	if seg.HasAck {
		flags |= header.TCPFlagAck
	}

	fields := header.TCPFields{
		SrcPort:       seg.SrcPort,
		DstPort:       seg.DstPort,
		SeqNum:        seg.SeqNum,
		AckNum:        seg.AckNum,
		DataOffset:    tcpHeaderLen,
		Flags:         flags,
		WindowSize:    seg.Window,
		Checksum:      0,
		UrgentPointer: 0,
	}

	out := make(header.TCP, tcpHeaderLen+len(seg.Payload))
	out.Encode(&fields)
	copy(out[tcpHeaderLen:], seg.Payload)

	out.SetChecksum(0)
	checksum := tcpChecksum(out, src, dst)
	out.SetChecksum(checksum)

	return out
}

// DecodeTCPSegment parses wire bytes into a segment. It does not verify the
// checksum; a caller that wants to check it passes the IPv4 source and
// destination to VerifyTCPChecksum, per this stack's error model.
func DecodeTCPSegment(data []byte) (TCPSegment, error) {
	if len(data) < tcpHeaderLen {
		return TCPSegment{}, errors.Errorf("tcp segment too short: %d bytes", len(data))
	}
	h := header.TCP(data)
	dataOffset := int(h.DataOffset())
	if dataOffset < tcpHeaderLen || dataOffset > len(data) {
		return TCPSegment{}, errors.Errorf("invalid tcp data offset: %d", dataOffset)
	}

	flags := h.Flags()
	seg := TCPSegment{
		SrcPort: h.SourcePort(),
		DstPort: h.DestinationPort(),
		SeqNum:  h.SequenceNumber(),
		AckNum:  h.AckNumber(),
		HasAck:  flags&header.TCPFlagAck != 0,
		SYN:     flags&header.TCPFlagSyn != 0,
		FIN:     flags&header.TCPFlagFin != 0,
		RST:     flags&header.TCPFlagRst != 0,
		Window:  h.WindowSize(),
		Payload: append([]byte(nil), data[dataOffset:]...),
	}
	return seg, nil
}

// VerifyTCPChecksum recomputes the checksum over the given pseudo-header
// endpoints and reports whether it matches the segment as received.
func VerifyTCPChecksum(data []byte, src, dst [4]byte) bool {
	return tcpChecksum(data, src, dst) == 0
}

// tcpChecksum sums the IPv4 pseudo-header (src, dst, zero, protocol,
// TCP length) followed by the segment bytes, then takes the one's
// complement — the standard RFC 793 TCP checksum.
func tcpChecksum(tcpBytes []byte, src, dst [4]byte) uint16 {
	pseudo := make([]byte, 12)
	copy(pseudo[0:4], src[:])
	copy(pseudo[4:8], dst[:])
	pseudo[8] = 0
	pseudo[9] = IPProtocolTCP
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(tcpBytes)))

	sum := header.Checksum(pseudo, 0)
	sum = header.Checksum(tcpBytes, sum)
	return sum ^ 0xffff
}
