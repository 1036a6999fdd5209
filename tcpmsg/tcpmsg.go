// Package tcpmsg defines the in-memory messages TCPSender and TCPReceiver
// exchange: the wire-level TCP segment format itself is handled by the
// wire package, an external collaborator from the core's point of view.
package tcpmsg

import "ip-tcp-stack/wrap32"

// SenderMessage is what a TCPSender produces and a peer's TCPReceiver
// consumes: a chunk of the outbound byte stream plus flags occupying
// sequence-number space.
type SenderMessage struct {
	Seqno   wrap32.Wrap32
	SYN     bool
	Payload []byte
	FIN     bool
	RST     bool
}

// SequenceLength is the number of sequence numbers this message occupies:
// SYN and FIN each count as one, regardless of payload length.
func (m SenderMessage) SequenceLength() uint64 {
	n := uint64(len(m.Payload))
	if m.SYN {
		n++
	}
	if m.FIN {
		n++
	}
	return n
}

// ReceiverMessage is what a TCPReceiver produces in reply: the latest
// acknowledgement point and advertised window.
type ReceiverMessage struct {
	Ackno      *wrap32.Wrap32
	WindowSize uint16
	RST        bool
}
