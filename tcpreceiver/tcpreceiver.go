// Package tcpreceiver implements the ingest side of a TCP connection:
// turning a peer's stream of TCPSenderMessages into Reassembler inserts,
// and reporting back an ackno/window.
package tcpreceiver

import (
	"ip-tcp-stack/bytestream"
	"ip-tcp-stack/reassembler"
	"ip-tcp-stack/tcpmsg"
	"ip-tcp-stack/wrap32"
)

// maxWindowSize is the cap imposed on the advertised receiver window: TCP's
// window field is 16 bits.
const maxWindowSize = 65535

// TCPReceiver ingests a peer's TCPSenderMessages and owns the inbound
// ByteStream via its Reassembler.
type TCPReceiver struct {
	inbound     *bytestream.ByteStream
	reassembler *reassembler.Reassembler
	isn         *wrap32.Wrap32
}

// New constructs a TCPReceiver writing reassembled bytes into inbound.
func New(inbound *bytestream.ByteStream) *TCPReceiver {
	return &TCPReceiver{inbound: inbound, reassembler: reassembler.New(inbound)}
}

// Reader exposes the inbound stream's Reader view for the application.
func (r *TCPReceiver) Reader() *bytestream.Reader { return r.inbound.Reader() }

// Receive ingests one segment from the peer.
func (r *TCPReceiver) Receive(msg tcpmsg.SenderMessage) {
	if msg.RST {
		r.reassembler.Writer().SetError()
		return
	}

	if msg.SYN {
		isn := msg.Seqno
		r.isn = &isn
	}

	if r.isn == nil {
		return
	}

	absSeqno := msg.Seqno.Unwrap(*r.isn, r.reassembler.NextByte())

	// SYN occupies absolute index 0 but no stream index; a SYN segment's
	// payload (if any) starts at stream index 0. Otherwise stream_index =
	// abs_seqno - 1.
	var streamIndex uint64
	if msg.SYN {
		streamIndex = absSeqno
	} else {
		streamIndex = absSeqno - 1
	}

	r.reassembler.Insert(streamIndex, msg.Payload, msg.FIN)
}

// Send produces the outbound TCPReceiverMessage: the current ackno and
// advertised window.
func (r *TCPReceiver) Send() tcpmsg.ReceiverMessage {
	var ackno *wrap32.Wrap32
	if r.isn != nil {
		// +1 for SYN, +1 more for FIN once the stream is fully closed.
		abs := r.reassembler.NextByte() + 1
		if r.reassembler.Writer().IsClosed() {
			abs++
		}
		w := wrap32.Wrap(abs, *r.isn)
		ackno = &w
	}

	window := r.reassembler.Writer().AvailableCapacity()
	if window > maxWindowSize {
		window = maxWindowSize
	}

	return tcpmsg.ReceiverMessage{
		Ackno:      ackno,
		WindowSize: uint16(window),
		RST:        r.reassembler.Writer().HasError(),
	}
}
