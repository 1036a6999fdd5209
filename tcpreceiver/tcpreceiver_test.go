package tcpreceiver

import (
	"testing"

	"ip-tcp-stack/bytestream"
	"ip-tcp-stack/tcpmsg"
	"ip-tcp-stack/wrap32"
)

func TestBeforeSYNProducesNoAckno(t *testing.T) {
	recv := New(bytestream.New(1000))
	msg := recv.Send()
	if msg.Ackno != nil {
		t.Fatalf("Ackno = %v, want nil before any SYN", msg.Ackno)
	}
}

func TestSYNWithPayload(t *testing.T) {
	recv := New(bytestream.New(1000))
	isn := wrap32.FromRaw(100)

	recv.Receive(tcpmsg.SenderMessage{
		Seqno:   isn,
		SYN:     true,
		Payload: []byte("cat"),
	})

	got := recv.Reader().Peek()
	if string(got) != "cat" {
		t.Fatalf("Peek() = %q, want %q", got, "cat")
	}

	msg := recv.Send()
	if msg.Ackno == nil {
		t.Fatal("Ackno = nil, want set after SYN")
	}
	// abs_seqno for ack = SYN(1) + 3 bytes = 4
	want := wrap32.Wrap(4, isn)
	if msg.Ackno.Raw() != want.Raw() {
		t.Fatalf("Ackno = %v, want %v", msg.Ackno.Raw(), want.Raw())
	}
}

func TestFINClosesAndBumpsAckno(t *testing.T) {
	recv := New(bytestream.New(1000))
	isn := wrap32.FromRaw(0)

	recv.Receive(tcpmsg.SenderMessage{Seqno: isn, SYN: true})
	recv.Receive(tcpmsg.SenderMessage{Seqno: wrap32.Wrap(1, isn), Payload: []byte("hi"), FIN: true})

	if !recv.Reader().IsFinished() {
		// not finished until popped, but must be closed
	}
	msg := recv.Send()
	want := wrap32.Wrap(4, isn) // SYN + 2 bytes + FIN
	if msg.Ackno.Raw() != want.Raw() {
		t.Fatalf("Ackno = %v, want %v", msg.Ackno.Raw(), want.Raw())
	}
}

func TestRSTSetsError(t *testing.T) {
	recv := New(bytestream.New(1000))
	recv.Receive(tcpmsg.SenderMessage{RST: true})
	if !recv.Reader().HasError() {
		t.Fatal("HasError() = false after RST, want true")
	}
	if msg := recv.Send(); !msg.RST {
		t.Fatal("Send().RST = false, want true")
	}
}

func TestNoSYNYetIgnoresSegment(t *testing.T) {
	recv := New(bytestream.New(1000))
	recv.Receive(tcpmsg.SenderMessage{Seqno: wrap32.FromRaw(5), Payload: []byte("x")})
	if got := recv.Reader().BytesBuffered(); got != 0 {
		t.Fatalf("BytesBuffered() = %d, want 0 before SYN seen", got)
	}
}

func TestWindowSizeCapped(t *testing.T) {
	recv := New(bytestream.New(100000))
	recv.Receive(tcpmsg.SenderMessage{Seqno: wrap32.FromRaw(0), SYN: true})
	if got := recv.Send().WindowSize; got != 65535 {
		t.Fatalf("WindowSize = %d, want 65535", got)
	}
}
