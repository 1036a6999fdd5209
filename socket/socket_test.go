package socket

import (
	"net/netip"
	"testing"

	"ip-tcp-stack/wire"
)

// wireStacks connects two Stacks back-to-back: segments transmitted by
// one are delivered directly to the other's HandleSegment, modeling a
// single link with no loss or reordering.
func wireStacks(a, b *Stack) (TransmitFunc, TransmitFunc) {
	toB := func(seg wire.TCPSegment, local, remote netip.Addr) {
		b.HandleSegment(seg, local, remote)
	}
	toA := func(seg wire.TCPSegment, local, remote netip.Addr) {
		a.HandleSegment(seg, local, remote)
	}
	return toB, toA
}

func TestHandshakeAndDataTransfer(t *testing.T) {
	addrA := netip.MustParseAddr("10.0.0.1")
	addrB := netip.MustParseAddr("10.0.0.2")

	var stackA, stackB *Stack
	stackA = New(addrA, nil)
	stackB = New(addrB, nil)
	toB, toA := wireStacks(stackA, stackB)
	stackA.transmit = toB
	stackB.transmit = toA

	listener, err := stackB.VListen(80)
	if err != nil {
		t.Fatalf("VListen() error = %v", err)
	}

	clientConn, err := stackA.VConnect(addrB, 80)
	if err != nil {
		t.Fatalf("VConnect() error = %v", err)
	}

	serverConn, err := listener.VAccept()
	if err != nil {
		t.Fatalf("VAccept() error = %v", err)
	}

	if clientConn.State != StateEstablished {
		t.Fatalf("client state = %v, want Established", clientConn.State)
	}
	if serverConn.State != StateEstablished {
		t.Fatalf("server state = %v, want Established", serverConn.State)
	}

	if _, err := clientConn.VWrite([]byte("hello")); err != nil {
		t.Fatalf("VWrite() error = %v", err)
	}

	buf := make([]byte, 16)
	n, err := serverConn.VRead(buf)
	if err != nil {
		t.Fatalf("VRead() error = %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("VRead() = %q, want %q", buf[:n], "hello")
	}
}

func TestVAcceptWithNoPendingConnectionErrors(t *testing.T) {
	stack := New(netip.MustParseAddr("10.0.0.1"), nil)
	listener, err := stack.VListen(80)
	if err != nil {
		t.Fatalf("VListen() error = %v", err)
	}
	if _, err := listener.VAccept(); err == nil {
		t.Fatal("VAccept() error = nil, want error with empty backlog")
	}
}

func TestVListenRejectsDuplicatePort(t *testing.T) {
	stack := New(netip.MustParseAddr("10.0.0.1"), nil)
	if _, err := stack.VListen(80); err != nil {
		t.Fatalf("first VListen() error = %v", err)
	}
	if _, err := stack.VListen(80); err == nil {
		t.Fatal("second VListen() error = nil, want duplicate-port error")
	}
}
