package netlink

import (
	"net/netip"
	"testing"

	"ip-tcp-stack/wire"
)

type fakePort struct {
	frames []wire.EthernetFrame
}

func (p *fakePort) Transmit(frame wire.EthernetFrame) error {
	p.frames = append(p.frames, frame)
	return nil
}

func mustIP(s string) netip.Addr { return netip.MustParseAddr(s) }

func TestARPResolutionFlowsAndThenGoesDirect(t *testing.T) {
	port := &fakePort{}
	iface := New("eth0", port, wire.EthernetAddress{0, 0, 0, 0, 0, 1}, mustIP("10.0.0.1"))

	if err := iface.SendDatagram([]byte("hello"), mustIP("10.0.0.2")); err != nil {
		t.Fatalf("SendDatagram() error = %v", err)
	}
	if len(port.frames) != 1 {
		t.Fatalf("frames after first send = %d, want 1 (arp request)", len(port.frames))
	}
	if port.frames[0].Header.Type != wire.EtherTypeARP {
		t.Fatalf("frame type = %d, want ARP", port.frames[0].Header.Type)
	}

	replyEth := wire.EthernetAddress{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa}
	reply := wire.ARPMessage{
		Opcode:             wire.ARPOpReply,
		SenderEthernetAddr: replyEth,
		SenderIP:           ipToUint32(mustIP("10.0.0.2")),
		TargetEthernetAddr: iface.ethAddr,
		TargetIP:           ipToUint32(mustIP("10.0.0.1")),
	}
	frame := wire.EthernetFrame{
		Header:  wire.EthernetHeader{Dst: iface.ethAddr, Src: replyEth, Type: wire.EtherTypeARP},
		Payload: wire.EncodeARPMessage(reply),
	}
	iface.RecvFrame(wire.EncodeEthernetFrame(frame))

	if len(port.frames) != 2 {
		t.Fatalf("frames after arp reply = %d, want 2 (flushed datagram)", len(port.frames))
	}
	if port.frames[1].Header.Type != wire.EtherTypeIPv4 || port.frames[1].Header.Dst != replyEth {
		t.Fatalf("flushed frame = %+v, want IPv4 to %v", port.frames[1].Header, replyEth)
	}

	if err := iface.SendDatagram([]byte("again"), mustIP("10.0.0.2")); err != nil {
		t.Fatalf("SendDatagram() error = %v", err)
	}
	if len(port.frames) != 3 {
		t.Fatalf("frames after second send = %d, want 3 (no new arp)", len(port.frames))
	}
	if port.frames[2].Header.Type != wire.EtherTypeIPv4 {
		t.Fatalf("third frame type = %d, want IPv4 (cached mapping)", port.frames[2].Header.Type)
	}
}

func TestPendingDatagramExpires(t *testing.T) {
	port := &fakePort{}
	iface := New("eth0", port, wire.EthernetAddress{0, 0, 0, 0, 0, 1}, mustIP("10.0.0.1"))
	iface.SendDatagram([]byte("hello"), mustIP("10.0.0.2"))

	iface.Tick(ARPResendTimeout)

	ip := ipToUint32(mustIP("10.0.0.2"))
	if len(iface.pending[ip].datagrams) != 0 {
		t.Fatalf("pending datagrams = %d, want 0 after expiry", len(iface.pending[ip].datagrams))
	}
}

func TestARPCooldownAllowsResendAfterTimeout(t *testing.T) {
	port := &fakePort{}
	iface := New("eth0", port, wire.EthernetAddress{0, 0, 0, 0, 0, 1}, mustIP("10.0.0.1"))
	iface.SendDatagram([]byte("a"), mustIP("10.0.0.2"))
	iface.SendDatagram([]byte("b"), mustIP("10.0.0.2"))

	if len(port.frames) != 1 {
		t.Fatalf("frames after two sends before cooldown clears = %d, want 1", len(port.frames))
	}

	iface.Tick(ARPResendTimeout)
	iface.SendDatagram([]byte("c"), mustIP("10.0.0.2"))

	if len(port.frames) != 2 {
		t.Fatalf("frames after cooldown-elapsed send = %d, want 2 (new arp request)", len(port.frames))
	}
}

func TestLearnsFromARPRequestsNotOnlyReplies(t *testing.T) {
	port := &fakePort{}
	iface := New("eth0", port, wire.EthernetAddress{0, 0, 0, 0, 0, 1}, mustIP("10.0.0.1"))

	requesterEth := wire.EthernetAddress{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb}
	req := wire.ARPMessage{
		Opcode:             wire.ARPOpRequest,
		SenderEthernetAddr: requesterEth,
		SenderIP:           ipToUint32(mustIP("10.0.0.3")),
		TargetIP:           ipToUint32(mustIP("10.0.0.1")),
	}
	frame := wire.EthernetFrame{
		Header:  wire.EthernetHeader{Dst: iface.ethAddr, Src: requesterEth, Type: wire.EtherTypeARP},
		Payload: wire.EncodeARPMessage(req),
	}
	iface.RecvFrame(wire.EncodeEthernetFrame(frame))

	if _, ok := iface.arpCache[ipToUint32(mustIP("10.0.0.3"))]; !ok {
		t.Fatal("arpCache did not learn sender mapping from a request")
	}
	if len(port.frames) != 1 || port.frames[0].Header.Type != wire.EtherTypeARP {
		t.Fatalf("expected exactly one ARP reply frame, got %+v", port.frames)
	}
}
