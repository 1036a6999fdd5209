// Package netlink implements one IP-over-Ethernet network interface: ARP
// resolution, an outbound pending-datagram queue keyed by next-hop IP, and
// the inbound datagram queue a Router drains via Route.
package netlink

import (
	"encoding/binary"
	"net/netip"

	"github.com/sirupsen/logrus"

	"ip-tcp-stack/wire"
)

// MappingCacheDuration is how long a learned ARP entry is trusted.
const MappingCacheDuration = 30000

// ARPResendTimeout bounds both the cooldown between ARP requests for the
// same IP and the lifetime of a queued datagram awaiting resolution.
const ARPResendTimeout = 5000

// OutputPort is the collaborator a NetworkInterface hands completed
// Ethernet frames to; the code that creates an interface keeps its own
// reference to the port it passes in (cmd/vrouter keeps one per interface).
type OutputPort interface {
	Transmit(frame wire.EthernetFrame) error
}

type arpCacheEntry struct {
	addr  wire.EthernetAddress
	ageMs uint64
}

type pendingDatagram struct {
	payload []byte
	ageMs   uint64
}

type pendingEntry struct {
	datagrams    []pendingDatagram
	coolingDown  bool
	requestAgeMs uint64
}

// NetworkInterface is one named IP-over-Ethernet interface.
type NetworkInterface struct {
	Name string

	port    OutputPort
	ethAddr wire.EthernetAddress
	ipAddr  netip.Addr

	arpCache map[uint32]*arpCacheEntry
	pending  map[uint32]*pendingEntry

	received [][]byte

	log *logrus.Entry
}

func ipToUint32(addr netip.Addr) uint32 {
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:])
}

// UintToIP converts a raw 32-bit IPv4 address (as carried on the wire in
// ARP messages) back into a netip.Addr, for callers building a next-hop
// Address from a datagram's destination field.
func UintToIP(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}

// New constructs a NetworkInterface bound to port, which owns the physical
// transmit path.
func New(name string, port OutputPort, ethAddr wire.EthernetAddress, ipAddr netip.Addr) *NetworkInterface {
	return &NetworkInterface{
		Name:     name,
		port:     port,
		ethAddr:  ethAddr,
		ipAddr:   ipAddr,
		arpCache: make(map[uint32]*arpCacheEntry),
		pending:  make(map[uint32]*pendingEntry),
		log:      logrus.WithField("interface", name),
	}
}

// EthernetAddress reports this interface's hardware address.
func (n *NetworkInterface) EthernetAddress() wire.EthernetAddress { return n.ethAddr }

// IPAddress reports this interface's protocol address.
func (n *NetworkInterface) IPAddress() netip.Addr { return n.ipAddr }

// SendDatagram transmits dgram to nextHop, resolving its Ethernet address
// via ARP first if necessary.
func (n *NetworkInterface) SendDatagram(dgram []byte, nextHop netip.Addr) error {
	ip := ipToUint32(nextHop)

	if entry, ok := n.arpCache[ip]; ok {
		return n.sendDatagramFrame(dgram, entry.addr)
	}

	entry, ok := n.pending[ip]
	if !ok {
		entry = &pendingEntry{}
		n.pending[ip] = entry
	}
	if !entry.coolingDown {
		n.log.WithField("target_ip", nextHop).Debug("broadcasting arp request")
		if err := n.sendARPFrame(wire.ARPMessage{
			Opcode:             wire.ARPOpRequest,
			SenderEthernetAddr: n.ethAddr,
			SenderIP:           ipToUint32(n.ipAddr),
			TargetIP:           ip,
		}, wire.Broadcast); err != nil {
			return err
		}
		entry.coolingDown = true
		entry.requestAgeMs = 0
	}

	entry.datagrams = append(entry.datagrams, pendingDatagram{payload: dgram})
	return nil
}

// RecvFrame ingests one Ethernet frame: IPv4 frames addressed to us are
// queued for Route to drain; ARP frames update the cache and may flush
// pending datagrams or trigger a reply.
func (n *NetworkInterface) RecvFrame(raw []byte) {
	frame, err := wire.DecodeEthernetFrame(raw)
	if err != nil {
		n.log.WithError(err).Debug("dropping malformed ethernet frame")
		return
	}

	switch frame.Header.Type {
	case wire.EtherTypeIPv4:
		if frame.Header.Dst != n.ethAddr {
			return
		}
		n.received = append(n.received, frame.Payload)

	case wire.EtherTypeARP:
		arp, err := wire.DecodeARPMessage(frame.Payload)
		if err != nil {
			n.log.WithError(err).Debug("dropping malformed arp message")
			return
		}

		n.arpCache[arp.SenderIP] = &arpCacheEntry{addr: arp.SenderEthernetAddr}

		if entry, ok := n.pending[arp.SenderIP]; ok {
			for _, d := range entry.datagrams {
				if err := n.sendDatagramFrame(d.payload, arp.SenderEthernetAddr); err != nil {
					n.log.WithError(err).Warn("failed to flush queued datagram after arp resolution")
				}
			}
			delete(n.pending, arp.SenderIP)
		}

		if arp.Opcode == wire.ARPOpRequest && arp.TargetIP == ipToUint32(n.ipAddr) {
			reply := wire.ARPMessage{
				Opcode:             wire.ARPOpReply,
				SenderEthernetAddr: n.ethAddr,
				SenderIP:           ipToUint32(n.ipAddr),
				TargetEthernetAddr: arp.SenderEthernetAddr,
				TargetIP:           arp.SenderIP,
			}
			if err := n.sendARPFrame(reply, arp.SenderEthernetAddr); err != nil {
				n.log.WithError(err).Warn("failed to send arp reply")
			}
		}
	}
}

// Tick ages the ARP cache and pending queue, forgetting stale entries.
func (n *NetworkInterface) Tick(elapsedMs uint64) {
	for ip, entry := range n.arpCache {
		entry.ageMs += elapsedMs
		if entry.ageMs >= MappingCacheDuration {
			delete(n.arpCache, ip)
		}
	}

	for _, entry := range n.pending {
		if entry.coolingDown {
			entry.requestAgeMs += elapsedMs
			if entry.requestAgeMs >= ARPResendTimeout {
				entry.coolingDown = false
			}
		}

		kept := entry.datagrams[:0]
		for _, d := range entry.datagrams {
			d.ageMs += elapsedMs
			if d.ageMs < ARPResendTimeout {
				kept = append(kept, d)
			}
		}
		entry.datagrams = kept
	}
}

// PopReceived drains and returns the datagrams accumulated since the last
// call, in FIFO order.
func (n *NetworkInterface) PopReceived() [][]byte {
	out := n.received
	n.received = nil
	return out
}

func (n *NetworkInterface) sendDatagramFrame(payload []byte, dst wire.EthernetAddress) error {
	frame := wire.EthernetFrame{
		Header:  wire.EthernetHeader{Dst: dst, Src: n.ethAddr, Type: wire.EtherTypeIPv4},
		Payload: payload,
	}
	return n.port.Transmit(frame)
}

func (n *NetworkInterface) sendARPFrame(msg wire.ARPMessage, dst wire.EthernetAddress) error {
	frame := wire.EthernetFrame{
		Header:  wire.EthernetHeader{Dst: dst, Src: n.ethAddr, Type: wire.EtherTypeARP},
		Payload: wire.EncodeARPMessage(msg),
	}
	return n.port.Transmit(frame)
}
