// Package wire holds the on-wire parse/serialize logic the core state
// machines treat as an external collaborator: byte-exact Ethernet, ARP,
// IPv4 and TCP framing. None of it carries protocol state; it only
// converts between wire bytes and the plain structs the rest of the
// module works with.
package wire

import (
	"encoding/binary"
	"net/netip"

	"github.com/pkg/errors"
)

// EthernetAddress is a 6-byte MAC address.
type EthernetAddress [6]byte

// Broadcast is the all-ones Ethernet broadcast address ff:ff:ff:ff:ff:ff.
var Broadcast = EthernetAddress{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func (a EthernetAddress) String() string {
	const hex = "0123456789abcdef"
	buf := make([]byte, 0, 17)
	for i, b := range a {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, hex[b>>4], hex[b&0xf])
	}
	return string(buf)
}

// EtherType values this stack frames.
const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeARP  uint16 = 0x0806
)

const ethernetHeaderLen = 14

// EthernetHeader is the 14-byte Ethernet II header.
type EthernetHeader struct {
	Dst  EthernetAddress
	Src  EthernetAddress
	Type uint16
}

// EthernetFrame is a parsed Ethernet II frame.
type EthernetFrame struct {
	Header  EthernetHeader
	Payload []byte
}

// EncodeEthernetFrame serializes a frame to wire bytes.
func EncodeEthernetFrame(f EthernetFrame) []byte {
	buf := make([]byte, ethernetHeaderLen+len(f.Payload))
	copy(buf[0:6], f.Header.Dst[:])
	copy(buf[6:12], f.Header.Src[:])
	binary.BigEndian.PutUint16(buf[12:14], f.Header.Type)
	copy(buf[14:], f.Payload)
	return buf
}

// DeriveEthernetAddress synthesizes a locally-administered MAC for a node
// on this stack's UDP-emulated links, deterministically from its IPv4
// address: there being no real NIC underneath, every node must agree on
// one node's "hardware" address without a side channel.
func DeriveEthernetAddress(ip netip.Addr) EthernetAddress {
	b := ip.As4()
	return EthernetAddress{0x02, 0x00, b[0], b[1], b[2], b[3]}
}

// DecodeEthernetFrame parses wire bytes into a frame.
func DecodeEthernetFrame(data []byte) (EthernetFrame, error) {
	if len(data) < ethernetHeaderLen {
		return EthernetFrame{}, errors.Errorf("ethernet frame too short: %d bytes", len(data))
	}
	var f EthernetFrame
	copy(f.Header.Dst[:], data[0:6])
	copy(f.Header.Src[:], data[6:12])
	f.Header.Type = binary.BigEndian.Uint16(data[12:14])
	f.Payload = append([]byte(nil), data[14:]...)
	return f, nil
}
