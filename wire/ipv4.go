package wire

import (
	"net/netip"

	ipv4header "github.com/brown-csci1680/iptcp-headers"
	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"
)

// IPProtocol numbers this stack frames above IP.
const (
	IPProtocolTest = 0
	IPProtocolTCP  = 6
	IPProtocolRIP  = 200
)

// DefaultTTL mirrors the teacher's fixed starting hop count; this stack
// does no path-MTU-style tuning of it.
const DefaultTTL = 16

// BuildIPv4Datagram constructs a byte-exact IPv4 header (no options) over
// payload and returns the full datagram bytes, checksum included.
func BuildIPv4Datagram(src, dst netip.Addr, protocol int, ttl int, payload []byte) ([]byte, error) {
	hdr := ipv4header.IPv4Header{
		Version:  4,
		Len:      ipv4header.HeaderLen,
		TOS:      0,
		TotalLen: ipv4header.HeaderLen + len(payload),
		ID:       0,
		Flags:    0,
		FragOff:  0,
		TTL:      ttl,
		Protocol: protocol,
		Checksum: 0,
		Src:      src,
		Dst:      dst,
		Options:  []byte{},
	}

	headerBytes, err := hdr.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "marshal ipv4 header")
	}
	hdr.Checksum = int(ComputeIPv4Checksum(headerBytes))
	headerBytes, err = hdr.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "marshal ipv4 header with checksum")
	}

	out := make([]byte, 0, len(headerBytes)+len(payload))
	out = append(out, headerBytes...)
	out = append(out, payload...)
	return out, nil
}

// ParseIPv4Datagram parses the header and splits out the payload. TTL is
// not decremented here; that is the Router's job.
func ParseIPv4Datagram(data []byte) (ipv4header.IPv4Header, []byte, error) {
	hdr, err := ipv4header.ParseHeader(data)
	if err != nil {
		return ipv4header.IPv4Header{}, nil, errors.Wrap(err, "parse ipv4 header")
	}
	if hdr.Len > len(data) {
		return ipv4header.IPv4Header{}, nil, errors.New("ipv4 header length exceeds datagram")
	}
	return *hdr, data[hdr.Len:], nil
}

// ComputeIPv4Checksum computes the IPv4 header checksum the way the
// teacher's ComputeChecksum does: netstack's running-sum checksum,
// complemented.
func ComputeIPv4Checksum(headerBytes []byte) uint16 {
	return header.Checksum(headerBytes, 0) ^ 0xffff
}
