// Package udplink implements the NetworkInterface OutputPort backing
// every interface on this stack's UDP-emulated Ethernet: each interface
// binds one UDP socket and fans broadcast frames out to every neighbor
// configured on that link, tracking each neighbor's synthesized hardware
// address so later unicast sends (post-ARP) reach the right UDP peer.
package udplink

import (
	"net"

	"github.com/pkg/errors"

	"ip-tcp-stack/wire"
)

// Port is a netlink.OutputPort backed by a UDP socket emulating one
// physical link.
type Port struct {
	conn      *net.UDPConn
	neighbors map[wire.EthernetAddress]*net.UDPAddr
	broadcast []*net.UDPAddr
}

// NewPort binds bindAddr ("host:port") and registers the given neighbor
// Ethernet/UDP endpoint pairs for this link.
func NewPort(bindAddr string, neighborAddrs map[wire.EthernetAddress]string) (*Port, error) {
	local, err := net.ResolveUDPAddr("udp4", bindAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve bind address %q", bindAddr)
	}
	conn, err := net.ListenUDP("udp4", local)
	if err != nil {
		return nil, errors.Wrapf(err, "listen udp on %q", bindAddr)
	}

	p := &Port{conn: conn, neighbors: make(map[wire.EthernetAddress]*net.UDPAddr)}
	for eth, addr := range neighborAddrs {
		resolved, err := net.ResolveUDPAddr("udp4", addr)
		if err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "resolve neighbor address %q", addr)
		}
		p.neighbors[eth] = resolved
		p.broadcast = append(p.broadcast, resolved)
	}
	return p, nil
}

// Transmit implements netlink.OutputPort.
func (p *Port) Transmit(frame wire.EthernetFrame) error {
	raw := wire.EncodeEthernetFrame(frame)

	if frame.Header.Dst == wire.Broadcast {
		var firstErr error
		for _, addr := range p.broadcast {
			if _, err := p.conn.WriteToUDP(raw, addr); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	addr, ok := p.neighbors[frame.Header.Dst]
	if !ok {
		return errors.Errorf("no known udp endpoint for ethernet address %s", frame.Header.Dst)
	}
	_, err := p.conn.WriteToUDP(raw, addr)
	return err
}

// ReadLoop blocks reading frames off the socket, handing each to recv,
// until the socket is closed.
func (p *Port) ReadLoop(recv func(frame []byte)) {
	buf := make([]byte, 65535)
	for {
		n, _, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		recv(frame)
	}
}

// Close releases the underlying socket, unblocking ReadLoop.
func (p *Port) Close() error { return p.conn.Close() }
