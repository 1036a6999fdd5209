// Package router implements longest-prefix-match forwarding across a set
// of NetworkInterfaces: add routes, then drain each interface's received
// datagrams once per Route call.
package router

import (
	"encoding/binary"
	"net/netip"

	"github.com/sirupsen/logrus"

	"ip-tcp-stack/netlink"
	"ip-tcp-stack/wire"
)

type routeEntry struct {
	prefix       uint32
	prefixLength int
	nextHop      *netip.Addr
	interfaceNum int
	dynamic      bool
}

// Router forwards IPv4 datagrams between a set of named interfaces using
// longest-prefix-match over its static routes and RIP-synced dynamic routes.
type Router struct {
	interfaces []*netlink.NetworkInterface
	routes     []routeEntry
	log        *logrus.Entry
}

// New constructs a Router over the given interfaces, in the order they
// were attached; a route's interfaceNum indexes into this slice.
func New(interfaces []*netlink.NetworkInterface) *Router {
	return &Router{interfaces: interfaces, log: logrus.WithField("component", "router")}
}

// AddRoute installs a static forwarding rule, upserting by (prefix,
// prefixLength): a second call for the same prefix/length replaces the
// existing entry's next hop and interface rather than appending a
// duplicate that would otherwise sit in the table forever. nextHop is nil
// when the destination is directly reachable off interfaceNum (forward
// to the datagram's own destination address).
func (r *Router) AddRoute(prefix netip.Addr, prefixLength int, nextHop *netip.Addr, interfaceNum int) {
	entry := routeEntry{
		prefix:       addrToUint32(prefix),
		prefixLength: prefixLength,
		nextHop:      nextHop,
		interfaceNum: interfaceNum,
	}
	r.log.WithFields(logrus.Fields{
		"prefix":       prefix,
		"prefixLength": prefixLength,
		"interface":    interfaceNum,
	}).Debug("route added")

	for i, existing := range r.routes {
		if existing.prefix == entry.prefix && existing.prefixLength == entry.prefixLength && !existing.dynamic {
			r.routes[i] = entry
			return
		}
	}
	r.routes = append(r.routes, entry)
}

// SyncDynamicRoutes reconciles the router's RIP-learned routes against
// routes (as reported by ripv2.Instance.Routes()), replacing the
// previous set wholesale: routes no longer present are removed instead
// of lingering, and a changed next hop for an already-known prefix
// overwrites it instead of coexisting alongside the stale entry. Called
// once per Tick, so route convergence reflects the instance's current
// table rather than accreting a duplicate per tick. Statically added
// routes are left untouched.
func (r *Router) SyncDynamicRoutes(routes map[netip.Prefix]netip.Addr, interfaceFor func(netip.Addr) int) {
	kept := make([]routeEntry, 0, len(r.routes))
	for _, e := range r.routes {
		if !e.dynamic {
			kept = append(kept, e)
		}
	}
	for prefix, nextHop := range routes {
		hop := nextHop
		r.log.WithFields(logrus.Fields{
			"prefix":  prefix,
			"nextHop": nextHop,
		}).Debug("dynamic route synced")
		kept = append(kept, routeEntry{
			prefix:       addrToUint32(prefix.Addr()),
			prefixLength: prefix.Bits(),
			nextHop:      &hop,
			interfaceNum: interfaceFor(nextHop),
			dynamic:      true,
		})
	}
	r.routes = kept
}

// Route drains every interface's received-datagram queue, forwarding each
// datagram per the longest matching route and dropping it otherwise.
func (r *Router) Route() {
	for _, iface := range r.interfaces {
		for _, raw := range iface.PopReceived() {
			r.Forward(raw)
		}
	}
}

// IsLocal reports whether dst names one of this router's own interfaces,
// letting a caller intercept control-plane datagrams (RIP, test packets)
// addressed to the router itself before they'd otherwise be forwarded.
func (r *Router) IsLocal(dst netip.Addr) bool {
	for _, iface := range r.interfaces {
		if iface.IPAddress() == dst {
			return true
		}
	}
	return false
}

// Forward applies longest-prefix-match routing to a single raw IPv4
// datagram, decrementing its TTL and sending it out the matched
// interface. Used directly by callers that intercept some datagrams
// (e.g. ones addressed to the router itself) before routing the rest.
func (r *Router) Forward(raw []byte) {
	hdr, payload, err := wire.ParseIPv4Datagram(raw)
	if err != nil {
		r.log.WithError(err).Debug("dropping unparseable datagram")
		return
	}

	if hdr.TTL <= 1 {
		r.log.WithField("dst", hdr.Dst).Debug("dropping datagram: ttl expired")
		return
	}

	match, ok := r.longestMatch(addrToUint32(hdr.Dst))
	if !ok {
		r.log.WithField("dst", hdr.Dst).Debug("dropping datagram: no matching route")
		return
	}

	hdr.TTL--
	hdr.Checksum = 0
	hdrBytes, err := hdr.Marshal()
	if err != nil {
		r.log.WithError(err).Warn("failed to re-marshal datagram after ttl decrement")
		return
	}
	hdr.Checksum = int(wire.ComputeIPv4Checksum(hdrBytes))
	hdrBytes, err = hdr.Marshal()
	if err != nil {
		r.log.WithError(err).Warn("failed to re-marshal datagram with updated checksum")
		return
	}

	out := make([]byte, 0, len(hdrBytes)+len(payload))
	out = append(out, hdrBytes...)
	out = append(out, payload...)

	nextHop := hdr.Dst
	if match.nextHop != nil {
		nextHop = *match.nextHop
	}

	iface := r.interfaces[match.interfaceNum]
	if err := iface.SendDatagram(out, nextHop); err != nil {
		r.log.WithError(err).Warn("failed to send forwarded datagram")
	}
}

// RouteFor exposes the forwarding decision for dst without sending
// anything, for a node originating its own datagrams (RIP control
// messages, a "send" REPL command) rather than forwarding someone
// else's.
func (r *Router) RouteFor(dst netip.Addr) (interfaceNum int, nextHop netip.Addr, ok bool) {
	match, found := r.longestMatch(addrToUint32(dst))
	if !found {
		return 0, netip.Addr{}, false
	}
	hop := dst
	if match.nextHop != nil {
		hop = *match.nextHop
	}
	return match.interfaceNum, hop, true
}

// longestMatch finds the route of maximum prefixLength matching dst. A
// prefixLength of 0 matches everything; higher lengths require dst's
// top prefixLength bits to equal the route's prefix bits.
func (r *Router) longestMatch(dst uint32) (routeEntry, bool) {
	var best routeEntry
	found := false

	for _, route := range r.routes {
		if route.prefixLength == 0 {
			if !found || route.prefixLength >= best.prefixLength {
				best, found = route, true
			}
			continue
		}
		shift := 32 - route.prefixLength
		if (route.prefix>>shift) != (dst >> shift) {
			continue
		}
		if !found || route.prefixLength >= best.prefixLength {
			best, found = route, true
		}
	}

	return best, found
}

func addrToUint32(addr netip.Addr) uint32 {
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:])
}
