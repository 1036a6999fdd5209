// Package ripv2 implements a RIP-lite distance-vector protocol: an
// optional consumer a Router can run alongside static routes, learning
// prefixes from neighbors with split horizon and triggered updates.
package ripv2

import (
	"bytes"
	"encoding/binary"
	"math/bits"
	"net/netip"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Infinity is the RIP metric meaning "unreachable"; also used for split
// horizon with poisoned reverse.
const Infinity = 16

// RouteTimeout is how long a learned route survives without a refresh.
const RouteTimeout = 12000

// UpdateInterval is the period between unsolicited full-table updates.
const UpdateInterval = 5000

const (
	CommandRequest  uint16 = 1
	CommandResponse uint16 = 2
)

// Entry is one route as carried on the wire: a /8-/32 style mask, always
// in network byte order like the rest of this stack's uint32 addresses.
type Entry struct {
	Cost    uint32
	Address uint32
	Mask    uint32
}

// Packet is a full RIP message: a request (empty) or a response carrying
// a node's routing table (or a delta, for a triggered update).
type Packet struct {
	Command    uint16
	NumEntries uint16
	Entries    []Entry
}

// Marshal serializes p the way the wire format expects: two uint16
// header fields followed by 12-byte entries.
func Marshal(p Packet) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, p.Command)
	binary.Write(buf, binary.BigEndian, uint16(len(p.Entries)))
	for _, e := range p.Entries {
		binary.Write(buf, binary.BigEndian, e.Cost)
		binary.Write(buf, binary.BigEndian, e.Address)
		binary.Write(buf, binary.BigEndian, e.Mask)
	}
	return buf.Bytes()
}

// Unmarshal parses a wire-format RIP message.
func Unmarshal(payload []byte) (Packet, error) {
	if len(payload) < 4 {
		return Packet{}, errors.Errorf("rip packet too short: %d bytes", len(payload))
	}
	command := binary.BigEndian.Uint16(payload[0:2])
	numEntries := binary.BigEndian.Uint16(payload[2:4])

	want := 4 + int(numEntries)*12
	if len(payload) < want {
		return Packet{}, errors.Errorf("rip packet declares %d entries but is only %d bytes", numEntries, len(payload))
	}

	entries := make([]Entry, numEntries)
	offset := 4
	for i := range entries {
		entries[i] = Entry{
			Cost:    binary.BigEndian.Uint32(payload[offset : offset+4]),
			Address: binary.BigEndian.Uint32(payload[offset+4 : offset+8]),
			Mask:    binary.BigEndian.Uint32(payload[offset+8 : offset+12]),
		}
		offset += 12
	}
	return Packet{Command: command, NumEntries: numEntries, Entries: entries}, nil
}

// learnedRoute is one entry in this instance's distance-vector table.
type learnedRoute struct {
	cost    uint32
	nextHop netip.Addr
	ageMs   uint64
}

// SendFunc delivers a marshaled RIP packet to a neighbor; the Router (or
// whatever owns the IP send path) supplies this.
type SendFunc func(dst netip.Addr, payload []byte)

// Instance runs the distance-vector protocol over a fixed set of RIP
// neighbors, independent of which physical interface reaches each.
type Instance struct {
	neighbors []netip.Addr
	directs   map[netip.Prefix]struct{} // directly-attached prefixes, cost 0
	routes    map[netip.Prefix]*learnedRoute
	sinceLast uint64
	log       *logrus.Entry
}

// New constructs an Instance that will query and exchange routes with
// neighbors, treating directPrefixes as its own directly-attached
// networks (advertised at cost 0, never expired).
func New(neighbors []netip.Addr, directPrefixes []netip.Prefix) *Instance {
	directs := make(map[netip.Prefix]struct{}, len(directPrefixes))
	for _, p := range directPrefixes {
		directs[p] = struct{}{}
	}
	return &Instance{
		neighbors: neighbors,
		directs:   directs,
		routes:    make(map[netip.Prefix]*learnedRoute),
		log:       logrus.WithField("component", "ripv2"),
	}
}

// SendRequests asks every neighbor for their full table; call once at
// startup.
func (i *Instance) SendRequests(transmit SendFunc) {
	req := Marshal(Packet{Command: CommandRequest})
	for _, n := range i.neighbors {
		transmit(n, req)
	}
}

func (i *Instance) costOf(prefix netip.Prefix) uint32 {
	if _, ok := i.directs[prefix]; ok {
		return 0
	}
	if r, ok := i.routes[prefix]; ok {
		return r.cost
	}
	return Infinity
}

func (i *Instance) nextHopOf(prefix netip.Prefix) netip.Addr {
	if r, ok := i.routes[prefix]; ok {
		return r.nextHop
	}
	return netip.Addr{}
}

// sendFullTable responds to a request from requester with every known
// route, poisoning (cost=Infinity) any route learned via requester
// itself — split horizon with poisoned reverse.
func (i *Instance) sendFullTable(requester netip.Addr, transmit SendFunc) {
	entries := make([]Entry, 0, len(i.directs)+len(i.routes))
	for prefix := range i.directs {
		entries = append(entries, prefixToEntry(prefix, 0))
	}
	for prefix, r := range i.routes {
		cost := r.cost
		if r.nextHop == requester {
			cost = Infinity
		}
		entries = append(entries, prefixToEntry(prefix, cost))
	}
	transmit(requester, Marshal(Packet{Command: CommandResponse, Entries: entries}))
}

// HandlePacket processes one RIP message received from sender.
func (i *Instance) HandlePacket(sender netip.Addr, payload []byte, transmit SendFunc) error {
	pkt, err := Unmarshal(payload)
	if err != nil {
		return errors.Wrap(err, "unmarshal rip packet")
	}

	switch pkt.Command {
	case CommandRequest:
		i.sendFullTable(sender, transmit)

	case CommandResponse:
		var changed []Entry
		for _, e := range pkt.Entries {
			prefix, ok := entryToPrefix(e)
			if !ok {
				continue
			}
			if _, isDirect := i.directs[prefix]; isDirect {
				continue
			}
			newCost := e.Cost + 1
			if newCost > Infinity {
				newCost = Infinity
			}

			existing, ok := i.routes[prefix]
			switch {
			case !ok:
				i.routes[prefix] = &learnedRoute{cost: newCost, nextHop: sender}
				changed = append(changed, prefixToEntry(prefix, newCost))
			case newCost < existing.cost:
				existing.cost = newCost
				existing.nextHop = sender
				existing.ageMs = 0
				changed = append(changed, prefixToEntry(prefix, newCost))
			case existing.nextHop == sender && newCost != existing.cost:
				existing.cost = newCost
				existing.ageMs = 0
				changed = append(changed, prefixToEntry(prefix, newCost))
			case existing.nextHop == sender:
				existing.ageMs = 0
			}
		}
		if len(changed) > 0 {
			i.triggeredUpdate(changed, sender, transmit)
		}

	default:
		return errors.Errorf("unknown rip command %d", pkt.Command)
	}
	return nil
}

// triggeredUpdate immediately propagates a set of changed routes to every
// neighbor, applying split horizon with poisoned reverse per-neighbor.
func (i *Instance) triggeredUpdate(changed []Entry, learnedFrom netip.Addr, transmit SendFunc) {
	for _, neighbor := range i.neighbors {
		entries := make([]Entry, len(changed))
		copy(entries, changed)
		if neighbor == learnedFrom {
			for idx := range entries {
				entries[idx].Cost = Infinity
			}
		}
		transmit(neighbor, Marshal(Packet{Command: CommandResponse, Entries: entries}))
	}
}

// Tick ages learned routes, expiring stale ones, and sends a periodic
// full-table update to every neighbor.
func (i *Instance) Tick(elapsedMs uint64, transmit SendFunc) {
	for prefix, r := range i.routes {
		r.ageMs += elapsedMs
		if r.ageMs >= RouteTimeout {
			delete(i.routes, prefix)
			i.log.WithField("prefix", prefix).Debug("rip route expired")
		}
	}

	i.sinceLast += elapsedMs
	if i.sinceLast < UpdateInterval {
		return
	}
	i.sinceLast = 0

	for _, neighbor := range i.neighbors {
		i.sendFullTable(neighbor, transmit)
	}
}

// Routes returns the currently learned (non-direct) routes, for the
// Router to install as forwarding entries.
func (i *Instance) Routes() map[netip.Prefix]netip.Addr {
	out := make(map[netip.Prefix]netip.Addr, len(i.routes))
	for prefix, r := range i.routes {
		if r.cost < Infinity {
			out[prefix] = r.nextHop
		}
	}
	return out
}

func prefixToEntry(prefix netip.Prefix, cost uint32) Entry {
	addrBytes := prefix.Addr().As4()
	maskLen := prefix.Bits()
	var mask uint32
	if maskLen > 0 {
		mask = ^uint32(0) << uint(32-maskLen)
	}
	return Entry{
		Cost:    cost,
		Address: binary.BigEndian.Uint32(addrBytes[:]),
		Mask:    mask,
	}
}

func entryToPrefix(e Entry) (netip.Prefix, bool) {
	var addrBytes [4]byte
	binary.BigEndian.PutUint32(addrBytes[:], e.Address)

	maskLen := bits.OnesCount32(e.Mask)
	prefix, err := netip.AddrFrom4(addrBytes).Prefix(maskLen)
	if err != nil {
		return netip.Prefix{}, false
	}
	return prefix, true
}
