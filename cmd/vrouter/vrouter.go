// Command vrouter runs a multi-interface IP router: it brings up one
// UDP-emulated network interface per entry in the supplied .lnx config,
// forwards datagrams between them by longest-prefix match, and
// optionally runs RIPv2-lite to learn routes from neighbors instead of
// (or alongside) static ones.
package main

import (
	"bufio"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ip-tcp-stack/config"
	"ip-tcp-stack/netlink"
	"ip-tcp-stack/ripv2"
	"ip-tcp-stack/router"
	"ip-tcp-stack/udplink"
	"ip-tcp-stack/wire"
)

const tickInterval = 50 * time.Millisecond

type frameEvent struct {
	ifaceIndex int
	raw        []byte
}

func main() {
	if len(os.Args) != 3 || os.Args[1] != "--config" {
		fmt.Println("Usage: ./vrouter --config <lnx file>")
		return
	}

	cfg, err := config.Parse(os.Args[2])
	if err != nil {
		logrus.WithError(err).Fatal("failed to parse config")
	}

	ifaces := make([]*netlink.NetworkInterface, 0, len(cfg.Interfaces))
	ports := make([]*udplink.Port, 0, len(cfg.Interfaces))
	frames := make(chan frameEvent, 256)

	var directPrefixes []netip.Prefix

	for idx, ifcCfg := range cfg.Interfaces {
		ownAddr := ifcCfg.Assigned.Addr()
		ownEth := wire.DeriveEthernetAddress(ownAddr)
		directPrefixes = append(directPrefixes, ifcCfg.Assigned.Masked())

		neighborEths := make(map[wire.EthernetAddress]string, len(ifcCfg.Neighbors))
		for _, n := range ifcCfg.Neighbors {
			neighborEths[wire.DeriveEthernetAddress(n.Addr)] = n.UDPAddr
		}

		port, err := udplink.NewPort(ifcCfg.BindAddr, neighborEths)
		if err != nil {
			logrus.WithError(err).Fatal("failed to bind interface")
		}
		ports = append(ports, port)

		iface := netlink.New(ifcCfg.Name, port, ownEth, ownAddr)
		ifaces = append(ifaces, iface)

		index := idx
		go port.ReadLoop(func(raw []byte) { frames <- frameEvent{ifaceIndex: index, raw: raw} })
	}
	defer func() {
		for _, p := range ports {
			p.Close()
		}
	}()

	r := router.New(ifaces)
	for _, rt := range cfg.StaticRoutes {
		gw := rt.Gateway
		r.AddRoute(rt.Prefix.Addr(), rt.Prefix.Bits(), &gw, interfaceForGateway(cfg, rt.Gateway))
	}
	for idx, ifcCfg := range cfg.Interfaces {
		r.AddRoute(ifcCfg.Assigned.Masked().Addr(), ifcCfg.Assigned.Bits(), nil, idx)
	}

	var rip *ripv2.Instance
	if cfg.RoutingMode == config.RoutingModeRIP {
		rip = ripv2.New(cfg.RIPNeighbors, directPrefixes)
		ripTransmit := func(dst netip.Addr, payload []byte) {
			sendTestLikeDatagram(ifaces, r, dst, wire.IPProtocolRIP, payload)
		}
		rip.SendRequests(ripTransmit)
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	fmt.Println("Enter command:")
	for {
		select {
		case ev, ok := <-frames:
			if !ok {
				return
			}
			handleFrame(ifaces, r, rip, ev)

		case <-ticker.C:
			ms := uint64(tickInterval.Milliseconds())
			for _, iface := range ifaces {
				iface.Tick(ms)
			}
			if rip != nil {
				rip.Tick(ms, func(dst netip.Addr, payload []byte) {
					sendTestLikeDatagram(ifaces, r, dst, wire.IPProtocolRIP, payload)
				})
				syncRIPRoutes(r, rip, cfg)
			}

		case line, ok := <-lines:
			if !ok {
				return
			}
			runCommand(ifaces, r, line)
		}
	}
}

func interfaceForGateway(cfg *config.Config, gateway netip.Addr) int {
	for idx, ifc := range cfg.Interfaces {
		if ifc.Assigned.Contains(gateway) {
			return idx
		}
	}
	return 0
}

func handleFrame(ifaces []*netlink.NetworkInterface, r *router.Router, rip *ripv2.Instance, ev frameEvent) {
	ifaces[ev.ifaceIndex].RecvFrame(ev.raw)
	for _, dgram := range ifaces[ev.ifaceIndex].PopReceived() {
		hdr, payload, err := wire.ParseIPv4Datagram(dgram)
		if err != nil {
			continue
		}

		if !r.IsLocal(hdr.Dst) {
			r.Forward(dgram)
			continue
		}

		if hdr.Protocol == wire.IPProtocolRIP && rip != nil {
			if err := rip.HandlePacket(hdr.Src, payload, func(dst netip.Addr, p []byte) {
				sendTestLikeDatagram(ifaces, r, dst, wire.IPProtocolRIP, p)
			}); err != nil {
				logrus.WithError(err).Debug("dropping malformed rip packet")
			}
			continue
		}
		if hdr.Protocol == wire.IPProtocolTest {
			fmt.Printf("Received test packet: Src: %s, Dst: %s, TTL: %d, Data: %s\n",
				hdr.Src, hdr.Dst, hdr.TTL, string(payload))
		}
	}
}

func syncRIPRoutes(r *router.Router, rip *ripv2.Instance, cfg *config.Config) {
	r.SyncDynamicRoutes(rip.Routes(), func(nextHop netip.Addr) int {
		return interfaceForGateway(cfg, nextHop)
	})
}

// sendTestLikeDatagram wraps a RIP (or other control-plane) payload in a
// plain IPv4 datagram addressed to dst and sends it out whichever
// interface the router's own table says reaches dst.
func sendTestLikeDatagram(ifaces []*netlink.NetworkInterface, r *router.Router, dst netip.Addr, protocol int, payload []byte) {
	ifaceIdx, nextHop, ok := r.RouteFor(dst)
	if !ok {
		return
	}
	iface := ifaces[ifaceIdx]
	dgram, err := wire.BuildIPv4Datagram(iface.IPAddress(), dst, protocol, wire.DefaultTTL, payload)
	if err != nil {
		return
	}
	_ = iface.SendDatagram(dgram, nextHop)
}

func runCommand(ifaces []*netlink.NetworkInterface, r *router.Router, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "send":
		if len(fields) < 3 {
			fmt.Println("Usage: send <ip> <message>")
			return
		}
		destIP, err := netip.ParseAddr(fields[1])
		if err != nil {
			fmt.Println("Please enter a valid IP address after send")
			return
		}
		message := strings.Join(fields[2:], " ")
		sendTestLikeDatagram(ifaces, r, destIP, wire.IPProtocolTest, []byte(message))

	case "li":
		for _, iface := range ifaces {
			fmt.Printf("%s\t%s\n", iface.Name, iface.IPAddress())
		}

	default:
		fmt.Println("Invalid command.")
	}
}
