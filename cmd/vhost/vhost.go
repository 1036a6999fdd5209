// Command vhost runs a single-interface TCP/IP host: it brings up one
// UDP-emulated network interface per the supplied .lnx config, then
// drives a REPL for sending raw test datagrams and for opening,
// reading from, and writing to TCP sockets.
package main

import (
	"bufio"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ip-tcp-stack/config"
	"ip-tcp-stack/netlink"
	"ip-tcp-stack/socket"
	"ip-tcp-stack/udplink"
	"ip-tcp-stack/wire"
)

const tickInterval = 50 * time.Millisecond

type frameEvent struct {
	raw []byte
}

func main() {
	if len(os.Args) != 3 || os.Args[1] != "--config" {
		fmt.Println("Usage: ./vhost --config <lnx file>")
		return
	}

	cfg, err := config.Parse(os.Args[2])
	if err != nil {
		logrus.WithError(err).Fatal("failed to parse config")
	}
	if len(cfg.Interfaces) != 1 {
		logrus.Fatal("vhost expects exactly one interface")
	}
	ifcCfg := cfg.Interfaces[0]

	ownAddr := ifcCfg.Assigned.Addr()
	ownEth := wire.DeriveEthernetAddress(ownAddr)

	neighborEths := make(map[wire.EthernetAddress]string, len(ifcCfg.Neighbors))
	for _, n := range ifcCfg.Neighbors {
		neighborEths[wire.DeriveEthernetAddress(n.Addr)] = n.UDPAddr
	}

	port, err := udplink.NewPort(ifcCfg.BindAddr, neighborEths)
	if err != nil {
		logrus.WithError(err).Fatal("failed to bind interface")
	}
	defer port.Close()

	iface := netlink.New(ifcCfg.Name, port, ownEth, ownAddr)

	frames := make(chan frameEvent, 64)
	go port.ReadLoop(func(raw []byte) { frames <- frameEvent{raw: raw} })

	var stack *socket.Stack
	stack = socket.New(ownAddr, func(seg wire.TCPSegment, local, remote netip.Addr) {
		transmitSegment(iface, seg, local, remote)
	})

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
			handleFrame(iface, stack, ev.raw)

		case <-ticker.C:
			ms := uint64(tickInterval.Milliseconds())
			iface.Tick(ms)
			stack.Tick(ms)

		case line, ok := <-lines:
			if !ok {
				return
			}
			runCommand(iface, stack, line)
		}
	}
}

func handleFrame(iface *netlink.NetworkInterface, stack *socket.Stack, raw []byte) {
	iface.RecvFrame(raw)
	for _, dgram := range iface.PopReceived() {
		hdr, payload, err := wire.ParseIPv4Datagram(dgram)
		if err != nil {
			logrus.WithError(err).Debug("dropping unparseable datagram")
			continue
		}
		if hdr.Protocol != wire.IPProtocolTCP {
			fmt.Printf("Received test packet: Src: %s, Dst: %s, TTL: %d, Data: %s\n",
				hdr.Src, hdr.Dst, hdr.TTL, string(payload))
			continue
		}
		seg, err := wire.DecodeTCPSegment(payload)
		if err != nil {
			logrus.WithError(err).Debug("dropping unparseable tcp segment")
			continue
		}
		stack.HandleSegment(seg, hdr.Src, hdr.Dst)
	}
}

func transmitSegment(iface *netlink.NetworkInterface, seg wire.TCPSegment, local, remote netip.Addr) {
	localBytes, remoteBytes := local.As4(), remote.As4()
	tcpBytes := wire.EncodeTCPSegment(seg, localBytes, remoteBytes)
	dgram, err := wire.BuildIPv4Datagram(local, remote, wire.IPProtocolTCP, wire.DefaultTTL, tcpBytes)
	if err != nil {
		logrus.WithError(err).Warn("failed to build ipv4 datagram for tcp segment")
		return
	}
	if err := iface.SendDatagram(dgram, remote); err != nil {
		logrus.WithError(err).Warn("failed to send tcp segment")
	}
}

func runCommand(iface *netlink.NetworkInterface, stack *socket.Stack, line string) {
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
		dgram, err := wire.BuildIPv4Datagram(iface.IPAddress(), destIP, wire.IPProtocolTest, wire.DefaultTTL, []byte(message))
		if err != nil {
			fmt.Println(err)
			return
		}
		if err := iface.SendDatagram(dgram, destIP); err != nil {
			fmt.Println(err)
		}

	case "a":
		if len(fields) != 2 {
			fmt.Println("Usage: a <port>")
			return
		}
		port, err := strconv.ParseUint(fields[1], 10, 16)
		if err != nil {
			fmt.Println(err)
			return
		}
		if _, err := stack.VListen(uint16(port)); err != nil {
			fmt.Println(err)
		}

	case "c":
		if len(fields) != 3 {
			fmt.Println("Usage: c <ip> <port>")
			return
		}
		ip, err := netip.ParseAddr(fields[1])
		if err != nil {
			fmt.Println(err)
			return
		}
		port, err := strconv.ParseUint(fields[2], 10, 16)
		if err != nil {
			fmt.Println(err)
			return
		}
		if _, err := stack.VConnect(ip, uint16(port)); err != nil {
			fmt.Println(err)
		}

	case "s":
		if len(fields) < 3 {
			fmt.Println("Usage: s <socket id> <data>")
			return
		}
		conn := findConnection(stack, fields[1])
		if conn == nil {
			fmt.Println("no such socket")
			return
		}
		if _, err := conn.VWrite([]byte(strings.Join(fields[2:], " "))); err != nil {
			fmt.Println(err)
		}

	case "r":
		if len(fields) != 3 {
			fmt.Println("Usage: r <socket id> <n>")
			return
		}
		conn := findConnection(stack, fields[1])
		if conn == nil {
			fmt.Println("no such socket")
			return
		}
		n, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			fmt.Println(err)
			return
		}
		buf := make([]byte, n)
		read, err := conn.VRead(buf)
		if err != nil {
			fmt.Println(err)
			return
		}
		fmt.Println(string(buf[:read]))

	case "cl":
		if len(fields) != 2 {
			fmt.Println("Usage: cl <socket id>")
			return
		}
		conn := findConnection(stack, fields[1])
		if conn == nil {
			fmt.Println("no such socket")
			return
		}
		conn.VClose()

	default:
		fmt.Println("Invalid command.")
	}
}

func findConnection(stack *socket.Stack, idField string) *socket.Connection {
	id, err := strconv.ParseUint(idField, 10, 32)
	if err != nil {
		return nil
	}
	for _, conn := range stack.ConnectionsTable {
		if uint64(conn.ID) == id {
			return conn
		}
	}
	return nil
}
