// Package config parses the line-oriented `.lnx` topology files used to
// bring up a vhost or vrouter node: interfaces, static neighbors, routes,
// and (for routers) RIP neighbors.
package config

import (
	"bufio"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// RoutingMode selects how a node populates its forwarding table.
type RoutingMode int

const (
	RoutingModeNone RoutingMode = iota
	RoutingModeStatic
	RoutingModeRIP
)

// InterfaceConfig is one `interface` line: a name, the local assigned
// address/prefix, and the UDP endpoint this process binds to emulate the
// physical link.
type InterfaceConfig struct {
	Name      string
	Assigned  netip.Prefix
	BindAddr  string
	Neighbors []NeighborConfig
}

// NeighborConfig is one `neighbor` line attached to an interface: a peer
// IP address reachable over that link's emulated UDP socket.
type NeighborConfig struct {
	Addr    netip.Addr
	UDPAddr string
	IfName  string
}

// StaticRoute is one `route` line: a destination prefix and the gateway
// IP that reaches it.
type StaticRoute struct {
	Prefix  netip.Prefix
	Gateway netip.Addr
}

// Config is the fully parsed contents of one `.lnx` file.
type Config struct {
	Interfaces   []InterfaceConfig
	StaticRoutes []StaticRoute
	RIPNeighbors []netip.Addr
	RoutingMode  RoutingMode
}

// Parse reads and parses the `.lnx` file at path.
func Parse(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open lnx file")
	}
	defer f.Close()

	cfg := &Config{}
	byName := make(map[string]int) // interface name -> index into cfg.Interfaces

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		directive := fields[0]

		switch directive {
		case "interface":
			if len(fields) != 4 {
				return nil, errors.Errorf("line %d: interface wants 3 fields, got %d", lineNum, len(fields)-1)
			}
			prefix, err := netip.ParsePrefix(fields[2])
			if err != nil {
				return nil, errors.Wrapf(err, "line %d: parse assigned prefix", lineNum)
			}
			ifc := InterfaceConfig{Name: fields[1], BindAddr: fields[3], Assigned: prefix}
			cfg.Interfaces = append(cfg.Interfaces, ifc)
			byName[ifc.Name] = len(cfg.Interfaces) - 1

		case "neighbor":
			if len(fields) != 4 {
				return nil, errors.Errorf("line %d: neighbor wants 3 fields, got %d", lineNum, len(fields)-1)
			}
			addr, err := netip.ParseAddr(fields[1])
			if err != nil {
				return nil, errors.Wrapf(err, "line %d: parse neighbor address", lineNum)
			}
			idx, ok := byName[fields[3]]
			if !ok {
				return nil, errors.Errorf("line %d: neighbor references unknown interface %q", lineNum, fields[3])
			}
			ifc := &cfg.Interfaces[idx]
			ifc.Neighbors = append(ifc.Neighbors, NeighborConfig{Addr: addr, UDPAddr: fields[2], IfName: fields[3]})

		case "route":
			if len(fields) != 3 {
				return nil, errors.Errorf("line %d: route wants 2 fields, got %d", lineNum, len(fields)-1)
			}
			prefix, err := netip.ParsePrefix(fields[1])
			if err != nil {
				return nil, errors.Wrapf(err, "line %d: parse route prefix", lineNum)
			}
			gateway, err := netip.ParseAddr(fields[2])
			if err != nil {
				return nil, errors.Wrapf(err, "line %d: parse route gateway", lineNum)
			}
			cfg.StaticRoutes = append(cfg.StaticRoutes, StaticRoute{Prefix: prefix, Gateway: gateway})
			cfg.RoutingMode = RoutingModeStatic

		case "rip-neighbor":
			if len(fields) != 2 {
				return nil, errors.Errorf("line %d: rip-neighbor wants 1 field, got %d", lineNum, len(fields)-1)
			}
			addr, err := netip.ParseAddr(fields[1])
			if err != nil {
				return nil, errors.Wrapf(err, "line %d: parse rip-neighbor address", lineNum)
			}
			cfg.RIPNeighbors = append(cfg.RIPNeighbors, addr)
			cfg.RoutingMode = RoutingModeRIP

		default:
			return nil, errors.Errorf("line %d: unknown directive %q", lineNum, directive)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scan lnx file")
	}

	return cfg, nil
}

// ParsePort extracts the port number from a "host:port" UDP endpoint
// string, the form interface bind addresses and neighbor endpoints use.
func ParsePort(hostPort string) (uint16, error) {
	idx := strings.LastIndex(hostPort, ":")
	if idx < 0 {
		return 0, errors.Errorf("%q is not a host:port endpoint", hostPort)
	}
	port, err := strconv.ParseUint(hostPort[idx+1:], 10, 16)
	if err != nil {
		return 0, errors.Wrapf(err, "parse port from %q", hostPort)
	}
	return uint16(port), nil
}
