package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempLnx(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.lnx")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestParseInterfacesAndNeighbors(t *testing.T) {
	path := writeTempLnx(t, `
# sample topology
interface eth0 10.0.0.1/24 127.0.0.1:5000
neighbor 10.0.0.2 127.0.0.1:5001 eth0
route 192.168.0.0/16 10.0.0.2
`)

	cfg, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(cfg.Interfaces) != 1 {
		t.Fatalf("Interfaces = %d, want 1", len(cfg.Interfaces))
	}
	if len(cfg.Interfaces[0].Neighbors) != 1 {
		t.Fatalf("Neighbors = %d, want 1", len(cfg.Interfaces[0].Neighbors))
	}
	if len(cfg.StaticRoutes) != 1 || cfg.RoutingMode != RoutingModeStatic {
		t.Fatalf("StaticRoutes/RoutingMode = %d/%v, want 1/static", len(cfg.StaticRoutes), cfg.RoutingMode)
	}
}

func TestParseRejectsUnknownDirective(t *testing.T) {
	path := writeTempLnx(t, "bogus directive here\n")
	if _, err := Parse(path); err == nil {
		t.Fatal("Parse() error = nil, want error for unknown directive")
	}
}

func TestParsePort(t *testing.T) {
	port, err := ParsePort("127.0.0.1:5000")
	if err != nil {
		t.Fatalf("ParsePort() error = %v", err)
	}
	if port != 5000 {
		t.Fatalf("port = %d, want 5000", port)
	}
}
