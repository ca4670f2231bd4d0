package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

const sampleGroup = `
primary_id: node1
peers:
  - id: node1
    consensus_addr: 127.0.0.1:7001
    control_addr: 127.0.0.1:8001
  - id: node2
    consensus_addr: 127.0.0.1:7002
    control_addr: 127.0.0.1:8002
  - id: node3
    consensus_addr: 127.0.0.1:7003
    control_addr: 127.0.0.1:8003
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "group.yaml")
	if err := os.WriteFile(path, []byte(sampleGroup), 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	return path
}

func TestLoadGroupAndLookups(t *testing.T) {
	path := writeSample(t)
	g, err := LoadGroup(path)
	if err != nil {
		t.Fatalf("LoadGroup: %v", err)
	}
	if g.PrimaryID != "node1" {
		t.Fatalf("unexpected primary: %s", g.PrimaryID)
	}
	self, err := g.Self("node2")
	if err != nil {
		t.Fatalf("Self: %v", err)
	}
	if self.ConsensusAddr != "127.0.0.1:7002" {
		t.Fatalf("unexpected addr: %+v", self)
	}

	peers := g.ConsensusPeers("node2")
	if len(peers) != 2 {
		t.Fatalf("expected 2 peers excluding self, got %d", len(peers))
	}
	if _, ok := peers["node2"]; ok {
		t.Fatal("self must be excluded from peer map")
	}
}

func TestSelfUnknownIDErrors(t *testing.T) {
	path := writeSample(t)
	g, _ := LoadGroup(path)
	if _, err := g.Self("ghost"); err == nil {
		t.Fatal("expected error for unknown node id")
	}
}

func TestParseNodeFlagsRequiresID(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	if _, err := ParseNodeFlags(fs, []string{"-group", "./group.yaml"}); err == nil {
		t.Fatal("expected error when -id is missing")
	}
}

func TestParseNodeFlagsDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	nf, err := ParseNodeFlags(fs, []string{"-id", "node1"})
	if err != nil {
		t.Fatalf("ParseNodeFlags: %v", err)
	}
	if nf.GroupFile != "./group.yaml" || nf.LogLevel != "info" || nf.MetricsAddr != ":9090" {
		t.Fatalf("unexpected defaults: %+v", nf)
	}
}
