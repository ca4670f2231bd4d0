package node

import (
	"testing"
	"time"

	"github.com/caoanh44al3/pbft/internal/chain"
	"github.com/caoanh44al3/pbft/internal/transport"
)

// fiveNodeCluster wires five real transport.Transport listeners on
// loopback and five Nodes atop them, node1 as primary, mirroring the
// N=5, f=1 reference configuration §8's scenarios are phrased against.
type fiveNodeCluster struct {
	ids   []string
	nodes map[string]*Node
}

func newFiveNodeCluster(t *testing.T) *fiveNodeCluster {
	t.Helper()
	ids := []string{"node1", "node2", "node3", "node4", "node5"}

	transports := make(map[string]*transport.Transport)
	for _, id := range ids {
		tr, err := transport.Listen(id, "127.0.0.1:0", nil, nil)
		if err != nil {
			t.Fatalf("listen %s: %v", id, err)
		}
		transports[id] = tr
	}
	for _, id := range ids {
		peers := make(map[string]string)
		for other, tr := range transports {
			if other == id {
				continue
			}
			peers[other] = tr.Addr()
		}
		transports[id].SetPeers(peers)
	}

	c := &fiveNodeCluster{ids: ids, nodes: make(map[string]*Node)}
	for _, id := range ids {
		id := id
		c.nodes[id] = New(Config{
			SelfID:    id,
			IsPrimary: id == "node1",
			PrimaryID: "node1",
			Transport: transports[id],
		})
	}
	t.Cleanup(func() {
		for _, n := range c.nodes {
			n.Close()
		}
	})
	return c
}

// awaitHeight polls until id's chain reaches height h or the deadline passes.
func (c *fiveNodeCluster) awaitHeight(t *testing.T, id string, h uint64, timeout time.Duration) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.nodes[id].chain.Height() >= h {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return c.nodes[id].chain.Height() >= h
}

func TestScenarioHappyPathFiveHonestNodes(t *testing.T) {
	c := newFiveNodeCluster(t)
	b, err := c.nodes["node1"].ClientSubmitBlock("hello")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if b.Height != 1 {
		t.Fatalf("expected height 1, got %d", b.Height)
	}
	for _, id := range c.ids {
		if !c.awaitHeight(t, id, 1, 2*time.Second) {
			t.Fatalf("%s never reached height 1", id)
		}
		blocks := c.nodes[id].GetBlockchain()
		if len(blocks) != 2 {
			t.Fatalf("%s: expected 2 blocks, got %d", id, len(blocks))
		}
		if blocks[1].Data != "hello" || blocks[1].Height != 1 {
			t.Fatalf("%s: unexpected block[1]: %+v", id, blocks[1])
		}
		if blocks[1].PreviousHash != blocks[0].Hash {
			t.Fatalf("%s: block[1] does not chain onto genesis", id)
		}
	}
}

func TestScenarioOneSilentReplicaStillReachesQuorum(t *testing.T) {
	c := newFiveNodeCluster(t)
	c.nodes["node3"].SetMaliciousMode(ModeSilent)

	if _, err := c.nodes["node1"].ClientSubmitBlock("x"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	for _, id := range []string{"node1", "node2", "node4", "node5"} {
		if !c.awaitHeight(t, id, 1, 2*time.Second) {
			t.Fatalf("%s should have committed despite node3 being silent", id)
		}
	}
}

func TestScenarioOneWrongHashReplicaStillReachesQuorumOnCorrectDigest(t *testing.T) {
	c := newFiveNodeCluster(t)
	c.nodes["node2"].SetMaliciousMode(ModeWrongHash)

	b, err := c.nodes["node1"].ClientSubmitBlock("y")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	for _, id := range []string{"node1", "node3", "node4", "node5"} {
		if !c.awaitHeight(t, id, 1, 2*time.Second) {
			t.Fatalf("%s should have committed the correct digest", id)
		}
		if c.nodes[id].chain.Tip().Hash != b.Hash {
			t.Fatalf("%s committed the wrong digest", id)
		}
	}
}

func TestScenarioTwoByzantineNodesSafetyBoundary(t *testing.T) {
	c := newFiveNodeCluster(t)
	c.nodes["node2"].SetMaliciousMode(ModeSilent)
	c.nodes["node3"].SetMaliciousMode(ModeWrongHash)

	if _, err := c.nodes["node1"].ClientSubmitBlock("z"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Honest count is exactly Q=3: node1, node4, node5.
	for _, id := range []string{"node1", "node4", "node5"} {
		if !c.awaitHeight(t, id, 1, 2*time.Second) {
			t.Fatalf("%s should still commit at the f-Byzantine safety boundary", id)
		}
	}
}

func TestScenarioThreeByzantineNodesLivenessViolation(t *testing.T) {
	c := newFiveNodeCluster(t)
	c.nodes["node2"].SetMaliciousMode(ModeSilent)
	c.nodes["node3"].SetMaliciousMode(ModeWrongHash)
	c.nodes["node4"].SetMaliciousMode(ModeSilent)

	if _, err := c.nodes["node1"].ClientSubmitBlock("w"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Honest count is 2 < Q=3: node1 and node5 can never reach quorum.
	time.Sleep(300 * time.Millisecond)
	for _, id := range []string{"node1", "node5"} {
		if c.nodes[id].chain.Height() != 0 {
			t.Fatalf("%s must not have committed with only 2 honest nodes, height=%d", id, c.nodes[id].chain.Height())
		}
	}
}

func TestSetMaliciousModeDoesNotAffectInboundValidation(t *testing.T) {
	c := newFiveNodeCluster(t)
	c.nodes["node2"].SetMaliciousMode(ModeWrongHash)
	status := c.nodes["node2"].GetStatus()
	if status.MaliciousMode != ModeWrongHash {
		t.Fatalf("expected GetStatus to report the active mode, got %q", status.MaliciousMode)
	}

	// Even while malicious outbound, node2 must still correctly reject
	// an invalid inbound block rather than ever applying it.
	bogus := chain.New("tampered", "not-the-real-parent", 1, 0, 1, 1)
	c.nodes["node2"].eng.OnPrePrepare(transport.PrePrepareMsg{View: 0, Seq: 1, Block: bogus, PrimaryID: "node1"})
	if c.nodes["node2"].chain.Height() != 0 {
		t.Fatal("malicious outbound mode must never relax inbound acceptance checks")
	}
}
