package facade

import (
	"errors"
	"testing"

	"github.com/caoanh44al3/pbft/internal/chain"
)

type fakeHandlers struct {
	submitted []string
	mode      string
}

func (f *fakeHandlers) SubmitBlock(req SubmitRequest) (SubmitResponse, error) {
	if req.Data == "" {
		return SubmitResponse{}, errors.New("empty data")
	}
	f.submitted = append(f.submitted, req.Data)
	return SubmitResponse{Height: uint64(len(f.submitted)), BlockHash: "h-" + req.Data, PrimaryID: "node1"}, nil
}

func (f *fakeHandlers) Blockchain(req BlockchainRequest) (BlockchainResponse, error) {
	return BlockchainResponse{Blocks: []chain.Block{chain.Genesis()}}, nil
}

func (f *fakeHandlers) Status(req StatusRequest) (StatusResponse, error) {
	return StatusResponse{NodeID: "node1", View: 0, IsPrimary: true, PrimaryID: "node1", ChainHeight: 0, MaliciousMode: f.mode}, nil
}

func (f *fakeHandlers) SetMaliciousMode(req SetMaliciousRequest) (SetMaliciousResponse, error) {
	f.mode = req.Mode
	return SetMaliciousResponse{Mode: req.Mode}, nil
}

func newTestServer(t *testing.T) (*Client, *fakeHandlers) {
	t.Helper()
	h := &fakeHandlers{mode: "honest"}
	srv, err := Listen("127.0.0.1:0", h, nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return NewClient(srv.Addr()), h
}

func TestSubmitBlockRoundTrip(t *testing.T) {
	c, h := newTestServer(t)
	resp, err := c.SubmitBlock("payload")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.Height != 1 || resp.BlockHash != "h-payload" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(h.submitted) != 1 || h.submitted[0] != "payload" {
		t.Fatalf("handler did not see submission: %+v", h.submitted)
	}
}

func TestSubmitBlockErrorPropagates(t *testing.T) {
	c, _ := newTestServer(t)
	if _, err := c.SubmitBlock(""); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestBlockchainRoundTrip(t *testing.T) {
	c, _ := newTestServer(t)
	resp, err := c.Blockchain()
	if err != nil {
		t.Fatalf("blockchain: %v", err)
	}
	if len(resp.Blocks) != 1 || resp.Blocks[0].Data != "genesis" {
		t.Fatalf("unexpected blocks: %+v", resp.Blocks)
	}
}

func TestStatusAndSetMaliciousModeRoundTrip(t *testing.T) {
	c, _ := newTestServer(t)
	if _, err := c.SetMaliciousMode("silent"); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	status, err := c.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.MaliciousMode != "silent" {
		t.Fatalf("expected mode to stick, got %q", status.MaliciousMode)
	}
}
