package transport

import (
	"testing"
	"time"

	"github.com/caoanh44al3/pbft/internal/chain"
)

func mustListen(t *testing.T, id, addr string, peers map[string]string) *Transport {
	t.Helper()
	tr, err := Listen(id, addr, peers, nil)
	if err != nil {
		t.Fatalf("listen %s: %v", id, err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func recvWithin(t *testing.T, tr *Transport, d time.Duration) Envelope {
	t.Helper()
	select {
	case env := <-tr.MsgChan():
		return env
	case <-time.After(d):
		t.Fatal("timed out waiting for message")
		return Envelope{}
	}
}

func TestSendDeliversDecodedPrePrepare(t *testing.T) {
	a := mustListen(t, "a", "127.0.0.1:0", nil)
	b := mustListen(t, "b", "127.0.0.1:0", nil)

	a.peers = map[string]string{"b": b.listener.Addr().String()}

	block := chain.New("payload", "prevhash", 1, 0, 1, 42)
	if err := a.Send("b", PrePrepareTag, PrePrepareMsg{View: 0, Seq: 1, Block: block, PrimaryID: "a"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	env := recvWithin(t, b, 2*time.Second)
	if env.Tag != PrePrepareTag {
		t.Fatalf("expected PrePrepareTag, got %d", env.Tag)
	}
	got, ok := env.Msg.(PrePrepareMsg)
	if !ok {
		t.Fatalf("expected PrePrepareMsg, got %T", env.Msg)
	}
	if got.Seq != 1 || got.Block.Data != "payload" || got.PrimaryID != "a" {
		t.Fatalf("decoded message mismatch: %+v", got)
	}
}

func TestSendToUnknownPeerFails(t *testing.T) {
	a := mustListen(t, "a", "127.0.0.1:0", nil)
	if err := a.Send("ghost", CommitTag, CommitMsg{}); err != ErrUnknownPeer {
		t.Fatalf("expected ErrUnknownPeer, got %v", err)
	}
}

func TestBroadcastReachesAllPeersConcurrently(t *testing.T) {
	b := mustListen(t, "b", "127.0.0.1:0", nil)
	c := mustListen(t, "c", "127.0.0.1:0", nil)
	// d is never listening; a silent/unreachable peer must not block
	// delivery to b and c.
	a := mustListen(t, "a", "127.0.0.1:0", map[string]string{
		"b": b.listener.Addr().String(),
		"c": c.listener.Addr().String(),
		"d": "127.0.0.1:1", // reserved, nothing listens there
	})

	done := make(chan struct{})
	go func() {
		a.Broadcast(PrepareTag, PrepareMsg{View: 0, Seq: 5, Digest: "dig", Sender: "a"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("broadcast blocked, likely serialized on the unreachable peer")
	}

	for _, tr := range []*Transport{b, c} {
		env := recvWithin(t, tr, 2*time.Second)
		got, ok := env.Msg.(PrepareMsg)
		if !ok || got.Seq != 5 || got.Digest != "dig" {
			t.Fatalf("unexpected message: %+v ok=%v", env, ok)
		}
	}
}
