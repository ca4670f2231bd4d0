// Package node assembles the chain store, message log, consensus
// engine and peer transport into the single facade a node's control
// surface and its wire listener both drive, and layers the malicious
// behavior toggles on top without the engine ever knowing they exist.
package node

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/caoanh44al3/pbft/internal/chain"
	"github.com/caoanh44al3/pbft/internal/engine"
	"github.com/caoanh44al3/pbft/internal/msglog"
	"github.com/caoanh44al3/pbft/internal/transport"
)

// Quorum is Q = 2f+1 for the reference N=5, f=1 configuration.
const Quorum = 3

// Metrics is the subset of internal/metrics a node reports to; kept as
// an interface here so this package never imports the metrics package
// directly and a test can supply a no-op.
type Metrics interface {
	ObserveBlockApplied(height uint64)
	SetView(v uint64)
	SetChainHeight(h uint64)
	IncPrepareVote()
	IncCommitVote()
	IncEquivocation()
}

type nopMetrics struct{}

func (nopMetrics) ObserveBlockApplied(uint64) {}
func (nopMetrics) SetView(uint64)             {}
func (nopMetrics) SetChainHeight(uint64)      {}
func (nopMetrics) IncPrepareVote()            {}
func (nopMetrics) IncCommitVote()             {}
func (nopMetrics) IncEquivocation()           {}

// Status mirrors the §4.5 GetStatus reply: consensus state plus
// whatever malicious mode this node is currently running under.
type Status struct {
	NodeID        string
	View          uint64
	IsPrimary     bool
	PrimaryID     string
	ChainHeight   uint64
	MaliciousMode Mode
}

// Config bundles everything needed to stand a Node up.
type Config struct {
	SelfID    string
	IsPrimary bool
	PrimaryID string
	Transport *transport.Transport
	Logger    hclog.Logger
	Metrics   Metrics
	Clock     func() int64 // defaults to time.Now().Unix()
}

// Node is the facade described in §4.5: it owns the replicated chain,
// the quorum log, the consensus engine and the peer transport for one
// replica, and exposes the client-facing operations a control
// listener or an in-process caller drives.
type Node struct {
	id      string
	logger  hclog.Logger
	metrics Metrics
	clock   func() int64

	chain *chain.Store
	log   *msglog.Log
	eng   *engine.Engine
	tr    *transport.Transport
	fn    *faultyNetwork

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Node and starts its inbound dispatch loop; call Close
// to stop it.
func New(cfg Config) *Node {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() int64 { return time.Now().Unix() }
	}

	n := &Node{
		id:      cfg.SelfID,
		logger:  logger.Named("node"),
		metrics: metrics,
		clock:   clock,
		chain:   chain.NewStore(),
		log:     msglog.New(Quorum),
		tr:      cfg.Transport,
		stopCh:  make(chan struct{}),
	}
	n.fn = newFaultyNetwork(cfg.Transport)
	n.eng = engine.New(engine.Config{
		SelfID:    cfg.SelfID,
		IsPrimary: cfg.IsPrimary,
		PrimaryID: cfg.PrimaryID,
		Quorum:    Quorum,
		Chain:     n.chain,
		Log:       n.log,
		Net:       n.fn,
		Logger:    logger,
		OnApplied: func(b chain.Block) {
			n.metrics.ObserveBlockApplied(b.Height)
			n.metrics.SetChainHeight(b.Height)
		},
		OnEquivocation: func() {
			n.metrics.IncEquivocation()
		},
	})
	n.metrics.SetView(n.eng.View())
	n.metrics.SetChainHeight(n.chain.Height())

	go n.dispatchLoop()
	return n
}

// dispatchLoop is the single goroutine that drains the transport's
// inbound channel and drives the engine reactively, one message at a
// time, per the event-handler model spec.md recommends over a
// coroutine-per-slot design.
func (n *Node) dispatchLoop() {
	for {
		select {
		case <-n.stopCh:
			return
		case env, ok := <-n.tr.MsgChan():
			if !ok {
				return
			}
			n.handle(env)
		}
	}
}

func (n *Node) handle(env transport.Envelope) {
	switch env.Tag {
	case transport.PrePrepareTag:
		n.eng.OnPrePrepare(env.Msg.(transport.PrePrepareMsg))
	case transport.PrepareTag:
		n.metrics.IncPrepareVote()
		n.eng.OnPrepare(env.Msg.(transport.PrepareMsg))
	case transport.CommitTag:
		n.metrics.IncCommitVote()
		n.eng.OnCommit(env.Msg.(transport.CommitMsg))
	default:
		n.logger.Warn("dropping frame with unknown tag", "tag", env.Tag)
	}
}

// ClientSubmitBlock is the single write entry point a client drives.
// Only the primary accepts it; a replica returns engine.ErrNotPrimary
// per Open Question (b) rather than forwarding on the client's behalf.
func (n *Node) ClientSubmitBlock(data string) (chain.Block, error) {
	return n.eng.ClientSubmit(data, n.clock())
}

// GetBlockchain returns the node's full local chain.
func (n *Node) GetBlockchain() []chain.Block {
	return n.chain.Blocks()
}

// GetStatus reports this node's consensus state and current malicious
// mode, folding fault-injection visibility into the same call per the
// SetMaliciousMode / GetStatus pairing the client CLI relies on.
func (n *Node) GetStatus() Status {
	return Status{
		NodeID:        n.id,
		View:          n.eng.View(),
		IsPrimary:     n.eng.IsPrimary(),
		PrimaryID:     n.eng.PrimaryID(),
		ChainHeight:   n.chain.Height(),
		MaliciousMode: n.fn.currentMode(),
	}
}

// SetMaliciousMode switches this node's outbound fault-injection
// behavior. It never touches inbound validation (§4.6).
func (n *Node) SetMaliciousMode(mode Mode) {
	n.fn.setMode(mode)
	n.logger.Warn("malicious mode changed", "mode", mode)
}

// Close stops the dispatch loop and the underlying transport.
func (n *Node) Close() error {
	n.stopOnce.Do(func() { close(n.stopCh) })
	return n.tr.Close()
}
