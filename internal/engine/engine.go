// Package engine implements the three-phase pBFT state machine: each
// sequence number walks IDLE -> PRE_PREPARED -> PREPARED -> COMMITTED
// -> APPLIED, or REJECTED on validation failure or equivocation.
//
// All mutation of the chain, the pending-block set and the message log
// happens under a single per-engine mutex, per the spec's concurrency
// model: there is no per-slot goroutine and no polling loop, state
// advances reactively as each inbound event (a received message, or a
// client submission on the primary) is handled.
package engine

import (
	"errors"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/caoanh44al3/pbft/internal/chain"
	"github.com/caoanh44al3/pbft/internal/msglog"
	"github.com/caoanh44al3/pbft/internal/transport"
)

// Sentinel errors matching spec.md's error taxonomy (§7). Validation
// errors on inbound peer messages are logged and dropped by the
// handlers below, never returned to a network caller; these are
// exported so tests can assert on them and so ClientSubmit can return
// them synchronously.
var (
	ErrNotPrimary   = errors.New("not primary")
	ErrInvalidBlock = errors.New("invalid block")
	ErrViewMismatch = errors.New("view mismatch")
	ErrChainFull    = errors.New("sequence number exhausted")
)

// Network is the outbound broadcast surface the engine needs. A
// *transport.Transport satisfies it structurally; tests substitute a
// fake that records what was sent.
type Network interface {
	Broadcast(tag uint8, msg interface{})
}

// Applied is called once per block, after it has been appended to the
// chain, in strictly increasing sequence order.
type Applied func(b chain.Block)

// Engine drives consensus for one node. The zero value is not usable;
// construct with New.
type Engine struct {
	mu sync.Mutex

	logger hclog.Logger
	self   string
	quorum int

	isPrimary bool
	primaryID string
	view      uint64
	nextSeq   uint64 // primary only: next sequence number to assign

	chain *chain.Store
	log   *msglog.Log
	net   Network

	// pending holds blocks under consensus, keyed by sequence number.
	// The data model names a single "pending_block"; this engine
	// generalizes it to one pending block per in-flight sequence
	// number, since §1(c) and §4.3's ordering-policy clause both
	// require the state machine to be re-entrant across many
	// concurrently outstanding proposals, not just one at a time.
	pending map[uint64]chain.Block

	onApplied      Applied
	onEquivocation func()
}

// Config bundles Engine's construction parameters.
type Config struct {
	SelfID    string
	IsPrimary bool
	PrimaryID string
	Quorum    int // Q = 2f+1
	Chain     *chain.Store
	Log       *msglog.Log
	Net       Network
	Logger    hclog.Logger
	OnApplied Applied

	// OnEquivocation, if set, fires once per rejected conflicting
	// pre-prepare (for metrics; never affects acceptance logic).
	OnEquivocation func()
}

// New builds an Engine ready to drive consensus starting at view 0.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Engine{
		logger:    logger.Named("engine"),
		self:      cfg.SelfID,
		quorum:    cfg.Quorum,
		isPrimary: cfg.IsPrimary,
		primaryID: cfg.PrimaryID,
		view:      0,
		nextSeq:   1,
		chain:     cfg.Chain,
		log:       cfg.Log,
		net:       cfg.Net,
		pending:        make(map[uint64]chain.Block),
		onApplied:      cfg.OnApplied,
		onEquivocation: cfg.OnEquivocation,
	}
}

// View returns the node's current view number.
func (e *Engine) View() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view
}

// IsPrimary reports whether this node is the primary for the current view.
func (e *Engine) IsPrimary() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isPrimary
}

// PrimaryID returns the id of the node currently acting as primary.
func (e *Engine) PrimaryID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.primaryID
}

// ClientSubmit is the primary-only entry point IDLE -> PRE_PREPARED:
// it takes the next sequence number, builds the block atop the current
// tip, records and broadcasts the pre-prepare, then immediately enters
// its own prepare phase as if it had received that pre-prepare itself.
func (e *Engine) ClientSubmit(data string, now int64) (chain.Block, error) {
	e.mu.Lock()
	if !e.isPrimary {
		e.mu.Unlock()
		return chain.Block{}, ErrNotPrimary
	}
	if e.nextSeq == 0 {
		e.mu.Unlock()
		return chain.Block{}, ErrChainFull
	}

	tip := e.chain.Tip()
	seq := e.nextSeq
	e.nextSeq++
	b := chain.New(data, tip.Hash, tip.Height+1, e.view, seq, now)

	if err := e.log.RecordPrePrepare(seq, b.Hash); err != nil {
		// The primary can never equivocate against itself; a collision
		// here would mean seq was reused, which nextSeq's monotonic
		// increment prevents.
		e.mu.Unlock()
		return chain.Block{}, err
	}
	e.pending[seq] = b
	e.logger.Info("client submit -> pre-prepare", "seq", seq, "height", b.Height, "digest", b.Hash)
	e.mu.Unlock()

	e.net.Broadcast(transport.PrePrepareTag, transport.PrePrepareMsg{
		View: e.view, Seq: seq, Block: b, PrimaryID: e.self,
	})
	e.enterPrepare(seq, b.Hash)
	return b, nil
}

// OnPrePrepare is the replica-side IDLE -> PRE_PREPARED transition.
func (e *Engine) OnPrePrepare(msg transport.PrePrepareMsg) {
	e.mu.Lock()
	if msg.View != e.view {
		e.mu.Unlock()
		e.logger.Warn("pre-prepare view mismatch", "seq", msg.Seq, "view", msg.View, "want", e.view)
		return
	}
	parent := e.chain.Tip()
	if msg.Block.Height > parent.Height+1 {
		// The block's parent has not applied yet: only the block's own
		// hash can be checked now; apply verifies it against the real
		// parent before appending.
		parent = chain.Block{Height: msg.Block.Height - 1, Hash: msg.Block.PreviousHash}
	}
	if err := chain.Verify(parent, msg.Block); err != nil {
		e.mu.Unlock()
		e.logger.Warn("rejecting invalid block", "seq", msg.Seq, "error", err)
		return
	}
	if err := e.log.RecordPrePrepare(msg.Seq, msg.Block.Hash); err != nil {
		e.mu.Unlock()
		e.logger.Warn("equivocation detected", "seq", msg.Seq, "error", err)
		if e.onEquivocation != nil {
			e.onEquivocation()
		}
		return
	}
	e.pending[msg.Seq] = msg.Block
	e.mu.Unlock()

	e.enterPrepare(msg.Seq, msg.Block.Hash)
}

// enterPrepare is PRE_PREPARED -> (emit Prepare): broadcast our own
// prepare vote and record it locally, exactly once.
func (e *Engine) enterPrepare(seq uint64, digest string) {
	e.mu.Lock()
	e.log.RecordPrepare(seq, digest, e.self)
	preparedNow := e.log.Prepared(seq, digest) && e.log.MarkPreparedSeen(seq, digest)
	e.mu.Unlock()

	e.net.Broadcast(transport.PrepareTag, transport.PrepareMsg{
		View: e.view, Seq: seq, Digest: digest, Sender: e.self,
	})
	if preparedNow {
		e.enterCommit(seq, digest)
	}
}

// OnPrepare records an inbound prepare vote; when (seq, digest) first
// reaches quorum, it fires the PREPARED -> (emit Commit) transition.
func (e *Engine) OnPrepare(msg transport.PrepareMsg) {
	e.mu.Lock()
	if msg.View != e.view {
		e.mu.Unlock()
		return
	}
	e.log.RecordPrepare(msg.Seq, msg.Digest, msg.Sender)
	fire := e.log.Prepared(msg.Seq, msg.Digest) && e.log.MarkPreparedSeen(msg.Seq, msg.Digest)
	e.mu.Unlock()

	if fire {
		e.enterCommit(msg.Seq, msg.Digest)
	}
}

// enterCommit broadcasts our own commit vote and records it locally.
func (e *Engine) enterCommit(seq uint64, digest string) {
	e.mu.Lock()
	e.log.RecordCommit(seq, digest, e.self)
	committedNow := e.log.CommittedLocal(seq, digest) && e.log.MarkCommittedSeen(seq, digest)
	e.mu.Unlock()

	e.net.Broadcast(transport.CommitTag, transport.CommitMsg{
		View: e.view, Seq: seq, Digest: digest, Sender: e.self,
	})
	if committedNow {
		e.apply(seq, digest)
	}
}

// OnCommit records an inbound commit vote; when (seq, digest) first
// reaches quorum and matches the pre-prepare on file for seq, it fires
// COMMITTED -> APPLIED. Votes that arrive before the pre-prepare are
// only recorded; the node's own enterCommit fires the apply later.
func (e *Engine) OnCommit(msg transport.CommitMsg) {
	e.mu.Lock()
	if msg.View != e.view {
		e.mu.Unlock()
		return
	}
	e.log.RecordCommit(msg.Seq, msg.Digest, msg.Sender)
	pp, havePP := e.log.PrePrepareDigest(msg.Seq)
	fire := havePP && pp == msg.Digest &&
		e.log.CommittedLocal(msg.Seq, msg.Digest) && e.log.MarkCommittedSeen(msg.Seq, msg.Digest)
	e.mu.Unlock()

	if fire {
		e.apply(msg.Seq, msg.Digest)
	}
}

// apply appends the pending block for seq to the chain, enforcing
// strictly increasing sequence order: if seq-1 has not applied yet,
// this commit is left marked-committed and will be picked up once the
// earlier slot's apply drains the backlog.
func (e *Engine) apply(seq uint64, digest string) {
	for {
		e.mu.Lock()
		tip := e.chain.Tip()
		b, ok := e.pending[seq]
		if !ok || b.Hash != digest {
			// Either already applied by a racing caller, or we never
			// saw a matching pre-prepare locally (vote was recorded
			// speculatively) — nothing to do yet.
			e.mu.Unlock()
			return
		}
		if seq != tip.Height+1 {
			// Out of order: an earlier sequence hasn't applied yet.
			// The commit stays recorded; whichever call applies
			// seq-1 will re-drive this one.
			e.mu.Unlock()
			return
		}
		if err := chain.Verify(tip, b); err != nil {
			e.logger.Error("refusing to apply invalid pending block", "seq", seq, "error", err)
			delete(e.pending, seq)
			e.mu.Unlock()
			return
		}
		e.chain.Append(b)
		delete(e.pending, seq)
		e.logger.Info("block applied", "seq", seq, "height", b.Height, "digest", b.Hash)
		cb := e.onApplied
		e.mu.Unlock()

		if cb != nil {
			cb(b)
		}

		// Drain any later sequence that committed while we were
		// blocked behind this one.
		next := seq + 1
		e.mu.Lock()
		nb, pending := e.pending[next]
		ready := pending && e.log.CommittedLocal(next, nb.Hash)
		e.mu.Unlock()
		if !ready {
			return
		}
		seq, digest = next, nb.Hash
	}
}

// Height returns the current chain height.
func (e *Engine) Height() uint64 {
	return e.chain.Height()
}
