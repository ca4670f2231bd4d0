// Package msglog holds the per-sequence quorum bookkeeping: the
// primary's pre-prepare proposal for each slot, and the sets of
// replicas that have voted prepare/commit for each (seq, digest) pair.
//
// A simple counter is not enough here — a Byzantine sender can vote for
// more than one digest at the same sequence number, so correctness
// depends on counting only matching votes, keyed by (seq, digest).
package msglog

import (
	"errors"
	"fmt"
)

// ErrEquivocation is returned when a second, distinct pre-prepare
// arrives for a sequence number that already has one.
var ErrEquivocation = errors.New("equivocation: conflicting pre-prepare for sequence")

type seqDigest struct {
	seq    uint64
	digest string
}

// Log is the per-node message log. It is not safe for concurrent use
// on its own; callers serialize access under the consensus engine's
// single per-node lock, per spec's concurrency model.
type Log struct {
	quorum      int
	prePrepare  map[uint64]string // seq -> digest of the block the primary proposed
	prepareSet  map[seqDigest]map[string]struct{}
	commitSet   map[seqDigest]map[string]struct{}
	preparedAt  map[seqDigest]bool
	committedAt map[seqDigest]bool
}

// New returns an empty log that treats quorum matches as reaching Q
// votes, where Q is typically 2f+1 for the replica group.
func New(quorum int) *Log {
	return &Log{
		quorum:      quorum,
		prePrepare:  make(map[uint64]string),
		prepareSet:  make(map[seqDigest]map[string]struct{}),
		commitSet:   make(map[seqDigest]map[string]struct{}),
		preparedAt:  make(map[seqDigest]bool),
		committedAt: make(map[seqDigest]bool),
	}
}

// RecordPrePrepare stores the primary's proposal for seq, unless a
// distinct proposal is already on file for that slot.
func (l *Log) RecordPrePrepare(seq uint64, digest string) error {
	if existing, ok := l.prePrepare[seq]; ok {
		if existing != digest {
			return fmt.Errorf("%w: seq=%d have=%s got=%s", ErrEquivocation, seq, existing, digest)
		}
		return nil
	}
	l.prePrepare[seq] = digest
	return nil
}

// PrePrepareDigest returns the digest the primary proposed for seq, if any.
func (l *Log) PrePrepareDigest(seq uint64) (string, bool) {
	d, ok := l.prePrepare[seq]
	return d, ok
}

// RecordPrepare adds sender to the prepare set for (seq, digest).
// Duplicate senders are a no-op.
func (l *Log) RecordPrepare(seq uint64, digest, sender string) {
	key := seqDigest{seq, digest}
	set, ok := l.prepareSet[key]
	if !ok {
		set = make(map[string]struct{})
		l.prepareSet[key] = set
	}
	set[sender] = struct{}{}
}

// RecordCommit adds sender to the commit set for (seq, digest).
func (l *Log) RecordCommit(seq uint64, digest, sender string) {
	key := seqDigest{seq, digest}
	set, ok := l.commitSet[key]
	if !ok {
		set = make(map[string]struct{})
		l.commitSet[key] = set
	}
	set[sender] = struct{}{}
}

// PrepareCount returns how many distinct senders have prepared (seq, digest).
func (l *Log) PrepareCount(seq uint64, digest string) int {
	return len(l.prepareSet[seqDigest{seq, digest}])
}

// CommitCount returns how many distinct senders have committed (seq, digest).
func (l *Log) CommitCount(seq uint64, digest string) int {
	return len(l.commitSet[seqDigest{seq, digest}])
}

// Prepared reports whether (seq, digest) has reached quorum on prepare
// votes AND matches the pre-prepare on file for seq.
func (l *Log) Prepared(seq uint64, digest string) bool {
	pp, ok := l.prePrepare[seq]
	if !ok || pp != digest {
		return false
	}
	return l.PrepareCount(seq, digest) >= l.quorum
}

// CommittedLocal reports whether (seq, digest) has reached quorum on
// commit votes.
func (l *Log) CommittedLocal(seq uint64, digest string) bool {
	return l.CommitCount(seq, digest) >= l.quorum
}

// MarkPreparedSeen guards the prepared->commit transition so it fires
// at most once per (seq, digest). Returns true the first time it is
// called for a given key.
func (l *Log) MarkPreparedSeen(seq uint64, digest string) bool {
	key := seqDigest{seq, digest}
	if l.preparedAt[key] {
		return false
	}
	l.preparedAt[key] = true
	return true
}

// MarkCommittedSeen guards the commit->apply transition the same way.
func (l *Log) MarkCommittedSeen(seq uint64, digest string) bool {
	key := seqDigest{seq, digest}
	if l.committedAt[key] {
		return false
	}
	l.committedAt[key] = true
	return true
}
