// Package chain holds the replicated Block type and the in-memory,
// append-only store every node builds its blockchain from.
package chain

import (
	"fmt"

	"github.com/caoanh44al3/pbft/internal/digest"
)

// Block is the unit replicated by consensus.
type Block struct {
	Height       uint64 `json:"block_height"`
	PreviousHash string `json:"previous_hash"`
	Hash         string `json:"block_hash"`
	Timestamp    int64  `json:"timestamp"`
	Data         string `json:"data"`
	View         uint64 `json:"view_number"`
	Seq          uint64 `json:"sequence_number"`
}

// Genesis builds the fixed genesis block every node constructs
// identically at startup.
func Genesis() Block {
	b := Block{
		Height:       0,
		PreviousHash: "",
		Timestamp:    0,
		Data:         "genesis",
		View:         0,
		Seq:          0,
	}
	b.Hash = digest.H(b.Data, b.PreviousHash, b.Height)
	return b
}

// New populates a block's fields and sets its hash, as the primary does
// when it takes the next sequence number for a client's payload.
func New(data string, previousHash string, height, view, seq uint64, now int64) Block {
	b := Block{
		Height:       height,
		PreviousHash: previousHash,
		Timestamp:    now,
		Data:         data,
		View:         view,
		Seq:          seq,
	}
	b.Hash = digest.H(b.Data, b.PreviousHash, b.Height)
	return b
}

// Verify recomputes b's hash and checks it chains correctly onto tip.
func Verify(tip Block, b Block) error {
	if b.Height != tip.Height+1 {
		return fmt.Errorf("invalid height: expected %d, got %d", tip.Height+1, b.Height)
	}
	if b.PreviousHash != tip.Hash {
		return fmt.Errorf("invalid previous hash: expected %s, got %s", tip.Hash, b.PreviousHash)
	}
	want := digest.H(b.Data, b.PreviousHash, b.Height)
	if b.Hash != want {
		return fmt.Errorf("invalid block hash: expected %s, got %s", want, b.Hash)
	}
	return nil
}
