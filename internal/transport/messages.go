package transport

import (
	"reflect"

	"github.com/caoanh44al3/pbft/internal/chain"
)

// Message type tags, used as the first byte of every frame so the
// receiving side knows which Go type to decode into.
const (
	PrePrepareTag uint8 = iota
	PrepareTag
	CommitTag
)

// PrePrepareMsg is broadcast by the primary to propose a block for seq.
type PrePrepareMsg struct {
	View      uint64
	Seq       uint64
	Block     chain.Block
	PrimaryID string
}

// PrepareMsg is broadcast by a node once it has accepted a pre-prepare.
type PrepareMsg struct {
	View   uint64
	Seq    uint64
	Digest string
	Sender string
}

// CommitMsg is broadcast by a node once (seq, digest) has prepared.
type CommitMsg struct {
	View   uint64
	Seq    uint64
	Digest string
	Sender string
}

var (
	prePrepareSample PrePrepareMsg
	prepareSample    PrepareMsg
	commitSample     CommitMsg
)

// reflectedTypesMap lets the transport decode an inbound frame into the
// concrete type its tag byte names, mirroring how a generated RPC stub
// would dispatch on method name.
var reflectedTypesMap = map[uint8]reflect.Type{
	PrePrepareTag: reflect.TypeOf(prePrepareSample),
	PrepareTag:    reflect.TypeOf(prepareSample),
	CommitTag:     reflect.TypeOf(commitSample),
}

// Envelope is what arrives on Transport's inbound channel: the decoded
// message plus which tag it decoded from.
type Envelope struct {
	Tag uint8
	Msg interface{}
}
