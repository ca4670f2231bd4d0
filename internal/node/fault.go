package node

import (
	"fmt"
	"sync/atomic"

	"github.com/caoanh44al3/pbft/internal/digest"
	"github.com/caoanh44al3/pbft/internal/engine"
	"github.com/caoanh44al3/pbft/internal/transport"
)

// Mode names the behavior toggles §4.6 describes as an
// observability/testing interface layered outside consensus logic,
// never altering inbound acceptance rules.
type Mode string

const (
	ModeHonest    Mode = "honest"
	ModeSilent    Mode = "silent"
	ModeWrongHash Mode = "wrong_hash"
)

// ParseMode validates a mode name from the client control surface.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeHonest, ModeSilent, ModeWrongHash:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown malicious mode %q", s)
	}
}

// faultyNetwork wraps a real engine.Network and mutates what leaves
// the node according to the current Mode, without touching anything
// about how inbound messages are validated or accepted. silent drops
// every outbound consensus message; wrong_hash substitutes a bogus
// digest on outbound Prepare/Commit votes only, matching §8 scenario 3
// where the primary's own pre-prepare block is untouched.
type faultyNetwork struct {
	inner engine.Network
	mode  *atomic.Value // holds Mode
}

func newFaultyNetwork(inner engine.Network) *faultyNetwork {
	v := &atomic.Value{}
	v.Store(ModeHonest)
	return &faultyNetwork{inner: inner, mode: v}
}

func (f *faultyNetwork) setMode(m Mode) { f.mode.Store(m) }

func (f *faultyNetwork) currentMode() Mode { return f.mode.Load().(Mode) }

func (f *faultyNetwork) Broadcast(tag uint8, msg interface{}) {
	switch f.currentMode() {
	case ModeSilent:
		return
	case ModeWrongHash:
		switch m := msg.(type) {
		case transport.PrepareMsg:
			m.Digest = digest.Corrupt(m.Digest)
			msg = m
		case transport.CommitMsg:
			m.Digest = digest.Corrupt(m.Digest)
			msg = m
		}
	}
	f.inner.Broadcast(tag, msg)
}
