package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestHDeterministic(t *testing.T) {
	a := H("hello", "abc", 1)
	b := H("hello", "abc", 1)
	if a != b {
		t.Fatalf("H is not deterministic: %q != %q", a, b)
	}
}

func TestHSensitiveToEachField(t *testing.T) {
	base := H("data", "prev", 3)
	if H("data2", "prev", 3) == base {
		t.Error("digest did not change with data")
	}
	if H("data", "prev2", 3) == base {
		t.Error("digest did not change with previousHash")
	}
	if H("data", "prev", 4) == base {
		t.Error("digest did not change with height")
	}
}

func TestGenesisDigestMatchesSpec(t *testing.T) {
	got := H("genesis", "", 0)
	sum := sha256.Sum256([]byte("genesis" + "" + "0"))
	want := hex.EncodeToString(sum[:])
	if got != want {
		t.Fatalf("genesis digest mismatch")
	}
}

func TestCorruptIsDeterministicAndDiffersFromInput(t *testing.T) {
	real := H("data", "prev", 1)
	bad1 := Corrupt(real)
	bad2 := Corrupt(real)
	if bad1 != bad2 {
		t.Fatal("Corrupt must be deterministic for a given digest")
	}
	if bad1 == real {
		t.Fatal("Corrupt must never return the real digest")
	}
}

func TestPlaceholderVariesBySender(t *testing.T) {
	if string(Placeholder("a")) == string(Placeholder("b")) {
		t.Fatal("placeholder signature should differ by sender id")
	}
}
