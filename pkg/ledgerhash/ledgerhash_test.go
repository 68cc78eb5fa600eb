package ledgerhash

import "testing"

func TestComputeEventHash_Deterministic(t *testing.T) {
	h1 := ComputeEventHash("prev", "2025-01-01T00:00:00.000000Z", "certificate", "cert-1", "issued", `{"a":1}`)
	h2 := ComputeEventHash("prev", "2025-01-01T00:00:00.000000Z", "certificate", "cert-1", "issued", `{"a":1}`)
	if h1 != h2 {
		t.Errorf("hash not deterministic: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(h1))
	}
}

func TestComputeEventHash_EmptyPrev(t *testing.T) {
	// First event in a chain: nil prev hashes as empty string.
	withEmpty := ComputeEventHash("", "t", "o", "i", "a", "p")
	direct := HashContent("toiap")
	if withEmpty != direct {
		t.Errorf("empty prev must concatenate as empty string: %s vs %s", withEmpty, direct)
	}
}

func TestComputeEventHash_FieldSensitivity(t *testing.T) {
	base := ComputeEventHash("p", "t", "o", "i", "a", "payload")
	mutations := []string{
		ComputeEventHash("x", "t", "o", "i", "a", "payload"),
		ComputeEventHash("p", "x", "o", "i", "a", "payload"),
		ComputeEventHash("p", "t", "x", "i", "a", "payload"),
		ComputeEventHash("p", "t", "o", "x", "a", "payload"),
		ComputeEventHash("p", "t", "o", "i", "x", "payload"),
		ComputeEventHash("p", "t", "o", "i", "a", "tampered"),
	}
	for i, m := range mutations {
		if m == base {
			t.Errorf("mutation %d did not change hash", i)
		}
	}
}
