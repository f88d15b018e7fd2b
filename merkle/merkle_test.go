package merkle

import (
	"math/rand"
	"testing"

	"github.com/leancorelabs/chain/types"
)

func addr(b byte) types.Address {
	var a types.Address
	a[0] = b
	return a
}

func leafHash(b byte) types.Hash {
	var h types.Hash
	h[0] = b
	return h
}

func TestRootOrderingIndependence(t *testing.T) {
	entries := make([]Entry, 20)
	for i := range entries {
		entries[i] = Entry{Key: addr(byte(i)), Leaf: leafHash(byte(i * 3))}
	}

	t1 := New()
	for _, e := range entries {
		t1.Update(e.Key, e.Leaf)
	}
	root1 := t1.Root()

	shuffled := append([]Entry(nil), entries...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	t2 := New()
	for _, e := range shuffled {
		t2.Update(e.Key, e.Leaf)
	}
	root2 := t2.Root()

	if root1 != root2 {
		t.Fatalf("root must be independent of insertion order")
	}
}

func TestRootIdempotentReinsertion(t *testing.T) {
	tr := New()
	tr.Update(addr(1), leafHash(1))
	root1 := tr.Root()
	tr.Update(addr(1), leafHash(1))
	root2 := tr.Root()
	if root1 != root2 {
		t.Fatalf("re-inserting the same leaf must not change the root")
	}
}

func TestBatchUpdateMatchesIndividual(t *testing.T) {
	individual := New()
	individual.Update(addr(1), leafHash(10))
	individual.Update(addr(2), leafHash(20))

	batched := New()
	batched.BatchUpdate([]Entry{
		{Key: addr(1), Leaf: leafHash(10)},
		{Key: addr(2), Leaf: leafHash(20)},
	})

	if individual.Root() != batched.Root() {
		t.Fatalf("batch update must produce the same root as individual updates")
	}
}

func TestDeleteChangesRoot(t *testing.T) {
	tr := New()
	tr.Update(addr(1), leafHash(1))
	tr.Update(addr(2), leafHash(2))
	before := tr.Root()
	tr.Delete(addr(2))
	after := tr.Root()
	if before == after {
		t.Fatalf("deleting a leaf must change the root")
	}
}

func TestProveVerifyMembership(t *testing.T) {
	tr := New()
	for i := 0; i < 10; i++ {
		tr.Update(addr(byte(i)), leafHash(byte(i)))
	}
	root := tr.Root()

	for i := 0; i < 10; i++ {
		proof := tr.Prove(addr(byte(i)))
		if !proof.Present {
			t.Fatalf("expected key %d to be present", i)
		}
		if !VerifyMembership(root, addr(byte(i)), leafHash(byte(i)), proof) {
			t.Fatalf("membership proof failed for key %d", i)
		}
	}
}

func TestProveAbsence(t *testing.T) {
	tr := New()
	tr.Update(addr(1), leafHash(1))
	proof := tr.Prove(addr(99))
	if proof.Present {
		t.Fatalf("expected key 99 to be absent")
	}
}
