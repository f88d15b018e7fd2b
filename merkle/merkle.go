// Package merkle implements the sparse state commitment of spec.md §4.2: a
// keyed authenticator over 20-byte addresses whose root is a function only
// of the current {address → leaf} map, independent of insertion order.
//
// Adapted from the teacher's common/ssz/ssz.go pair-hashing primitives
// (HashNodes/Merkleize/zeroTreeRoot), generalized from an SSZ list tree
// into a sorted-key authenticator: leaves are first turned into
// order-independent "entry hashes" H(key || leaf), sorted by key, then
// merkleized exactly as the teacher merkleizes an SSZ list.
package merkle

import (
	"crypto/sha256"
	"sort"
	"sync"

	"github.com/leancorelabs/chain/types"
)

// Tree is a sparse, lazily-rooted authenticator over 20-byte keys.
type Tree struct {
	mu     sync.RWMutex
	leaves map[types.Address]types.Hash
	dirty  bool
	root   types.Hash
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{leaves: make(map[types.Address]types.Hash)}
}

// Update sets the leaf for key, to be reflected by the next Root() call.
func (t *Tree) Update(key types.Address, leaf types.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leaves[key] = leaf
	t.dirty = true
}

// Delete removes key from the tree.
func (t *Tree) Delete(key types.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.leaves, key)
	t.dirty = true
}

// Entry is one (key, leaf) pair for BatchUpdate.
type Entry struct {
	Key  types.Address
	Leaf types.Hash
}

// BatchUpdate applies many updates, marking the root dirty once rather than
// per update.
func (t *Tree) BatchUpdate(entries []Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range entries {
		t.leaves[e.Key] = e.Leaf
	}
	if len(entries) > 0 {
		t.dirty = true
	}
}

// Len returns the number of live leaves.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.leaves)
}

// entryHash is the order-independent per-key leaf commitment.
func entryHash(key types.Address, leaf types.Hash) types.Hash {
	h := sha256.New()
	h.Write(key[:])
	h.Write(leaf[:])
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

func hashNodes(a, b types.Hash) types.Hash {
	h := sha256.New()
	h.Write(a[:])
	h.Write(b[:])
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

func nextPowerOfTwo(x int) int {
	if x <= 1 {
		return 1
	}
	n := x - 1
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

func zeroSubtreeRoot(width int) types.Hash {
	h := types.ZeroHash
	for width > 1 {
		h = hashNodes(h, h)
		width /= 2
	}
	return h
}

// sortedKeys returns the tree's keys in byte-lexicographic order, the
// canonical order used for both root computation and proof indexing.
func (t *Tree) sortedKeys() []types.Address {
	keys := make([]types.Address, 0, len(t.leaves))
	for k := range t.leaves {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
	return keys
}

// Root computes the authenticator digest as a function of the current
// key/leaf set. Idempotent re-insertion and any permutation of insertion
// order produce the same root, because the leaf set — not the insertion
// history — is hashed.
func (t *Tree) Root() types.Hash {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rootLocked()
}

func (t *Tree) rootLocked() types.Hash {
	if !t.dirty {
		return t.root
	}
	keys := t.sortedKeys()
	if len(keys) == 0 {
		t.root = types.ZeroHash
		t.dirty = false
		return t.root
	}
	chunks := make([]types.Hash, len(keys))
	for i, k := range keys {
		chunks[i] = entryHash(k, t.leaves[k])
	}
	t.root = merkleize(chunks)
	t.dirty = false
	return t.root
}

// HashList merkleizes an ordered list of leaf hashes (e.g. a block's
// transaction or receipt hash list), using the same pair-hashing primitive
// as the sparse authenticator's root computation. Unlike Root, the input
// order matters: this is for ordered lists, not the order-independent
// address-keyed map.
func HashList(chunks []types.Hash) types.Hash {
	if len(chunks) == 0 {
		return types.ZeroHash
	}
	return merkleize(chunks)
}

func merkleize(chunks []types.Hash) types.Hash {
	n := len(chunks)
	width := nextPowerOfTwo(n)
	if width == 1 {
		return chunks[0]
	}
	level := make([]types.Hash, width)
	copy(level, chunks)
	for i := n; i < width; i++ {
		level[i] = types.ZeroHash
	}
	for len(level) > 1 {
		next := make([]types.Hash, len(level)/2)
		for i := range next {
			next[i] = hashNodes(level[i*2], level[i*2+1])
		}
		level = next
	}
	return level[0]
}

// Proof authenticates one leaf's membership against the tree's root. A
// proof with Present=false records only that the key was not found and the
// leaf count; it carries no siblings and cannot be checked against the root.
type Proof struct {
	Present   bool
	Index     int
	NumLeaves int
	Siblings  []types.Hash
}

// Prove returns a proof sufficient to re-derive the root from (key, leaf,
// proof) when the key is present. When the key is absent it returns a proof
// with Present=false and no siblings, from which the root cannot be
// re-derived.
func (t *Tree) Prove(key types.Address) Proof {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := t.sortedKeys()

	idx := sort.Search(len(keys), func(i int) bool { return keys[i].Compare(key) >= 0 })
	present := idx < len(keys) && keys[idx] == key
	if !present {
		return Proof{Present: false, NumLeaves: len(keys)}
	}

	chunks := make([]types.Hash, len(keys))
	for i, k := range keys {
		chunks[i] = entryHash(k, t.leaves[k])
	}
	width := nextPowerOfTwo(len(chunks))
	level := make([]types.Hash, width)
	copy(level, chunks)
	for i := len(chunks); i < width; i++ {
		level[i] = types.ZeroHash
	}

	siblings := make([]types.Hash, 0, log2(width))
	pos := idx
	for len(level) > 1 {
		var sib types.Hash
		if pos%2 == 0 {
			sib = level[pos+1]
		} else {
			sib = level[pos-1]
		}
		siblings = append(siblings, sib)

		next := make([]types.Hash, len(level)/2)
		for i := range next {
			next[i] = hashNodes(level[i*2], level[i*2+1])
		}
		level = next
		pos /= 2
	}
	return Proof{Present: true, Index: idx, NumLeaves: len(keys), Siblings: siblings}
}

func log2(n int) int {
	c := 0
	for n > 1 {
		n /= 2
		c++
	}
	return c
}

// VerifyMembership re-derives root from (key, leaf, proof).
func VerifyMembership(root types.Hash, key types.Address, leaf types.Hash, proof Proof) bool {
	if !proof.Present {
		return false
	}
	cur := entryHash(key, leaf)
	pos := proof.Index
	for _, sib := range proof.Siblings {
		if pos%2 == 0 {
			cur = hashNodes(cur, sib)
		} else {
			cur = hashNodes(sib, cur)
		}
		pos /= 2
	}
	return cur == root
}
