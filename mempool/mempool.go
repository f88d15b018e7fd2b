// Package mempool implements the fee-priority transaction queue of
// spec.md §4.5: two indices (by hash, by sender) over a fee-rate priority
// queue with replace-by-fee and capacity eviction.
//
// Grounded in _examples/original_source/crates/mempool/src/pool.rs: the
// BinaryHeap-of-PrioritizedTx-plus-two-HashMaps shape, the replace-by-fee
// check, and the evict-lowest-on-capacity policy are all adapted directly
// from that source, swapping Rust's BinaryHeap for Go's container/heap (the
// standard idiom the pack reaches for — no pack library specializes a
// priority queue, so this is the one place a stdlib container type is the
// correct choice rather than a gap).
package mempool

import (
	"container/heap"
	"sync"

	"github.com/holiman/uint256"

	"github.com/leancorelabs/chain/cryptoprim"
	"github.com/leancorelabs/chain/errs"
	"github.com/leancorelabs/chain/ledger"
	"github.com/leancorelabs/chain/types"
)

// Config holds the admission parameters from spec.md §4.5/§6.
type Config struct {
	MaxSize uint64
	MinFee  uint64
}

type entry struct {
	tx        *ledger.Transaction
	hash      types.Hash
	feeRate   *uint256.Int
	timestamp uint64
	index     int
}

// priorityQueue is a container/heap max-heap ordered by fee-per-byte, with
// ties broken in favor of the earlier insertion timestamp.
type priorityQueue []*entry

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	cmp := pq[i].feeRate.Cmp(pq[j].feeRate)
	if cmp != 0 {
		return cmp > 0
	}
	return pq[i].timestamp < pq[j].timestamp
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*pq)
	*pq = append(*pq, e)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*pq = old[:n-1]
	return e
}

// Mempool is a priority queue of pending transactions with by-hash and
// by-sender indices.
type Mempool struct {
	mu       sync.Mutex
	pq       priorityQueue
	byHash   map[types.Hash]*entry
	bySender map[types.Address]map[types.Hash]struct{}
	clock    uint64
	cfg      Config
}

func New(cfg Config) *Mempool {
	return &Mempool{
		byHash:   make(map[types.Hash]*entry),
		bySender: make(map[types.Address]map[types.Hash]struct{}),
		cfg:      cfg,
	}
}

func feeRateOf(tx *ledger.Transaction) (*uint256.Int, error) {
	b, err := tx.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return new(uint256.Int).Set(tx.Fee), nil
	}
	return new(uint256.Int).Div(tx.Fee, uint256.NewInt(uint64(len(b)))), nil
}

// Add verifies signature and fee floor, then admits tx. A transaction
// already present with the same sender and nonce is replaced only if the
// new fee exceeds the existing fee by at least 10%. At capacity, the
// lowest-priority entry is evicted first.
func (m *Mempool) Add(tx *ledger.Transaction) error {
	txHash := tx.Hash()
	ok, err := cryptoprim.Verify(tx.SenderPubkey, txHash[:], tx.Signature)
	if err != nil || !ok {
		return errs.Wrap(errs.Signature, errs.ErrSignatureMismatch)
	}
	if tx.Fee.Cmp(types.NewAmount(m.cfg.MinFee)) < 0 {
		return errs.Wrap(errs.Economic, errs.ErrFeeBelowFloor)
	}

	feeRate, err := feeRateOf(tx)
	if err != nil {
		return errs.Wrap(errs.Validation, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var existing *entry
	for h := range m.bySender[tx.Sender] {
		if e := m.byHash[h]; e.tx.Nonce == tx.Nonce {
			existing = e
			break
		}
	}
	if existing != nil {
		threshold := new(uint256.Int).Div(existing.tx.Fee, uint256.NewInt(10))
		threshold.Add(threshold, existing.tx.Fee)
		if tx.Fee.Cmp(threshold) < 0 {
			return errs.New(errs.Economic, "replacement fee must exceed existing fee by at least 10%")
		}
		m.removeLocked(existing.hash)
		m.rebuildLocked()
	}

	if uint64(len(m.byHash)) >= m.cfg.MaxSize {
		m.evictLowestLocked()
	}

	e := &entry{tx: tx, hash: txHash, feeRate: feeRate, timestamp: m.clock}
	m.clock++
	heap.Push(&m.pq, e)
	m.byHash[txHash] = e
	if m.bySender[tx.Sender] == nil {
		m.bySender[tx.Sender] = make(map[types.Hash]struct{})
	}
	m.bySender[tx.Sender][txHash] = struct{}{}
	return nil
}

// Get returns transactions in priority order subject to both a count bound
// and a cumulative gas bound; an entry that would exceed the remaining gas
// is skipped and selection continues with the next one. Returned
// transactions remain in the pool until Remove is called.
func (m *Mempool) Get(maxCount int, maxGas uint64) []*ledger.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	var selected []*ledger.Transaction
	var popped []*entry
	var totalGas uint64

	for m.pq.Len() > 0 && len(selected) < maxCount {
		e := heap.Pop(&m.pq).(*entry)
		if _, present := m.byHash[e.hash]; !present {
			continue
		}
		if totalGas+e.tx.GasLimit > maxGas {
			popped = append(popped, e)
			continue
		}
		selected = append(selected, e.tx)
		totalGas += e.tx.GasLimit
		popped = append(popped, e)
	}
	for _, e := range popped {
		heap.Push(&m.pq, e)
	}
	return selected
}

// Remove drops entries by hash and rebuilds the priority queue, discarding
// any stale entries whose hash is no longer indexed.
func (m *Mempool) Remove(hashes []types.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range hashes {
		m.removeLocked(h)
	}
	m.rebuildLocked()
}

func (m *Mempool) removeLocked(h types.Hash) {
	e, ok := m.byHash[h]
	if !ok {
		return
	}
	delete(m.byHash, h)
	if set, ok := m.bySender[e.tx.Sender]; ok {
		delete(set, h)
		if len(set) == 0 {
			delete(m.bySender, e.tx.Sender)
		}
	}
}

func (m *Mempool) rebuildLocked() {
	newPQ := make(priorityQueue, 0, len(m.byHash))
	for _, e := range m.byHash {
		newPQ = append(newPQ, e)
	}
	heap.Init(&newPQ)
	m.pq = newPQ
}

func isLowerPriority(a, b *entry) bool {
	cmp := a.feeRate.Cmp(b.feeRate)
	if cmp != 0 {
		return cmp < 0
	}
	return a.timestamp > b.timestamp
}

func (m *Mempool) evictLowestLocked() {
	var lowestHash types.Hash
	var lowest *entry
	for h, e := range m.byHash {
		if lowest == nil || isLowerPriority(e, lowest) {
			lowest = e
			lowestHash = h
		}
	}
	if lowest != nil {
		m.removeLocked(lowestHash)
		m.rebuildLocked()
	}
}

// Len returns the number of indexed transactions.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byHash)
}
