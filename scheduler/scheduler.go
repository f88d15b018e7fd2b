// Package scheduler partitions a candidate transaction batch into
// parallel-safe sub-batches from declared read/write sets (spec.md
// §4.6.3).
//
// Grounded directly in
// _examples/original_source/crates/runtime/src/scheduler.rs: the greedy
// walk-and-admit algorithm, the conflicts_with/has_pending_dependencies
// split, and the speedup_estimate diagnostic are all adapted from that
// source with the same structure, swapping Rayon's intra-batch data
// parallelism (out of scope for scheduling itself; executed by callers,
// e.g. the ledger's batched signature verification) for Go's native
// goroutines where a caller chooses to execute a batch concurrently.
package scheduler

import (
	"github.com/leancorelabs/chain/ledger"
	"github.com/leancorelabs/chain/types"
)

// Config bounds the scheduler's output.
type Config struct {
	MaxBatchSize int
}

// Scheduler partitions transactions into non-conflicting batches.
type Scheduler struct {
	cfg Config
}

func New(cfg Config) *Scheduler {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1000
	}
	return &Scheduler{cfg: cfg}
}

func addrSet(addrs []types.Address) map[types.Address]struct{} {
	m := make(map[types.Address]struct{}, len(addrs))
	for _, a := range addrs {
		m[a] = struct{}{}
	}
	return m
}

func utxoSet(ids []ledger.UTxOId) map[ledger.UTxOId]struct{} {
	m := make(map[ledger.UTxOId]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func intersects(a, b map[types.Address]struct{}) bool {
	small, big := a, b
	if len(b) < len(a) {
		small, big = b, a
	}
	for k := range small {
		if _, ok := big[k]; ok {
			return true
		}
	}
	return false
}

func utxoIntersects(a, b map[ledger.UTxOId]struct{}) bool {
	small, big := a, b
	if len(b) < len(a) {
		small, big = b, a
	}
	for k := range small {
		if _, ok := big[k]; ok {
			return true
		}
	}
	return false
}

// conflicts reports whether a and b may not run in the same batch, per the
// predicate in spec.md §4.6.3: write-write, write-read, read-write, or
// shared UTxO input.
func conflicts(a, b *candidate) bool {
	if intersects(a.writes, b.writes) {
		return true
	}
	if intersects(a.writes, b.reads) {
		return true
	}
	if intersects(b.writes, a.reads) {
		return true
	}
	if utxoIntersects(a.inputs, b.inputs) {
		return true
	}
	return false
}

type candidate struct {
	tx     *ledger.Transaction
	reads  map[types.Address]struct{}
	writes map[types.Address]struct{}
	inputs map[ledger.UTxOId]struct{}
}

func newCandidate(tx *ledger.Transaction) *candidate {
	return &candidate{
		tx:     tx,
		reads:  addrSet(tx.Reads),
		writes: addrSet(tx.Writes),
		inputs: utxoSet(tx.Inputs),
	}
}

// Schedule partitions txs, given in mempool order, into batches such that
// every pair within a batch is non-conflicting and batches are meant to
// execute strictly in order.
func (s *Scheduler) Schedule(txs []*ledger.Transaction) [][]*ledger.Transaction {
	if len(txs) == 0 {
		return nil
	}

	remaining := make([]*candidate, len(txs))
	for i, tx := range txs {
		remaining[i] = newCandidate(tx)
	}

	var batches [][]*ledger.Transaction
	for len(remaining) > 0 {
		var batch []*candidate
		used := make(map[int]struct{})

		for i, cand := range remaining {
			if _, skip := used[i]; skip {
				continue
			}
			conflict := false
			for _, admitted := range batch {
				if conflicts(cand, admitted) {
					conflict = true
					break
				}
			}
			if !conflict && !hasPendingDependency(cand, i, remaining, used) {
				batch = append(batch, cand)
				used[i] = struct{}{}
				if len(batch) >= s.cfg.MaxBatchSize {
					break
				}
			}
		}

		if len(batch) == 0 {
			// No progress possible; stop rather than loop forever.
			break
		}

		out := make([]*ledger.Transaction, len(batch))
		for i, cand := range batch {
			out[i] = cand.tx
		}
		batches = append(batches, out)

		next := remaining[:0:0]
		for i, cand := range remaining {
			if _, ok := used[i]; !ok {
				next = append(next, cand)
			}
		}
		remaining = next
	}
	return batches
}

// hasPendingDependency reports whether cand reads an address some other
// still-remaining, not-yet-admitted transaction writes — admitting cand now
// would violate read-your-write ordering.
func hasPendingDependency(cand *candidate, idx int, remaining []*candidate, used map[int]struct{}) bool {
	if len(cand.reads) == 0 {
		return false
	}
	for j, other := range remaining {
		if j == idx {
			continue
		}
		if _, ok := used[j]; ok {
			continue
		}
		for addr := range cand.reads {
			if _, ok := other.writes[addr]; ok {
				return true
			}
		}
	}
	return false
}

// SpeedupEstimate is the diagnostic |txs| / |batches| from spec.md §4.6.3.
func (s *Scheduler) SpeedupEstimate(txs []*ledger.Transaction) float64 {
	if len(txs) == 0 {
		return 1.0
	}
	batches := s.Schedule(txs)
	if len(batches) == 0 {
		return 1.0
	}
	return float64(len(txs)) / float64(len(batches))
}
