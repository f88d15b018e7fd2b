// Package blockstore persists blocks, receipts, and chain-tip metadata on
// top of kvstore (spec.md §4.3, §4.7): store_block writes a block, its
// receipts, and the slot/chain-tip index atomically; lookups are by hash or
// slot.
//
// Grounded in the teacher's storage/chainstore.go shape (one atomic batch
// per stored block, a by-slot secondary index, a single metadata key for
// the chain tip), adapted from the teacher's SSZ-container storage to this
// repository's wire codec and block/ledger types.
package blockstore

import (
	"encoding/binary"
	"sync"

	"github.com/leancorelabs/chain/block"
	"github.com/leancorelabs/chain/errs"
	"github.com/leancorelabs/chain/kvstore"
	"github.com/leancorelabs/chain/ledger"
	"github.com/leancorelabs/chain/types"
)

var (
	metaChainTipKey = []byte("chain_tip")
)

// slotKey is the metadata key "slot:" || slot_be(8) spec.md §6 specifies
// for the slot→hash index.
func slotKey(slot types.Slot) []byte {
	b := make([]byte, 5+8)
	copy(b, "slot:")
	binary.BigEndian.PutUint64(b[5:], uint64(slot))
	return b
}

func receiptKey(txHash types.Hash) []byte { return txHash[:] }

// Store persists blocks and their receipts, indexed by hash and by slot.
type Store struct {
	mu sync.RWMutex
	kv kvstore.Store
}

// New wraps a kvstore.Store with the block/receipt/chain-tip layout.
func New(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

// StoreBlock writes b, its receipts, the slot→hash index entry, and (if b
// extends the current tip) the chain-tip pointer, all in one atomic batch
// (spec.md §4.7: a block is only ever visible to readers once every part of
// it has landed).
func (s *Store) StoreBlock(b *block.Block, receipts []*ledger.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blockHash := b.Hash()
	blockBytes, err := b.MarshalBinary()
	if err != nil {
		return errs.Wrap(errs.Storage, err)
	}

	ops := []kvstore.Op{
		kvstore.PutOp(kvstore.CFBlocks, blockHash[:], blockBytes),
		kvstore.PutOp(kvstore.CFMetadata, slotKey(b.Header.Slot), blockHash[:]),
	}
	for _, rc := range receipts {
		rcBytes, err := rc.MarshalBinary()
		if err != nil {
			return errs.Wrap(errs.Storage, err)
		}
		ops = append(ops, kvstore.PutOp(kvstore.CFReceipts, receiptKey(rc.TxHash), rcBytes))
	}

	tip, hasTip, err := s.latestBlockHashLocked()
	if err != nil {
		return err
	}
	if !hasTip || b.Header.ParentHash == tip {
		ops = append(ops, kvstore.PutOp(kvstore.CFMetadata, metaChainTipKey, blockHash[:]))
	}

	if err := s.kv.WriteBatch(ops); err != nil {
		return errs.Wrap(errs.Storage, err)
	}
	return nil
}

// GetBlockByHash returns the block stored under hash.
func (s *Store) GetBlockByHash(hash types.Hash) (*block.Block, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok, err := s.kv.Get(kvstore.CFBlocks, hash[:])
	if err != nil {
		return nil, false, errs.Wrap(errs.Storage, err)
	}
	if !ok {
		return nil, false, nil
	}
	b := &block.Block{}
	if err := b.UnmarshalBinary(data); err != nil {
		return nil, false, errs.Wrap(errs.Storage, err)
	}
	return b, true, nil
}

// GetBlockBySlot returns the block stored for slot, via the slot index.
func (s *Store) GetBlockBySlot(slot types.Slot) (*block.Block, bool, error) {
	s.mu.RLock()
	hashBytes, ok, err := s.kv.Get(kvstore.CFMetadata, slotKey(slot))
	s.mu.RUnlock()
	if err != nil {
		return nil, false, errs.Wrap(errs.Storage, err)
	}
	if !ok {
		return nil, false, nil
	}
	var hash types.Hash
	copy(hash[:], hashBytes)
	return s.GetBlockByHash(hash)
}

// GetReceipt returns the receipt recorded for a transaction hash.
func (s *Store) GetReceipt(txHash types.Hash) (*ledger.Receipt, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok, err := s.kv.Get(kvstore.CFReceipts, receiptKey(txHash))
	if err != nil {
		return nil, false, errs.Wrap(errs.Storage, err)
	}
	if !ok {
		return nil, false, nil
	}
	rc := &ledger.Receipt{}
	if err := rc.UnmarshalBinary(data); err != nil {
		return nil, false, errs.Wrap(errs.Storage, err)
	}
	return rc, true, nil
}

// LatestBlockHash returns the current chain tip.
func (s *Store) LatestBlockHash() (types.Hash, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestBlockHashLocked()
}

func (s *Store) latestBlockHashLocked() (types.Hash, bool, error) {
	data, ok, err := s.kv.Get(kvstore.CFMetadata, metaChainTipKey)
	if err != nil {
		return types.ZeroHash, false, errs.Wrap(errs.Storage, err)
	}
	if !ok {
		return types.ZeroHash, false, nil
	}
	var h types.Hash
	copy(h[:], data)
	return h, true, nil
}
