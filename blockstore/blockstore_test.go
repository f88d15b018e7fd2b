package blockstore

import (
	"testing"

	"github.com/leancorelabs/chain/block"
	"github.com/leancorelabs/chain/kvstore"
	"github.com/leancorelabs/chain/ledger"
	"github.com/leancorelabs/chain/types"
)

func testBlock(slot types.Slot, parent types.Hash) *block.Block {
	return &block.Block{Header: block.Header{Slot: slot, ParentHash: parent}}
}

func TestStoreAndGetBlockByHash(t *testing.T) {
	s := New(kvstore.NewMemStore())
	b := testBlock(0, types.ZeroHash)

	if err := s.StoreBlock(b, nil); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.GetBlockByHash(b.Hash())
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("expected block to be found")
	}
	if got.Header.Slot != 0 {
		t.Fatalf("slot = %d, want 0", got.Header.Slot)
	}
}

func TestGetBlockBySlot(t *testing.T) {
	s := New(kvstore.NewMemStore())
	b := testBlock(7, types.ZeroHash)
	if err := s.StoreBlock(b, nil); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.GetBlockBySlot(7)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || got.Hash() != b.Hash() {
		t.Fatalf("expected to find block at slot 7")
	}
	if _, ok, _ := s.GetBlockBySlot(8); ok {
		t.Fatalf("expected no block at slot 8")
	}
}

func TestChainTipAdvancesOnlyWhenExtendingTip(t *testing.T) {
	s := New(kvstore.NewMemStore())
	genesis := testBlock(0, types.ZeroHash)
	if err := s.StoreBlock(genesis, nil); err != nil {
		t.Fatal(err)
	}
	tip, ok, err := s.LatestBlockHash()
	if err != nil || !ok || tip != genesis.Hash() {
		t.Fatalf("expected tip = genesis hash, got %v ok=%v err=%v", tip, ok, err)
	}

	child := testBlock(1, genesis.Hash())
	if err := s.StoreBlock(child, nil); err != nil {
		t.Fatal(err)
	}
	tip, _, _ = s.LatestBlockHash()
	if tip != child.Hash() {
		t.Fatalf("expected tip to advance to child, got %v", tip)
	}

	// A block that forks off an earlier ancestor must not move the tip.
	fork := testBlock(1, types.Hash{0x99})
	if err := s.StoreBlock(fork, nil); err != nil {
		t.Fatal(err)
	}
	tip, _, _ = s.LatestBlockHash()
	if tip != child.Hash() {
		t.Fatalf("expected tip to remain at child after storing a fork, got %v", tip)
	}
}

func TestStoreBlockWithReceipts(t *testing.T) {
	s := New(kvstore.NewMemStore())
	b := testBlock(0, types.ZeroHash)
	rc := &ledger.Receipt{TxHash: types.Hash{0x01}, Status: ledger.StatusSuccess()}

	if err := s.StoreBlock(b, []*ledger.Receipt{rc}); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.GetReceipt(types.Hash{0x01})
	if err != nil {
		t.Fatal(err)
	}
	if !ok || !got.Status.Success {
		t.Fatalf("expected to retrieve successful receipt")
	}
}
