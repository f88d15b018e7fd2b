// Package snapshot implements deterministic state export/import (spec.md
// §4.5): a zstd-compressed dump of every account and UTxO plus the state
// root they commit to, restorable into a fresh store without replaying
// history.
//
// Grounded in original_source/state/snapshots/src/{generator,importer,
// compression}.rs: generate walks CF_ACCOUNTS/CF_UTXOS and records the
// state root, import batch-writes the decoded records plus metadata, and
// compression wraps the payload in zstd. The Go reading uses
// klauspost/compress/zstd (pure Go, avoiding the cgo DataDog/zstd binding
// the pack's other repos sometimes use) at level 3, the same level
// compression.rs passes to zstd::encode_all.
package snapshot

import (
	"encoding/binary"

	"github.com/klauspost/compress/zstd"

	"github.com/leancorelabs/chain/errs"
	"github.com/leancorelabs/chain/kvstore"
	"github.com/leancorelabs/chain/ledger"
	"github.com/leancorelabs/chain/types"
	"github.com/leancorelabs/chain/wire"
)

// Metadata identifies the point in the chain a snapshot was taken at.
type Metadata struct {
	Height        uint64
	GeneratedAtMs uint64
}

// AccountEntry is one exported account record.
type AccountEntry struct {
	Address types.Address
	Account *ledger.Account
}

// UTxOEntry is one exported UTxO record.
type UTxOEntry struct {
	ID   ledger.UTxOId
	UTxO *ledger.UTxO
}

// StateSnapshot is the full decoded export: metadata, the state root it
// commits to, and every account and UTxO in the ledger at that point.
type StateSnapshot struct {
	Metadata  Metadata
	StateRoot types.Hash
	Accounts  []AccountEntry
	UTxOs     []UTxOEntry
}

func (s *StateSnapshot) marshal() ([]byte, error) {
	w := wire.NewWriter(4096)
	w.WriteUint64(s.Metadata.Height)
	w.WriteUint64(s.Metadata.GeneratedAtMs)
	w.WriteFixed(s.StateRoot[:])

	w.WriteUint32(uint32(len(s.Accounts)))
	for _, a := range s.Accounts {
		w.WriteFixed(a.Address[:])
		ab, err := a.Account.MarshalBinary()
		if err != nil {
			return nil, err
		}
		w.WriteBytes(ab)
	}

	w.WriteUint32(uint32(len(s.UTxOs)))
	for _, u := range s.UTxOs {
		w.WriteFixed(u.ID.TxHash[:])
		w.WriteUint32(u.ID.OutputIndex)
		ub, err := u.UTxO.MarshalBinary()
		if err != nil {
			return nil, err
		}
		w.WriteBytes(ub)
	}
	return w.Bytes(), nil
}

func unmarshalSnapshot(data []byte) (*StateSnapshot, error) {
	r := wire.NewReader(data)
	s := &StateSnapshot{}
	s.Metadata.Height = r.ReadUint64()
	s.Metadata.GeneratedAtMs = r.ReadUint64()
	copy(s.StateRoot[:], r.ReadFixed(32))

	nAcct := r.ReadUint32()
	s.Accounts = make([]AccountEntry, nAcct)
	for i := range s.Accounts {
		var addr types.Address
		copy(addr[:], r.ReadFixed(20))
		acct := &ledger.Account{}
		if err := acct.UnmarshalBinary(r.ReadBytes()); err != nil {
			return nil, err
		}
		s.Accounts[i] = AccountEntry{Address: addr, Account: acct}
	}

	nUTxO := r.ReadUint32()
	s.UTxOs = make([]UTxOEntry, nUTxO)
	for i := range s.UTxOs {
		var txHash types.Hash
		copy(txHash[:], r.ReadFixed(32))
		idx := r.ReadUint32()
		u := &ledger.UTxO{}
		if err := u.UnmarshalBinary(r.ReadBytes()); err != nil {
			return nil, err
		}
		s.UTxOs[i] = UTxOEntry{ID: ledger.UTxOId{TxHash: txHash, OutputIndex: idx}, UTxO: u}
	}
	if err := r.Done(); err != nil {
		return nil, err
	}
	return s, nil
}

func compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, errs.ErrCorrupted)
	}
	return out, nil
}

// Generate walks every account and UTxO in store and returns a
// zstd-compressed snapshot committing to stateRoot at height.
func Generate(store kvstore.Store, height uint64, generatedAtMs uint64, stateRoot types.Hash) ([]byte, error) {
	accounts, err := loadAccounts(store)
	if err != nil {
		return nil, err
	}
	utxos, err := loadUTxOs(store)
	if err != nil {
		return nil, err
	}
	snap := &StateSnapshot{
		Metadata:  Metadata{Height: height, GeneratedAtMs: generatedAtMs},
		StateRoot: stateRoot,
		Accounts:  accounts,
		UTxOs:     utxos,
	}
	raw, err := snap.marshal()
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err)
	}
	return compress(raw)
}

func loadAccounts(store kvstore.Store) ([]AccountEntry, error) {
	it, err := store.Iterator(kvstore.CFAccounts)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err)
	}
	defer it.Close()

	var out []AccountEntry
	for it.Next() {
		if len(it.Key()) != 20 {
			continue // contract-storage entries share this CF
		}
		acct := &ledger.Account{}
		if err := acct.UnmarshalBinary(it.Value()); err != nil {
			return nil, errs.Wrap(errs.Storage, err)
		}
		var addr types.Address
		copy(addr[:], it.Key())
		out = append(out, AccountEntry{Address: addr, Account: acct})
	}
	return out, nil
}

func loadUTxOs(store kvstore.Store) ([]UTxOEntry, error) {
	it, err := store.Iterator(kvstore.CFUTxos)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err)
	}
	defer it.Close()

	var out []UTxOEntry
	for it.Next() {
		if len(it.Key()) != 36 {
			continue
		}
		u := &ledger.UTxO{}
		if err := u.UnmarshalBinary(it.Value()); err != nil {
			return nil, errs.Wrap(errs.Storage, err)
		}
		var txHash types.Hash
		copy(txHash[:], it.Key()[:32])
		idx := uint32(it.Key()[32])<<24 | uint32(it.Key()[33])<<16 | uint32(it.Key()[34])<<8 | uint32(it.Key()[35])
		out = append(out, UTxOEntry{ID: ledger.UTxOId{TxHash: txHash, OutputIndex: idx}, UTxO: u})
	}
	return out, nil
}

// Decode decompresses and deserializes a snapshot produced by Generate.
func Decode(data []byte) (*StateSnapshot, error) {
	raw, err := decompress(data)
	if err != nil {
		return nil, err
	}
	snap, err := unmarshalSnapshot(raw)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err)
	}
	return snap, nil
}

// Import decodes a snapshot and batch-writes every account and UTxO into
// store, along with the state_root/snapshot_height metadata keys, all in
// one atomic batch (original_source's importer.rs).
func Import(store kvstore.Store, data []byte) (*StateSnapshot, error) {
	snap, err := Decode(data)
	if err != nil {
		return nil, err
	}

	var ops []kvstore.Op
	for _, a := range snap.Accounts {
		ab, err := a.Account.MarshalBinary()
		if err != nil {
			return nil, errs.Wrap(errs.Storage, err)
		}
		ops = append(ops, kvstore.PutOp(kvstore.CFAccounts, a.Address[:], ab))
	}
	for _, u := range snap.UTxOs {
		ub, err := u.UTxO.MarshalBinary()
		if err != nil {
			return nil, errs.Wrap(errs.Storage, err)
		}
		ops = append(ops, kvstore.PutOp(kvstore.CFUTxos, u.ID.Bytes(), ub))
	}
	ops = append(ops,
		kvstore.PutOp(kvstore.CFMetadata, []byte("state_root"), snap.StateRoot[:]),
		kvstore.PutOp(kvstore.CFMetadata, []byte("snapshot_height"), encodeHeightBE(snap.Metadata.Height)),
	)

	if err := store.WriteBatch(ops); err != nil {
		return nil, errs.Wrap(errs.Storage, err)
	}
	return snap, nil
}

// encodeHeightBE encodes snapshot_height as height_be(8), the big-endian
// metadata encoding spec.md §6 specifies (distinct from the little-endian
// wire codec used for the snapshot payload itself).
func encodeHeightBE(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}
