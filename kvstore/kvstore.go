// Package kvstore implements the durable ordered key-value store of
// spec.md §4.3: column-family-organized storage with atomic batch writes
// and ordered iteration, backed by cockroachdb/pebble (an indirect
// dependency of both the teacher and the wider pack).
//
// Pebble has no native column families; spec.md §6 still calls for six of
// them (accounts, utxos, merkle_nodes, blocks, receipts, metadata). Each CF
// is given a one-byte key prefix — a standard pattern for LSM engines
// without native CFs (CockroachDB itself partitions a single pebble
// keyspace this way) — so byte-lexicographic iteration within a CF is
// simply iteration over a prefix range.
package kvstore

import (
	"github.com/leancorelabs/chain/errs"
)

// CF identifies one of the six column families spec.md §6 names.
type CF byte

const (
	CFAccounts CF = iota
	CFUTxos
	CFMerkleNodes
	CFBlocks
	CFReceipts
	CFMetadata
)

// Op is one put or delete within a WriteBatch.
type Op struct {
	CF     CF
	Key    []byte
	Value  []byte
	Delete bool
}

func PutOp(cf CF, key, value []byte) Op { return Op{CF: cf, Key: key, Value: value} }
func DeleteOp(cf CF, key []byte) Op     { return Op{CF: cf, Key: key, Delete: true} }

// Iterator walks a column family's keys in byte-lexicographic order.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Close() error
}

// Store is the durable ordered map spec.md §4.3 describes.
type Store interface {
	Get(cf CF, key []byte) ([]byte, bool, error)
	Put(cf CF, key, value []byte) error
	Delete(cf CF, key []byte) error
	// WriteBatch applies every op atomically: all or nothing, and durable
	// once it returns without error.
	WriteBatch(ops []Op) error
	Iterator(cf CF) (Iterator, error)
	Close() error
}

func prefixedKey(cf CF, key []byte) []byte {
	out := make([]byte, 1+len(key))
	out[0] = byte(cf)
	copy(out[1:], key)
	return out
}

// cfBounds returns cf's key range: the inclusive lower bound is cf's prefix
// byte, and the exclusive upper bound is the next CF prefix byte, or nil for
// CF 255 (pebble's unbounded range end).
func cfBounds(cf CF) (lower, upper []byte) {
	lower = []byte{byte(cf)}
	if cf == 255 {
		return lower, nil
	}
	return lower, []byte{byte(cf) + 1}
}

var errClosed = errs.New(errs.Storage, "kvstore: store is closed")
