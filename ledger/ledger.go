// Package ledger owns the account map, the UTxO map, and the state
// commitment, and applies signed transactions to them (spec.md §4.4).
//
// Grounded in _examples/original_source/crates/ledger/src/state.rs for the
// overall shape (a single owning struct over storage + merkle tree,
// get_or_create_account, an incremental single-account merkle update per
// transaction, batched signature verification ahead of sequential apply).
// The fee-floor check, contract-storage accessors, and apply_balance_delta
// are not present in that source; they are built directly from spec.md
// §4.4's numbered steps, which state the ordering precisely enough to
// implement without further grounding.
package ledger

import (
	"bytes"
	"math/big"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"github.com/leancorelabs/chain/cryptoprim"
	"github.com/leancorelabs/chain/errs"
	"github.com/leancorelabs/chain/kvstore"
	"github.com/leancorelabs/chain/merkle"
	"github.com/leancorelabs/chain/types"
)

// Config holds the fee-floor coefficients from spec.md §4.4/§6:
// fee ≥ A + B·size(tx) + C·gas_limit.
type Config struct {
	FeeA uint64
	FeeB uint64
	FeeC uint64
}

// Ledger is the authoritative account/UTxO state machine.
type Ledger struct {
	mu    sync.Mutex
	store kvstore.Store
	tree  *merkle.Tree
	cfg   Config
}

// New opens a Ledger over store, rebuilding the state commitment from the
// persisted account set (spec.md §4.2's "rebuilt on startup from the
// persisted account set if the cached root is missing").
func New(store kvstore.Store, cfg Config) (*Ledger, error) {
	l := &Ledger{store: store, tree: merkle.New(), cfg: cfg}
	if err := l.rebuildMerkleTree(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) rebuildMerkleTree() error {
	it, err := l.store.Iterator(kvstore.CFAccounts)
	if err != nil {
		return errs.Wrap(errs.Storage, err)
	}
	defer it.Close()

	var entries []merkle.Entry
	for it.Next() {
		if len(it.Key()) != 20 {
			continue // contract-storage entries share this CF; skip them
		}
		acct := &Account{}
		if err := acct.UnmarshalBinary(it.Value()); err != nil {
			return errs.Wrap(errs.Storage, err)
		}
		entries = append(entries, merkle.Entry{Key: acct.Address, Leaf: hashAccount(acct)})
	}
	l.tree.BatchUpdate(entries)
	return nil
}

func hashAccount(acct *Account) types.Hash {
	b, _ := acct.MarshalBinary()
	return types.HashBytes(b)
}

// StateRoot returns the current state commitment root.
func (l *Ledger) StateRoot() types.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tree.Root()
}

// GetAccount returns the persisted account for addr, if any.
func (l *Ledger) GetAccount(addr types.Address) (*Account, bool, error) {
	v, ok, err := l.store.Get(kvstore.CFAccounts, addr[:])
	if err != nil {
		return nil, false, errs.Wrap(errs.Storage, err)
	}
	if !ok {
		return nil, false, nil
	}
	acct := &Account{}
	if err := acct.UnmarshalBinary(v); err != nil {
		return nil, false, errs.Wrap(errs.Storage, err)
	}
	return acct, true, nil
}

// GetOrCreateAccount returns a zero-initialized account for unknown
// addresses without persisting it.
func (l *Ledger) GetOrCreateAccount(addr types.Address) (*Account, error) {
	acct, ok, err := l.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if ok {
		return acct, nil
	}
	return NewAccount(addr), nil
}

// GetUTxO returns the unspent output identified by id, if any.
func (l *Ledger) GetUTxO(id UTxOId) (*UTxO, bool, error) {
	v, ok, err := l.store.Get(kvstore.CFUTxos, id.Bytes())
	if err != nil {
		return nil, false, errs.Wrap(errs.Storage, err)
	}
	if !ok {
		return nil, false, nil
	}
	u := &UTxO{}
	if err := u.UnmarshalBinary(v); err != nil {
		return nil, false, errs.Wrap(errs.Storage, err)
	}
	return u, true, nil
}

// commitAccount persists acct alone and reflects it in the state
// commitment; used both for a successful transaction's final write and for
// the partial state a post-signature failure leaves behind.
func (l *Ledger) commitAccount(acct *Account) error {
	b, err := acct.MarshalBinary()
	if err != nil {
		return err
	}
	if err := l.store.WriteBatch([]kvstore.Op{kvstore.PutOp(kvstore.CFAccounts, acct.Address[:], b)}); err != nil {
		return errs.Wrap(errs.Storage, err)
	}
	l.tree.Update(acct.Address, hashAccount(acct))
	return nil
}

func feeFloor(cfg Config, txSize int, gasLimit uint64) *types.Amount {
	floor := new(uint256.Int).SetUint64(cfg.FeeA)
	floor.Add(floor, new(uint256.Int).SetUint64(cfg.FeeB*uint64(txSize)))
	floor.Add(floor, new(uint256.Int).SetUint64(cfg.FeeC*gasLimit))
	return floor
}

// ApplyTransaction runs the nine-step process of spec.md §4.4: verify
// signature, check the fee floor, validate nonce and balance, validate UTxO
// inputs/outputs, commit the atomic batch, update the state commitment, and
// return a receipt.
func (l *Ledger) ApplyTransaction(tx *Transaction) (*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	txHash := tx.Hash()
	ok, err := cryptoprim.Verify(tx.SenderPubkey, txHash[:], tx.Signature)
	if err != nil || !ok {
		return &Receipt{TxHash: txHash, Status: StatusFailed("invalid signature"), StateRoot: l.tree.Root()}, nil
	}
	return l.applyValidated(tx, txHash)
}

// applyValidated runs steps 2-9, assuming the signature (step 1) has
// already been checked.
func (l *Ledger) applyValidated(tx *Transaction, txHash types.Hash) (*Receipt, error) {
	fail := func(reason string) *Receipt {
		return &Receipt{TxHash: txHash, Status: StatusFailed(reason), StateRoot: l.tree.Root()}
	}

	// Step 2: fee floor.
	b, err := tx.MarshalBinary()
	if err != nil {
		return nil, errs.Wrap(errs.Validation, err)
	}
	floor := feeFloor(l.cfg, len(b), tx.GasLimit)
	if tx.Fee.Cmp(floor) < 0 {
		return fail(errs.ErrFeeBelowFloor.Error()), nil
	}

	// Step 3: nonce.
	sender, err := l.GetOrCreateAccount(tx.Sender)
	if err != nil {
		return nil, err
	}
	if sender.Nonce != tx.Nonce {
		return fail(errs.ErrNonceMismatch.Error()), nil
	}

	// Step 4: balance ≥ fee; debit fee, increment nonce.
	if sender.Balance.Cmp(tx.Fee) < 0 {
		return fail(errs.ErrInsufficientFunds.Error()), nil
	}
	newBalance, underflow := new(uint256.Int).SubOverflow(sender.Balance, tx.Fee)
	if underflow {
		return fail(errs.ErrOverflow.Error()), nil
	}
	sender.Balance = newBalance
	sender.Nonce++

	// Step 5: UTxO inputs must exist; sum total_input. A failure here still
	// commits the fee debit and nonce increment above — state reflects the
	// point of this transaction's validation failure.
	totalInput := types.ZeroAmount()
	for _, in := range tx.Inputs {
		u, ok, err := l.GetUTxO(in)
		if err != nil {
			return nil, err
		}
		if !ok {
			if err := l.commitAccount(sender); err != nil {
				return nil, err
			}
			return fail(errs.ErrUTXONotFound.Error()), nil
		}
		sum, overflow := new(uint256.Int).AddOverflow(totalInput, u.Amount)
		if overflow {
			if err := l.commitAccount(sender); err != nil {
				return nil, err
			}
			return fail(errs.ErrOverflow.Error()), nil
		}
		totalInput = sum
	}

	// Step 6: total_output, require total_input ≥ total_output.
	totalOutput := types.ZeroAmount()
	for _, out := range tx.Outputs {
		sum, overflow := new(uint256.Int).AddOverflow(totalOutput, out.Amount)
		if overflow {
			if err := l.commitAccount(sender); err != nil {
				return nil, err
			}
			return fail(errs.ErrOverflow.Error()), nil
		}
		totalOutput = sum
	}
	if totalInput.Cmp(totalOutput) < 0 {
		if err := l.commitAccount(sender); err != nil {
			return nil, err
		}
		return fail(errs.ErrUTXOImbalance.Error()), nil
	}

	// Step 7: one atomic batch — sender account, consumed UTxO deletions,
	// new UTxO insertions.
	accBytes, err := sender.MarshalBinary()
	if err != nil {
		return nil, err
	}
	ops := make([]kvstore.Op, 0, 1+len(tx.Inputs)+len(tx.Outputs))
	ops = append(ops, kvstore.PutOp(kvstore.CFAccounts, sender.Address[:], accBytes))
	for _, in := range tx.Inputs {
		ops = append(ops, kvstore.DeleteOp(kvstore.CFUTxos, in.Bytes()))
	}
	for i, out := range tx.Outputs {
		id := UTxOId{TxHash: txHash, OutputIndex: uint32(i)}
		u := &UTxO{Amount: out.Amount, Owner: out.Owner, ScriptHash: out.ScriptHash}
		ub, err := u.MarshalBinary()
		if err != nil {
			return nil, err
		}
		ops = append(ops, kvstore.PutOp(kvstore.CFUTxos, id.Bytes(), ub))
	}
	if err := l.store.WriteBatch(ops); err != nil {
		return nil, errs.Wrap(errs.Storage, err)
	}

	// Step 8: update the state commitment with the hashed sender account.
	l.tree.Update(sender.Address, hashAccount(sender))

	// Step 9: success receipt with the current state root.
	return &Receipt{TxHash: txHash, Status: StatusSuccess(), StateRoot: l.tree.Root()}, nil
}

// ApplyBlockTransactions performs a single batched signature verification
// over all transactions, then applies the remaining ones in input order.
// Transactions failing signature verification produce a Failed receipt
// without touching state.
func (l *Ledger) ApplyBlockTransactions(txs []*Transaction) ([]*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	receipts := make([]*Receipt, len(txs))
	if len(txs) == 0 {
		return receipts, nil
	}

	hashes := make([]types.Hash, len(txs))
	entries := make([]cryptoprim.BatchEntry, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash()
		entries[i] = cryptoprim.BatchEntry{PublicKey: tx.SenderPubkey, Message: hashes[i][:], Signature: tx.Signature}
	}
	results, err := cryptoprim.VerifyBatch(entries)
	if err != nil {
		return nil, err
	}

	for i, tx := range txs {
		if !results[i] {
			receipts[i] = &Receipt{TxHash: hashes[i], Status: StatusFailed("invalid signature"), StateRoot: l.tree.Root()}
			continue
		}
		r, err := l.applyValidated(tx, hashes[i])
		if err != nil {
			return nil, err
		}
		receipts[i] = r
	}
	return receipts, nil
}

// contractStorageKey namespaces an address's contract storage within
// CFAccounts: account records are exactly 20 bytes, so any longer key
// (address prefix + arbitrary storage key suffix) cannot collide with one.
func contractStorageKey(addr types.Address, key []byte) []byte {
	out := make([]byte, 20+len(key))
	copy(out, addr[:])
	copy(out[20:], key)
	return out
}

// GetContractStorage reads one (address, key) storage slot.
func (l *Ledger) GetContractStorage(addr types.Address, key []byte) ([]byte, bool, error) {
	v, ok, err := l.store.Get(kvstore.CFAccounts, contractStorageKey(addr, key))
	if err != nil {
		return nil, false, errs.Wrap(errs.Storage, err)
	}
	return v, ok, nil
}

// SetContractStorage writes one (address, key) storage slot.
func (l *Ledger) SetContractStorage(addr types.Address, key, value []byte) error {
	if err := l.store.Put(kvstore.CFAccounts, contractStorageKey(addr, key), value); err != nil {
		return errs.Wrap(errs.Storage, err)
	}
	return nil
}

// UpdateAccountStorageRoot recomputes addr's storage_root from its current
// storage slots and persists the account.
func (l *Ledger) UpdateAccountStorageRoot(addr types.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	it, err := l.store.Iterator(kvstore.CFAccounts)
	if err != nil {
		return errs.Wrap(errs.Storage, err)
	}
	defer it.Close()

	prefix := addr[:]
	type kv struct{ key, value []byte }
	var slots []kv
	for it.Next() {
		k := it.Key()
		if len(k) <= 20 || !bytes.Equal(k[:20], prefix) {
			continue
		}
		slots = append(slots, kv{
			key:   append([]byte(nil), k[20:]...),
			value: append([]byte(nil), it.Value()...),
		})
	}
	sort.Slice(slots, func(i, j int) bool { return bytes.Compare(slots[i].key, slots[j].key) < 0 })

	acct, err := l.GetOrCreateAccount(addr)
	if err != nil {
		return err
	}
	h := types.Hash{}
	if len(slots) > 0 {
		var buf []byte
		for _, s := range slots {
			buf = append(buf, s.key...)
			buf = append(buf, s.value...)
		}
		h = types.HashBytes(buf)
	}
	acct.StorageRoot = h
	return l.commitAccount(acct)
}

// ApplyBalanceDelta moves value into or out of addr's balance; used by the
// execution engine to apply contract-call side effects. Rejects deltas that
// would underflow the balance.
func (l *Ledger) ApplyBalanceDelta(addr types.Address, delta *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, err := l.GetOrCreateAccount(addr)
	if err != nil {
		return err
	}

	if delta.Sign() >= 0 {
		mag, overflow := uint256.FromBig(delta)
		if overflow {
			return errs.Wrap(errs.Economic, errs.ErrOverflow)
		}
		sum, overflow := new(uint256.Int).AddOverflow(acct.Balance, mag)
		if overflow {
			return errs.Wrap(errs.Economic, errs.ErrOverflow)
		}
		acct.Balance = sum
		return l.commitAccount(acct)
	}

	mag, overflow := uint256.FromBig(new(big.Int).Neg(delta))
	if overflow {
		return errs.Wrap(errs.Economic, errs.ErrOverflow)
	}
	if acct.Balance.Cmp(mag) < 0 {
		return errs.Wrap(errs.Economic, errs.ErrInsufficientFunds)
	}
	diff, underflow := new(uint256.Int).SubOverflow(acct.Balance, mag)
	if underflow {
		return errs.Wrap(errs.Economic, errs.ErrInsufficientFunds)
	}
	acct.Balance = diff
	return l.commitAccount(acct)
}
