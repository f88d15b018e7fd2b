package ledger

import (
	"crypto/ed25519"
	"testing"

	"github.com/leancorelabs/chain/kvstore"
	"github.com/leancorelabs/chain/types"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := New(kvstore.NewMemStore(), Config{FeeA: 10, FeeB: 1, FeeC: 0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func seedAccount(t *testing.T, l *Ledger, addr types.Address, balance uint64) {
	t.Helper()
	acct := NewAccount(addr)
	acct.Balance = types.NewAmount(balance)
	if err := l.commitAccount(acct); err != nil {
		t.Fatalf("seedAccount: %v", err)
	}
}

func signedTx(t *testing.T, pub ed25519.PublicKey, priv ed25519.PrivateKey, nonce uint64, fee uint64) *Transaction {
	t.Helper()
	var addr types.Address
	copy(addr[:], types.AddressFromPubkey(pub)[:])
	tx := &Transaction{
		Nonce:        nonce,
		Sender:       addr,
		SenderPubkey: pub,
		GasLimit:     21000,
		Fee:          types.NewAmount(fee),
	}
	h := tx.Hash()
	sig := ed25519.Sign(priv, h[:])
	tx.Signature = sig
	return tx
}

func TestApplyTransactionSuccess(t *testing.T) {
	l := newTestLedger(t)
	pub, priv, _ := ed25519.GenerateKey(nil)
	addr := types.AddressFromPubkey(pub)
	seedAccount(t, l, addr, 1000)

	tx := signedTx(t, pub, priv, 0, 200)
	rc, err := l.ApplyTransaction(tx)
	if err != nil {
		t.Fatalf("ApplyTransaction: %v", err)
	}
	if !rc.Status.Success {
		t.Fatalf("expected success, got failed: %s", rc.Status.Reason)
	}

	acct, ok, err := l.GetAccount(addr)
	if err != nil || !ok {
		t.Fatalf("GetAccount: ok=%v err=%v", ok, err)
	}
	if acct.Nonce != 1 {
		t.Fatalf("nonce = %d, want 1", acct.Nonce)
	}
	if acct.Balance.Uint64() != 800 {
		t.Fatalf("balance = %s, want 800", acct.Balance)
	}
}

func TestApplyTransactionInvalidSignature(t *testing.T) {
	l := newTestLedger(t)
	pub, priv, _ := ed25519.GenerateKey(nil)
	addr := types.AddressFromPubkey(pub)
	seedAccount(t, l, addr, 1000)

	tx := signedTx(t, pub, priv, 0, 200)
	tx.Signature[0] ^= 0xFF

	rc, err := l.ApplyTransaction(tx)
	if err != nil {
		t.Fatalf("ApplyTransaction: %v", err)
	}
	if rc.Status.Success {
		t.Fatalf("expected failure for corrupted signature")
	}
	acct, ok, err := l.GetAccount(addr)
	if err != nil || !ok {
		t.Fatalf("GetAccount: ok=%v err=%v", ok, err)
	}
	if acct.Nonce != 0 || acct.Balance.Uint64() != 1000 {
		t.Fatalf("account must be untouched after a signature failure")
	}
}

func TestApplyTransactionFeeBelowFloor(t *testing.T) {
	l := newTestLedger(t)
	pub, priv, _ := ed25519.GenerateKey(nil)
	addr := types.AddressFromPubkey(pub)
	seedAccount(t, l, addr, 1000)

	tx := signedTx(t, pub, priv, 0, 1)
	rc, err := l.ApplyTransaction(tx)
	if err != nil {
		t.Fatalf("ApplyTransaction: %v", err)
	}
	if rc.Status.Success {
		t.Fatalf("expected fee-below-floor rejection")
	}
}

func TestApplyTransactionNonceMismatch(t *testing.T) {
	l := newTestLedger(t)
	pub, priv, _ := ed25519.GenerateKey(nil)
	addr := types.AddressFromPubkey(pub)
	seedAccount(t, l, addr, 1000)

	tx := signedTx(t, pub, priv, 5, 200)
	rc, err := l.ApplyTransaction(tx)
	if err != nil {
		t.Fatalf("ApplyTransaction: %v", err)
	}
	if rc.Status.Success {
		t.Fatalf("expected nonce mismatch rejection")
	}
}

func TestApplyTransactionMissingUTxOChargesFee(t *testing.T) {
	l := newTestLedger(t)
	pub, priv, _ := ed25519.GenerateKey(nil)
	addr := types.AddressFromPubkey(pub)
	seedAccount(t, l, addr, 1000)

	// One input makes the tx 213 bytes, so the floor is 10 + 213 = 223.
	tx := signedTx(t, pub, priv, 0, 300)
	tx.Inputs = []UTxOId{{TxHash: types.HashBytes([]byte("nope")), OutputIndex: 0}}
	h := tx.Hash()
	tx.Signature = ed25519.Sign(priv, h[:])

	rc, err := l.ApplyTransaction(tx)
	if err != nil {
		t.Fatalf("ApplyTransaction: %v", err)
	}
	if rc.Status.Success {
		t.Fatalf("expected missing-UTxO failure")
	}
	acct, ok, err := l.GetAccount(addr)
	if err != nil || !ok {
		t.Fatalf("GetAccount: ok=%v err=%v", ok, err)
	}
	if acct.Nonce != 1 || acct.Balance.Uint64() != 700 {
		t.Fatalf("fee debit/nonce increment must still commit on a post-signature failure, got nonce=%d balance=%s", acct.Nonce, acct.Balance)
	}
}

func TestApplyBlockTransactionsMixedValidity(t *testing.T) {
	l := newTestLedger(t)
	pub, priv, _ := ed25519.GenerateKey(nil)
	addr := types.AddressFromPubkey(pub)
	seedAccount(t, l, addr, 1000)

	good := signedTx(t, pub, priv, 0, 200)
	bad := signedTx(t, pub, priv, 1, 200)
	bad.Signature[0] ^= 0xFF

	receipts, err := l.ApplyBlockTransactions([]*Transaction{good, bad})
	if err != nil {
		t.Fatalf("ApplyBlockTransactions: %v", err)
	}
	if !receipts[0].Status.Success {
		t.Fatalf("first tx should succeed")
	}
	if receipts[1].Status.Success || receipts[1].Status.Reason != "invalid signature" {
		t.Fatalf("second tx should fail with invalid signature, got %+v", receipts[1].Status)
	}
}

func TestLedgerDeterminism(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	addr := types.AddressFromPubkey(pub)

	l1 := newTestLedger(t)
	l2 := newTestLedger(t)
	seedAccount(t, l1, addr, 1000)
	seedAccount(t, l2, addr, 1000)

	for i := uint64(0); i < 3; i++ {
		tx1 := signedTx(t, pub, priv, i, 200)
		tx2 := signedTx(t, pub, priv, i, 200)
		if _, err := l1.ApplyTransaction(tx1); err != nil {
			t.Fatalf("l1 apply: %v", err)
		}
		if _, err := l2.ApplyTransaction(tx2); err != nil {
			t.Fatalf("l2 apply: %v", err)
		}
	}
	if l1.StateRoot() != l2.StateRoot() {
		t.Fatalf("two ledgers fed the same transaction sequence must end with identical state roots")
	}
}

func TestApplyingSameTransactionTwiceFails(t *testing.T) {
	l := newTestLedger(t)
	pub, priv, _ := ed25519.GenerateKey(nil)
	addr := types.AddressFromPubkey(pub)
	seedAccount(t, l, addr, 1000)

	tx := signedTx(t, pub, priv, 0, 200)
	rc1, err := l.ApplyTransaction(tx)
	if err != nil || !rc1.Status.Success {
		t.Fatalf("first application should succeed: %v %+v", err, rc1)
	}
	rc2, err := l.ApplyTransaction(tx)
	if err != nil {
		t.Fatalf("ApplyTransaction: %v", err)
	}
	if rc2.Status.Success {
		t.Fatalf("replaying the same transaction must fail on nonce mismatch")
	}
}
