package blssig

import (
	"crypto/rand"
	"testing"
)

func randIKM(t *testing.T) []byte {
	t.Helper()
	ikm := make([]byte, 32)
	if _, err := rand.Read(ikm); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return ikm
}

func TestSignVerifyRoundTrip(t *testing.T) {
	sk, err := GenerateKey(randIKM(t))
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	msg := []byte("finality vote payload")
	sig := sk.Sign(msg)
	ok, err := Verify(sk.PublicKey(), msg, sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected valid signature")
	}
}

// TestAggregationAtScale exercises scenario 6 of spec.md §8: 50 signers over
// the same message aggregate to a valid signature/key pair, and a single
// flipped bit in the aggregate breaks verification.
func TestAggregationAtScale(t *testing.T) {
	const n = 50
	msg := []byte("epoch randomness seed")

	pubs := make([][]byte, n)
	sigs := make([][]byte, n)
	for i := 0; i < n; i++ {
		sk, err := GenerateKey(randIKM(t))
		if err != nil {
			t.Fatalf("generate key %d: %v", i, err)
		}
		pubs[i] = sk.PublicKey()
		sigs[i] = sk.Sign(msg)
	}

	aggSig, err := AggregateSignatures(sigs)
	if err != nil {
		t.Fatalf("aggregate signatures: %v", err)
	}
	if len(aggSig) != SignatureSize {
		t.Fatalf("aggregate signature size = %d, want %d", len(aggSig), SignatureSize)
	}

	aggPk, err := AggregatePublicKeys(pubs)
	if err != nil {
		t.Fatalf("aggregate public keys: %v", err)
	}
	if len(aggPk) != PublicKeySize {
		t.Fatalf("aggregate public key size = %d, want %d", len(aggPk), PublicKeySize)
	}

	ok, err := VerifyAggregated(aggPk, msg, aggSig)
	if err != nil {
		t.Fatalf("verify aggregated: %v", err)
	}
	if !ok {
		t.Fatalf("expected aggregate verification to succeed")
	}

	flipped := append([]byte(nil), aggSig...)
	flipped[0] ^= 1
	if ok, _ := VerifyAggregated(aggPk, msg, flipped); ok {
		t.Fatalf("expected flipped aggregate signature to fail verification")
	}
}

func TestAggregateRejectsEmpty(t *testing.T) {
	if _, err := AggregateSignatures(nil); err == nil {
		t.Fatalf("expected error on empty signature slice")
	}
	if _, err := AggregatePublicKeys(nil); err == nil {
		t.Fatalf("expected error on empty public key slice")
	}
}

func TestAggregateRejectsWrongLength(t *testing.T) {
	if _, err := AggregateSignatures([][]byte{{1, 2, 3}}); err == nil {
		t.Fatalf("expected error on malformed signature length")
	}
}
