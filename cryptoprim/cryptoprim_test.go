package cryptoprim

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	msg := []byte("hello consensus")
	sig, err := Sign(priv, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	ok, err := Verify(pub, msg, sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected valid signature")
	}
}

func TestVerifyRejectsBitFlip(t *testing.T) {
	pub, priv, _ := GenerateKey()
	msg := []byte("hello consensus")
	sig, _ := Sign(priv, msg)

	flippedMsg := append([]byte(nil), msg...)
	flippedMsg[0] ^= 1
	if ok, _ := Verify(pub, flippedMsg, sig); ok {
		t.Fatalf("expected verification failure on flipped message")
	}

	flippedSig := append([]byte(nil), sig...)
	flippedSig[0] ^= 1
	if ok, _ := Verify(pub, msg, flippedSig); ok {
		t.Fatalf("expected verification failure on flipped signature")
	}
}

func TestVerifyRejectsMalformedLengths(t *testing.T) {
	pub, priv, _ := GenerateKey()
	msg := []byte("m")
	sig, _ := Sign(priv, msg)

	if _, err := Verify(pub[:10], msg, sig); err == nil {
		t.Fatalf("expected error on short public key")
	}
	if _, err := Verify(pub, msg, sig[:10]); err == nil {
		t.Fatalf("expected error on short signature")
	}
}

func TestVerifyBatchPreservesOrder(t *testing.T) {
	const n = 20
	entries := make([]BatchEntry, n)
	for i := 0; i < n; i++ {
		pub, priv, _ := GenerateKey()
		msg := []byte{byte(i)}
		sig, _ := Sign(priv, msg)
		if i == 5 {
			// Corrupt one entry; the rest must still verify true and the
			// order of results must match input order.
			sig[0] ^= 1
		}
		entries[i] = BatchEntry{PublicKey: pub, Message: msg, Signature: sig}
	}

	results, err := VerifyBatch(entries)
	if err != nil {
		t.Fatalf("verify batch: %v", err)
	}
	if len(results) != n {
		t.Fatalf("expected %d results, got %d", n, len(results))
	}
	for i, ok := range results {
		want := i != 5
		if ok != want {
			t.Fatalf("entry %d: got %v, want %v", i, ok, want)
		}
	}
}
