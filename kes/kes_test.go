package kes

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	key := FromSeed([32]byte{1, 2, 3}, 16)
	vk := key.VerificationKey()

	sig, err := key.Sign(0, []byte("hello world"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !Verify(vk, sig, []byte("hello world")) {
		t.Fatalf("expected signature to verify")
	}
	if Verify(vk, sig, []byte("different")) {
		t.Fatalf("expected verification failure for different message")
	}
}

func TestMonotonicPeriod(t *testing.T) {
	key := FromSeed([32]byte{9}, 4)
	if _, err := key.Sign(1, []byte("test")); err != nil {
		t.Fatalf("sign period 1: %v", err)
	}
	if _, err := key.Sign(0, []byte("regress")); err == nil {
		t.Fatalf("expected error signing a past period")
	}
}

// TestBoundsCheck exercises spec.md §8's boundary behavior: signing at
// period = max_periods-1 succeeds, at period = max_periods fails.
func TestBoundsCheck(t *testing.T) {
	key := FromSeed([32]byte{7}, 2)
	if _, err := key.Sign(1, []byte("ok")); err != nil {
		t.Fatalf("sign at max_periods-1 should succeed: %v", err)
	}
	key2 := FromSeed([32]byte{7}, 2)
	if _, err := key2.Sign(2, []byte("oob")); err == nil {
		t.Fatalf("expected error signing at max_periods")
	}
}
