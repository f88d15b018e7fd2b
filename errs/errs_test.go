package errs

import (
	"errors"
	"testing"
)

func TestWrapAndIs(t *testing.T) {
	err := Wrap(Economic, ErrFeeBelowFloor)
	if !Is(err, Economic) {
		t.Fatalf("expected Economic kind")
	}
	if Is(err, Storage) {
		t.Fatalf("did not expect Storage kind")
	}
	if !errors.Is(err, ErrFeeBelowFloor) {
		t.Fatalf("expected errors.Is to unwrap to sentinel")
	}
}

func TestFatalKinds(t *testing.T) {
	if !Storage.Fatal() {
		t.Fatalf("Storage must be fatal")
	}
	if !Invariant.Fatal() {
		t.Fatalf("Invariant must be fatal")
	}
	if Economic.Fatal() {
		t.Fatalf("Economic must not be fatal")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(Storage, nil) != nil {
		t.Fatalf("Wrap(nil) must return nil")
	}
}
