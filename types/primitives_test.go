package types

import (
	"crypto/ed25519"
	"testing"
)

func TestAddressFromPubkeyLength(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := AddressFromPubkey(pub)
	if addr.IsZero() {
		t.Fatalf("derived address must not be zero")
	}
}

func TestHashCompare(t *testing.T) {
	a := Hash{1}
	b := Hash{2}
	if a.Compare(b) >= 0 {
		t.Fatalf("expected a < b")
	}
	if b.Compare(a) <= 0 {
		t.Fatalf("expected b > a")
	}
	if a.Compare(a) != 0 {
		t.Fatalf("expected a == a")
	}
}

func TestSlotTimeRoundTrip(t *testing.T) {
	genesis := uint64(1_700_000_000)
	dur := uint64(500)
	slot := Slot(120)
	ts := SlotToTime(slot, genesis, dur)
	got := TimeToSlot(ts, genesis, dur)
	if got != slot {
		t.Fatalf("TimeToSlot(SlotToTime(slot)) = %d, want %d", got, slot)
	}
}

func TestTimeToSlotBeforeGenesis(t *testing.T) {
	if got := TimeToSlot(10, 100, 500); got != 0 {
		t.Fatalf("expected slot 0 before genesis, got %d", got)
	}
}

func TestEpochOf(t *testing.T) {
	if got := EpochOf(Slot(100), 43200); got != 0 {
		t.Fatalf("expected epoch 0, got %d", got)
	}
	if got := EpochOf(Slot(43200), 43200); got != 1 {
		t.Fatalf("expected epoch 1, got %d", got)
	}
}
