// Package types defines the primitive identifiers shared across the
// consensus-ledger core: hashes, addresses, slots, and epochs.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Slot is a fixed-duration time window during which at most one block is
// committed.
type Slot uint64

// Epoch is a run of consecutive slots over which the validator set and VRF
// randomness are fixed.
type Epoch uint64

// Hash is a 32-byte content hash (SHA-256 of the hashed object).
type Hash [32]byte

// Address is a 20-byte account/validator identifier, the low 20 bytes of
// SHA-256(pubkey).
type Address [20]byte

// ZeroHash is the genesis-epoch randomness value and the absence-marker
// for optional hash fields.
var ZeroHash = Hash{}

// HashBytes computes the SHA-256 content hash of data.
func HashBytes(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// AddressFromPubkey derives an address as the low 20 bytes of SHA-256(pubkey),
// per spec.md §3.
func AddressFromPubkey(pubkey []byte) Address {
	h := sha256.Sum256(pubkey)
	var a Address
	copy(a[:], h[12:])
	return a
}

func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Short returns a short hex representation of the hash (first 4 bytes).
func (h Hash) Short() string { return fmt.Sprintf("%x", h[:4]) }

// Compare compares two hashes lexicographically. Returns 1 if h > other, -1
// if h < other, 0 if equal.
func (h Hash) Compare(other Hash) int {
	for i := 0; i < len(h); i++ {
		if h[i] > other[i] {
			return 1
		}
		if h[i] < other[i] {
			return -1
		}
	}
	return 0
}

func (a Address) IsZero() bool { return a == Address{} }

func (a Address) String() string { return hex.EncodeToString(a[:]) }

func (a Address) Compare(other Address) int {
	for i := 0; i < len(a); i++ {
		if a[i] > other[i] {
			return 1
		}
		if a[i] < other[i] {
			return -1
		}
	}
	return 0
}

// SlotToTime converts a slot number to a Unix timestamp, given the genesis
// time and slot duration in milliseconds.
func SlotToTime(slot Slot, genesisTime uint64, slotDurationMs uint64) uint64 {
	return genesisTime + uint64(slot)*slotDurationMs/1000
}

// TimeToSlot converts a Unix timestamp to a slot number.
func TimeToSlot(t, genesisTime, slotDurationMs uint64) Slot {
	if t < genesisTime {
		return 0
	}
	return Slot((t - genesisTime) * 1000 / slotDurationMs)
}

// EpochOf returns the epoch containing slot, given the epoch length in slots.
func EpochOf(slot Slot, epochLength uint64) Epoch {
	return Epoch(uint64(slot) / epochLength)
}
