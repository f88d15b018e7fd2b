package types

import "github.com/holiman/uint256"

// Amount represents a balance, fee, or stake value. spec.md §3 specifies a
// u128 range; uint256.Int (github.com/holiman/uint256, the big-unsigned-int
// library the pack's EVM-adjacent repos depend on for exactly this kind of
// overflow-checked arithmetic) is used as the in-memory representation so
// addition/subtraction get overflow detection for free via AddOverflow/
// SubOverflow, at the cost of carrying 128 bits of unused headroom.
type Amount = uint256.Int

// NewAmount constructs an Amount from a uint64.
func NewAmount(v uint64) *Amount {
	return new(uint256.Int).SetUint64(v)
}

// ZeroAmount returns a fresh zero-valued Amount.
func ZeroAmount() *Amount { return new(uint256.Int) }

// AmountFromU128Bytes decodes the 16-byte big-endian wire representation of
// a u128 amount.
func AmountFromU128Bytes(b [16]byte) *Amount {
	var full [32]byte
	copy(full[16:], b[:])
	return new(uint256.Int).SetBytes32(full[:])
}

// ToU128Bytes encodes a into the 16-byte big-endian wire representation. It
// is the caller's responsibility to ensure a fits in 128 bits; spec.md §4.4
// treats any wider value as arithmetic overflow and rejects it before this
// is ever called.
func ToU128Bytes(a *Amount) [16]byte {
	full := a.Bytes32()
	var out [16]byte
	copy(out[:], full[16:])
	return out
}

// Fits128 reports whether a fits in 128 bits, i.e. has no bits set above
// bit 127.
func Fits128(a *Amount) bool {
	var hi uint256.Int
	hi.Rsh(a, 128)
	return hi.IsZero()
}
