// Package kes implements a one-time-per-period signature with monotonic
// period advancement (spec.md §4.1), giving validator signing keys forward
// security: once a period has been signed for, no earlier period can be
// signed again, so a leaked key cannot forge signatures for slots already
// passed.
//
// Ported from _examples/original_source/crates/crypto/kes: a root seed is
// expanded (via HKDF rather than the original's plain SHA-256 chaining, to
// exercise the pack's golang.org/x/crypto/hkdf) into a per-period tag, and
// the per-period tag is mixed with the message digest to produce the
// signature.
package kes

import (
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/leancorelabs/chain/errs"
)

const TagSize = 32

var hkdfInfo = []byte("consensus-ledger-kes-root-v1")

// VerificationKey is the public, period-independent half of a KES key.
type VerificationKey struct {
	Root       [32]byte
	MaxPeriods uint32
}

// Key is the evolving secret half of a KES key. Signing advances
// currentPeriod monotonically; it is the only KES operation with a side
// effect.
type Key struct {
	seed          [32]byte
	root          [32]byte
	currentPeriod uint32
	signedOnce    bool
	maxPeriods    uint32
}

// Signature binds a period and its derived tag to a message digest.
type Signature struct {
	Period    uint32
	PeriodTag [32]byte
	Digest    [32]byte
}

// FromSeed builds a Key from an explicit 32-byte seed, usable for at most
// maxPeriods signing periods.
func FromSeed(seed [32]byte, maxPeriods uint32) Key {
	return Key{seed: seed, root: deriveRoot(seed), maxPeriods: maxPeriods}
}

func deriveRoot(seed [32]byte) [32]byte {
	r := hkdf.New(sha256.New, seed[:], nil, hkdfInfo)
	var root [32]byte
	if _, err := io.ReadFull(r, root[:]); err != nil {
		// hkdf.Expand over sha256 can only fail if the requested output
		// exceeds 255*32 bytes; 32 bytes never does.
		panic("kes: hkdf expand failed unexpectedly")
	}
	return root
}

// VerificationKey returns the public key for k.
func (k *Key) VerificationKey() VerificationKey {
	return VerificationKey{Root: k.root, MaxPeriods: k.maxPeriods}
}

// CurrentPeriod returns the last period signed, or 0 if none yet.
func (k *Key) CurrentPeriod() uint32 { return k.currentPeriod }

func derivePeriodTag(root [32]byte, period uint32) [32]byte {
	h := sha256.New()
	h.Write(root[:])
	var periodBE [4]byte
	binary.BigEndian.PutUint32(periodBE[:], period)
	h.Write(periodBE[:])
	var tag [32]byte
	copy(tag[:], h.Sum(nil))
	return tag
}

func deriveDigest(tag [32]byte, message []byte) [32]byte {
	h := sha256.New()
	h.Write(tag[:])
	h.Write(message)
	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return digest
}

// Sign signs message for period, advancing k.currentPeriod to period.
// Signing with a period before the current one fails (no regression);
// signing at or beyond maxPeriods fails.
func (k *Key) Sign(period uint32, message []byte) (Signature, error) {
	if period >= k.maxPeriods {
		return Signature{}, errs.Wrapf(errs.Validation, "kes: period %d out of range (max %d)", period, k.maxPeriods)
	}
	if k.signedOnce && period < k.currentPeriod {
		return Signature{}, errs.Wrapf(errs.Validation, "kes: period regression: signed at %d, requested %d", k.currentPeriod, period)
	}

	k.currentPeriod = period
	k.signedOnce = true

	tag := derivePeriodTag(k.root, period)
	return Signature{
		Period:    period,
		PeriodTag: tag,
		Digest:    deriveDigest(tag, message),
	}, nil
}

// Verify checks sig against vk and message.
func Verify(vk VerificationKey, sig Signature, message []byte) bool {
	if sig.Period >= vk.MaxPeriods {
		return false
	}
	expectedTag := derivePeriodTag(vk.Root, sig.Period)
	if expectedTag != sig.PeriodTag {
		return false
	}
	return deriveDigest(sig.PeriodTag, message) == sig.Digest
}
