// Package blssig implements BLS12-381 signing, signature aggregation, and
// public-key aggregation (spec.md §4.1) on top of blst, the BLS12-381
// library used throughout the pack's validator-chain clients. Keys live in
// G1 (48-byte compressed) and signatures in G2 (96-byte compressed), the
// "min-pk" convention used by Ethereum consensus clients.
package blssig

import (
	blst "github.com/supranational/blst/bindings/go"

	"github.com/leancorelabs/chain/errs"
)

const (
	PublicKeySize = 48
	SignatureSize = 96
)

// domainSeparationTag binds signatures to this protocol so they cannot be
// replayed against another BLS-signing system that happens to share a
// curve.
var domainSeparationTag = []byte("CONSENSUS-LEDGER-BLS-SIG-BLS12381G2-SHA256-SSWU-RO-POP_")

// SecretKey is a BLS12-381 scalar secret key.
type SecretKey struct {
	inner *blst.SecretKey
}

// GenerateKey derives a secret key from 32 bytes of key material (e.g. a
// CSPRNG seed or a KDF output).
func GenerateKey(ikm []byte) (*SecretKey, error) {
	if len(ikm) < 32 {
		return nil, errs.Wrap(errs.Validation, errs.ErrInvalidLength)
	}
	sk := blst.KeyGen(ikm)
	if sk == nil {
		return nil, errs.New(errs.Crypto, "bls key generation failed")
	}
	return &SecretKey{inner: sk}, nil
}

// PublicKey returns the 48-byte compressed public key for sk.
func (sk *SecretKey) PublicKey() []byte {
	pk := new(blst.P1Affine).From(sk.inner)
	return pk.Compress()
}

// Sign signs msg, returning a 96-byte compressed signature.
func (sk *SecretKey) Sign(msg []byte) []byte {
	sig := new(blst.P2Affine).Sign(sk.inner, msg, domainSeparationTag)
	return sig.Compress()
}

// Verify checks a single BLS signature against a 48-byte compressed public
// key and message.
func Verify(pubkey, msg, sig []byte) (bool, error) {
	if len(pubkey) != PublicKeySize || len(sig) != SignatureSize {
		return false, errs.Wrap(errs.Validation, errs.ErrInvalidLength)
	}
	p1 := new(blst.P1Affine).Uncompress(pubkey)
	if p1 == nil {
		return false, errs.Wrap(errs.Crypto, errs.ErrMalformedInput)
	}
	p2 := new(blst.P2Affine).Uncompress(sig)
	if p2 == nil {
		return false, errs.Wrap(errs.Crypto, errs.ErrMalformedInput)
	}
	return p2.Verify(true, p1, true, msg, domainSeparationTag), nil
}

// AggregateSignatures combines signatures over the same message into one
// 96-byte compressed aggregate. Fails on empty input or a malformed
// signature.
func AggregateSignatures(sigs [][]byte) ([]byte, error) {
	if len(sigs) == 0 {
		return nil, errs.Wrap(errs.Validation, errs.ErrEmptyInput)
	}
	points := make([]*blst.P2Affine, len(sigs))
	for i, s := range sigs {
		if len(s) != SignatureSize {
			return nil, errs.Wrap(errs.Validation, errs.ErrInvalidLength)
		}
		p := new(blst.P2Affine).Uncompress(s)
		if p == nil {
			return nil, errs.Wrap(errs.Crypto, errs.ErrMalformedInput)
		}
		points[i] = p
	}
	agg := new(blst.P2Aggregate)
	if !agg.Aggregate(points, true) {
		return nil, errs.New(errs.Crypto, "signature aggregation failed")
	}
	return agg.ToAffine().Compress(), nil
}

// AggregatePublicKeys combines public keys into one 48-byte compressed
// aggregate. Fails on empty input or a malformed key.
func AggregatePublicKeys(pubkeys [][]byte) ([]byte, error) {
	if len(pubkeys) == 0 {
		return nil, errs.Wrap(errs.Validation, errs.ErrEmptyInput)
	}
	points := make([]*blst.P1Affine, len(pubkeys))
	for i, pk := range pubkeys {
		if len(pk) != PublicKeySize {
			return nil, errs.Wrap(errs.Validation, errs.ErrInvalidLength)
		}
		p := new(blst.P1Affine).Uncompress(pk)
		if p == nil {
			return nil, errs.Wrap(errs.Crypto, errs.ErrMalformedInput)
		}
		points[i] = p
	}
	agg := new(blst.P1Aggregate)
	if !agg.Aggregate(points, true) {
		return nil, errs.New(errs.Crypto, "public key aggregation failed")
	}
	return agg.ToAffine().Compress(), nil
}

// VerifyAggregated performs a single pairing check of an aggregated
// signature against an aggregated public key over one message. It succeeds
// for any valid aggregation of per-signer signatures over the same msg.
func VerifyAggregated(aggPubkey, msg, aggSig []byte) (bool, error) {
	return Verify(aggPubkey, msg, aggSig)
}
