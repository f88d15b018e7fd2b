// Package cryptoprim implements single-message Ed25519 signing and
// verification (spec.md §4.1), including parallel batch verification that
// preserves input order.
package cryptoprim

import (
	"crypto/ed25519"

	"github.com/leancorelabs/chain/errs"
	"golang.org/x/sync/errgroup"
)

const (
	PublicKeySize = ed25519.PublicKeySize // 32 bytes
	SignatureSize = ed25519.SignatureSize // 64 bytes
	SeedSize      = ed25519.SeedSize
)

// GenerateKey returns a fresh Ed25519 keypair.
func GenerateKey() (pub ed25519.PublicKey, priv ed25519.PrivateKey, err error) {
	return ed25519.GenerateKey(nil)
}

// Sign signs message with secretKey, returning a 64-byte signature.
func Sign(secretKey ed25519.PrivateKey, message []byte) ([]byte, error) {
	if len(secretKey) != ed25519.PrivateKeySize {
		return nil, errs.Wrap(errs.Validation, errs.ErrInvalidLength)
	}
	return ed25519.Sign(secretKey, message), nil
}

// Verify reports whether signature is a valid Ed25519 signature of message
// under publicKey. Malformed inputs are rejected with a typed error rather
// than a bare false.
func Verify(publicKey, message, signature []byte) (bool, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return false, errs.Wrap(errs.Validation, errs.ErrInvalidLength)
	}
	if len(signature) != ed25519.SignatureSize {
		return false, errs.Wrap(errs.Validation, errs.ErrInvalidLength)
	}
	return ed25519.Verify(publicKey, message, signature), nil
}

// BatchEntry is one (public key, message, signature) triple to verify.
type BatchEntry struct {
	PublicKey []byte
	Message   []byte
	Signature []byte
}

// VerifyBatch verifies every entry, in parallel, preserving input order in
// the returned slice. A malformed entry verifies to false rather than
// aborting the batch.
func VerifyBatch(entries []BatchEntry) ([]bool, error) {
	results := make([]bool, len(entries))
	if len(entries) == 0 {
		return results, nil
	}

	g := new(errgroup.Group)
	g.SetLimit(maxParallelism())
	for i := range entries {
		i := i
		g.Go(func() error {
			ok, err := Verify(entries[i].PublicKey, entries[i].Message, entries[i].Signature)
			if err != nil {
				results[i] = false
				return nil
			}
			results[i] = ok
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func maxParallelism() int {
	return 8
}
