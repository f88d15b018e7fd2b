// Package vrf implements the VRF prove/verify primitive from spec.md §4.1
// on top of go-ecvrf (ECVRF-SECP256K1-SHA256-TAI), the VRF library the pack
// grounds via vechain/go-ecvrf. The output is a deterministic 32-byte
// pseudorandom value with a proof binding it to (public key, input).
package vrf

import (
	"crypto/ecdsa"
	"crypto/elliptic"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/vechain/go-ecvrf"

	"github.com/leancorelabs/chain/errs"
)

const OutputSize = 32

var suite = ecvrf.NewSecp256k1Sha256Tai()

// Output pairs a VRF output with its proof.
type Output struct {
	Value [OutputSize]byte
	Proof []byte
}

// GenerateKey returns a fresh secp256k1 VRF keypair. The ECVRF-SECP256K1
// suite requires keys on the secp256k1 curve, not a NIST curve, so key
// generation goes through decred's secp256k1 implementation (an indirect
// dependency of go-ecvrf itself) rather than crypto/elliptic's P-256.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	sk, err := ecdsa.GenerateKey(secp256k1.S256(), nil)
	if err != nil {
		return nil, errs.Wrap(errs.Crypto, err)
	}
	return sk, nil
}

// Prove evaluates the VRF on input under secretKey, returning the
// deterministic output and a proof of correct derivation.
func Prove(secretKey *ecdsa.PrivateKey, input []byte) (Output, error) {
	beta, pi, err := suite.Prove(secretKey, input)
	if err != nil {
		return Output{}, errs.Wrap(errs.Crypto, err)
	}
	var out Output
	if len(beta) != OutputSize {
		return Output{}, errs.New(errs.Crypto, "unexpected vrf output size")
	}
	copy(out.Value[:], beta)
	out.Proof = pi
	return out, nil
}

// MarshalPublicKey encodes a VRF public key in uncompressed SEC1 form
// (0x04 || X || Y), the form election.Validator.Pubkey is stored in.
func MarshalPublicKey(pub *ecdsa.PublicKey) []byte {
	return elliptic.Marshal(secp256k1.S256(), pub.X, pub.Y)
}

// ParsePublicKey reverses MarshalPublicKey.
func ParsePublicKey(data []byte) (*ecdsa.PublicKey, error) {
	x, y := elliptic.Unmarshal(secp256k1.S256(), data)
	if x == nil {
		return nil, errs.New(errs.Crypto, "invalid vrf public key encoding")
	}
	return &ecdsa.PublicKey{Curve: secp256k1.S256(), X: x, Y: y}, nil
}

// Verify checks that output was correctly derived from (publicKey, input),
// re-deriving the output from the proof and comparing.
func Verify(publicKey *ecdsa.PublicKey, input []byte, output Output) (bool, error) {
	beta, err := suite.Verify(publicKey, input, output.Proof)
	if err != nil {
		// An invalid proof is a verification failure, not a caller error.
		return false, nil
	}
	if len(beta) != OutputSize {
		return false, nil
	}
	return [OutputSize]byte(beta) == output.Value, nil
}
