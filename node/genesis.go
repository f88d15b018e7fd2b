package node

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/leancorelabs/chain/block"
	"github.com/leancorelabs/chain/blssig"
	"github.com/leancorelabs/chain/election"
	"github.com/leancorelabs/chain/ledger"
	"github.com/leancorelabs/chain/types"
	"github.com/leancorelabs/chain/vrf"
)

// ValidatorIdentity bundles one validator's devnet keys, address, and
// genesis stake.
type ValidatorIdentity struct {
	Address      types.Address
	VRFSecretKey *ecdsa.PrivateKey
	VRFPubkey    []byte
	BLSSecretKey *blssig.SecretKey
	BLSPubkey    []byte
	Stake        *types.Amount
}

// deterministicReader expands a label into an unbounded deterministic byte
// stream via repeated SHA-256, so GenerateValidators can hand every node in
// a devnet the same validator set (keys included) without an out-of-band
// exchange.
type deterministicReader struct {
	seed    [32]byte
	counter uint64
}

func newDeterministicReader(label string) *deterministicReader {
	return &deterministicReader{seed: sha256.Sum256([]byte(label))}
}

func (r *deterministicReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		var ctr [8]byte
		binary.LittleEndian.PutUint64(ctr[:], r.counter)
		r.counter++
		digest := sha256.Sum256(append(r.seed[:], ctr[:]...))
		n += copy(p[n:], digest[:])
	}
	return n, nil
}

var _ io.Reader = (*deterministicReader)(nil)

// GenerateValidators derives n validator identities, each staked
// stakeEach, deterministically from their index.
func GenerateValidators(n int, stakeEach uint64) ([]*ValidatorIdentity, error) {
	out := make([]*ValidatorIdentity, n)
	for i := 0; i < n; i++ {
		vrfSK, err := ecdsa.GenerateKey(secp256k1.S256(), newDeterministicReader(fmt.Sprintf("chain-devnet-vrf-%d", i)))
		if err != nil {
			return nil, fmt.Errorf("generate vrf key %d: %w", i, err)
		}
		blsIKM := sha256.Sum256([]byte(fmt.Sprintf("chain-devnet-bls-%d", i)))
		blsSK, err := blssig.GenerateKey(blsIKM[:])
		if err != nil {
			return nil, fmt.Errorf("generate bls key %d: %w", i, err)
		}
		blsPub := blsSK.PublicKey()
		out[i] = &ValidatorIdentity{
			Address:      types.AddressFromPubkey(blsPub),
			VRFSecretKey: vrfSK,
			VRFPubkey:    vrf.MarshalPublicKey(&vrfSK.PublicKey),
			BLSSecretKey: blsSK,
			BLSPubkey:    blsPub,
			Stake:        types.NewAmount(stakeEach),
		}
	}
	return out, nil
}

// genesisBlock builds the slot-0 block: zero parent, no transactions, and
// the state root of whatever accounts were seeded into the ledger before
// this is called.
func genesisBlock(stateRoot types.Hash, genesisTimeMs uint64) *block.Block {
	return &block.Block{
		Header: block.Header{
			Slot:             0,
			ParentHash:       types.ZeroHash,
			StateRoot:        stateRoot,
			TransactionsRoot: block.ComputeTransactionsRoot(nil),
			ReceiptsRoot:     block.ComputeReceiptsRoot(nil),
			Proposer:         types.Address{},
			Timestamp:        genesisTimeMs,
		},
	}
}

// seedGenesisBalances credits every validator's address with its stake so
// it can pay transaction fees and have something at stake economically,
// returning the resulting state root for the genesis block header.
func seedGenesisBalances(l *ledger.Ledger, validators []*ValidatorIdentity) (types.Hash, error) {
	for _, v := range validators {
		if err := l.ApplyBalanceDelta(v.Address, v.Stake.ToBig()); err != nil {
			return types.ZeroHash, fmt.Errorf("seed genesis balance for %s: %w", v.Address, err)
		}
	}
	return l.StateRoot(), nil
}

// electionValidators projects devnet identities into the election
// package's Validator shape.
func electionValidators(validators []*ValidatorIdentity) []*election.Validator {
	out := make([]*election.Validator, len(validators))
	for i, v := range validators {
		out[i] = &election.Validator{
			Address: v.Address,
			Pubkey:  v.VRFPubkey,
			Stake:   v.Stake,
			Active:  true,
		}
	}
	return out
}
