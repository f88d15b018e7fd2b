// Package election implements the VRF leader lottery and epoch-randomness
// chaining of spec.md §4.6.1.
//
// Grounded in _examples/original_source/crates/consensus/src/vrf_pos.rs:
// the η_e || slot_le VRF input, the stake-weighted eligibility check, and
// the η_{e+1} = SHA-256(vrf_output) epoch-rotation rule are all adapted
// directly from that source (generalized from its f64-tau arithmetic to
// exact fixed-point integer comparison in uint256, avoiding floating-point nondeterminism
// across nodes). Built on this repository's vrf and types packages.
package election

import (
	"encoding/binary"
	"math"

	"github.com/holiman/uint256"

	"github.com/leancorelabs/chain/errs"
	"github.com/leancorelabs/chain/types"
	"github.com/leancorelabs/chain/vrf"
)

// tauScale quantizes tau to a 32-bit fixed-point fraction, giving headroom
// below uint256's 256 bits when multiplied against a 128-bit stake value
// and a 64-bit VRF sample.
const tauScale = uint64(1) << 32

// Genesis epoch randomness is the all-zero hash (spec.md §4.6.1).
var GenesisRandomness = types.ZeroHash

// VRFInput returns η_e || slot_le, the VRF input for slot in an epoch whose
// randomness is randomness.
func VRFInput(randomness types.Hash, slot types.Slot) []byte {
	out := make([]byte, 32+8)
	copy(out, randomness[:])
	binary.LittleEndian.PutUint64(out[32:], uint64(slot))
	return out
}

// Eligible reports whether a VRF output qualifies its holder as a leader
// for a validator with stake out of totalStake, at density parameter tau ∈
// (0, 1].
//
// The first 8 bytes of the VRF output are interpreted as a little-endian
// u64 and normalized to u ∈ [0, 1) as output/2^64; the validator is
// eligible iff u < tau · stake / totalStake. The comparison is done by
// cross-multiplying in uint256 rather than through floating point, so the
// same output is judged identically on every node regardless of FPU
// behavior.
func Eligible(output [vrf.OutputSize]byte, stake, totalStake *types.Amount, tau float64) bool {
	if totalStake.IsZero() || tau <= 0 {
		return false
	}
	u := binary.LittleEndian.Uint64(output[:8])

	// Eligibility holds iff u/2^64 < tau*stake/totalStake. Rearranged to
	// avoid division: u * totalStake * tauScale < tauFixed * stake * 2^64,
	// computed entirely in uint256 so every node reaches the same verdict
	// regardless of floating-point behavior.
	if tau > 1 {
		tau = 1
	}
	if tau < 0 {
		tau = 0
	}
	tauFixed := uint256.NewInt(uint64(math.Round(tau * float64(tauScale))))

	lhs, overflow := new(uint256.Int).MulOverflow(new(uint256.Int).SetUint64(u), totalStake)
	if overflow {
		return false
	}
	lhs, overflow = lhs.MulOverflow(lhs, uint256.NewInt(tauScale))
	if overflow {
		return false
	}

	rhs, overflow := new(uint256.Int).MulOverflow(tauFixed, stake)
	if overflow {
		return true
	}
	rhs, overflow = rhs.MulOverflow(rhs, twoPow64)
	if overflow {
		return true
	}

	return lhs.Cmp(rhs) < 0
}

// twoPow64 is 2^64 as a uint256, used to scale the VRF sample's implicit
// denominator into the eligibility comparison.
var twoPow64 = new(uint256.Int).Lsh(uint256.NewInt(1), 64)

// VRFProveEligibility evaluates the VRF for slot under secretKey and
// reports whether the caller is an eligible leader, returning the VRF
// output to embed in the proposed block when eligible.
func VRFProveEligibility(secretKey any, randomness types.Hash, slot types.Slot, stake, totalStake *types.Amount, tau float64, prove func(input []byte) (vrf.Output, error)) (vrf.Output, bool, error) {
	input := VRFInput(randomness, slot)
	out, err := prove(input)
	if err != nil {
		return vrf.Output{}, false, err
	}
	return out, Eligible(out.Value, stake, totalStake, tau), nil
}

// VerifyEligibility re-derives and checks a proposer's claimed VRF output
// against (public key, input) and re-evaluates the eligibility inequality.
func VerifyEligibility(verify func(input []byte, output vrf.Output) (bool, error), randomness types.Hash, slot types.Slot, output vrf.Output, stake, totalStake *types.Amount, tau float64) (bool, error) {
	input := VRFInput(randomness, slot)
	ok, err := verify(input, output)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return Eligible(output.Value, stake, totalStake, tau), nil
}

// NextEpochRandomness computes η_{e+1} = SHA-256(y_seed), where y_seed is
// the VRF output of the first block of the epoch just ending.
func NextEpochRandomness(firstBlockVRFOutput [vrf.OutputSize]byte) types.Hash {
	return types.HashBytes(firstBlockVRFOutput[:])
}

// IsEpochBoundary reports whether slot is the first slot of a new epoch,
// i.e. slot mod epochLength == 0.
func IsEpochBoundary(slot types.Slot, epochLength uint64) bool {
	return epochLength > 0 && uint64(slot)%epochLength == 0
}

// Validator is a VRF-eligible stakeholder.
type Validator struct {
	Address types.Address
	Pubkey  []byte // secp256k1 VRF public key, uncompressed
	Stake   *types.Amount
	Active  bool
}

// Engine tracks the rolling VRF-PoS state: epoch randomness, the current
// slot/epoch, and the validator set with its aggregate stake.
//
// Grounded in _examples/original_source/crates/consensus/src/vrf_pos.rs's
// VrfPosConsensus, generalized to take an actual seed VRF output at epoch
// boundaries (AdvanceSlot) rather than always falling back to hashing the
// prior randomness, which the original only does as a placeholder.
type Engine struct {
	EpochRandomness types.Hash
	CurrentEpoch    types.Epoch
	CurrentSlot     types.Slot
	FinalizedSlot   types.Slot
	EpochLength     uint64
	Tau             float64

	validators map[types.Address]*Validator
	totalStake *types.Amount
}

// NewEngine constructs an Engine at genesis: epoch 0, slot 0, and epoch
// randomness η_0 = 0^32.
func NewEngine(validators []*Validator, tau float64, epochLength uint64) *Engine {
	e := &Engine{
		EpochRandomness: GenesisRandomness,
		EpochLength:     epochLength,
		Tau:             tau,
		validators:      make(map[types.Address]*Validator, len(validators)),
		totalStake:      types.ZeroAmount(),
	}
	for _, v := range validators {
		e.validators[v.Address] = v
		e.totalStake.Add(e.totalStake, v.Stake)
	}
	return e
}

func (e *Engine) Validator(addr types.Address) (*Validator, bool) {
	v, ok := e.validators[addr]
	return v, ok
}

func (e *Engine) TotalStake() *types.Amount { return new(types.Amount).Set(e.totalStake) }

// StakeOf returns addr's stake, satisfying finality.ValidatorSet so the
// HotStuff engine can look up voting weight without importing election's
// full Validator type.
func (e *Engine) StakeOf(addr types.Address) (*types.Amount, bool) {
	v, ok := e.validators[addr]
	if !ok {
		return nil, false
	}
	return v.Stake, true
}

func (e *Engine) ValidatorCount() int { return len(e.validators) }

// AddValidator admits a new validator and folds its stake into the total.
func (e *Engine) AddValidator(v *Validator) {
	e.validators[v.Address] = v
	e.totalStake.Add(e.totalStake, v.Stake)
}

// UpdateStake replaces a validator's stake, adjusting the aggregate total.
func (e *Engine) UpdateStake(addr types.Address, newStake *types.Amount) error {
	v, ok := e.validators[addr]
	if !ok {
		return errValidatorNotFound
	}
	e.totalStake.Sub(e.totalStake, v.Stake)
	e.totalStake.Add(e.totalStake, newStake)
	v.Stake = newStake
	return nil
}

// IsEligibleLeader evaluates the VRF for the engine's current slot under
// prove and reports whether addr qualifies as leader.
func (e *Engine) IsEligibleLeader(addr types.Address, prove func(input []byte) (vrf.Output, error)) (vrf.Output, bool, error) {
	v, ok := e.validators[addr]
	if !ok {
		return vrf.Output{}, false, errValidatorNotFound
	}
	return VRFProveEligibility(nil, e.EpochRandomness, e.CurrentSlot, v.Stake, e.totalStake, e.Tau, prove)
}

// VerifyLeader re-derives and checks a proposer's claimed VRF output for
// the engine's current slot.
func (e *Engine) VerifyLeader(addr types.Address, output vrf.Output, verify func(input []byte, output vrf.Output) (bool, error)) (bool, error) {
	v, ok := e.validators[addr]
	if !ok {
		return false, errValidatorNotFound
	}
	return VerifyEligibility(verify, e.EpochRandomness, e.CurrentSlot, output, v.Stake, e.totalStake, e.Tau)
}

// AdvanceSlot moves to the next slot, rotating the epoch when the new slot
// lands on an epoch boundary. seedVRFOutput is the VRF output of the first
// block of the epoch now ending; it is only consumed when a boundary is
// crossed.
func (e *Engine) AdvanceSlot(seedVRFOutput [vrf.OutputSize]byte) {
	e.CurrentSlot++
	if IsEpochBoundary(e.CurrentSlot, e.EpochLength) {
		e.EpochRandomness = NextEpochRandomness(seedVRFOutput)
		e.CurrentEpoch++
	}
}

var errValidatorNotFound = errs.New(errs.Validation, "validator not found")
