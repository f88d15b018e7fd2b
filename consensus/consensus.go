// Package consensus selects among the three leader-election/finality
// variants spec.md §9 leaves open and exposes them behind one interface,
// so the node driver is written once against Engine and only its
// construction varies by devnet config.
//
// Grounded in original_source/crates/consensus/src/{simple,vrf_pos,
// hybrid}.rs, which define exactly these three variants behind one Rust
// trait; Simple's round-robin rule is additionally grounded in the
// teacher's validator.ValidateProposer (slot % numValidators).
package consensus

import (
	"sync"

	"github.com/leancorelabs/chain/block"
	"github.com/leancorelabs/chain/clock"
	"github.com/leancorelabs/chain/election"
	"github.com/leancorelabs/chain/finality"
	"github.com/leancorelabs/chain/types"
	"github.com/leancorelabs/chain/vrf"
)

// Engine is the common surface every consensus variant implements, letting
// the node driver run its slot/phase pipeline without caring which
// variant backs it.
type Engine interface {
	// IsLeader reports whether addr is this slot's proposer, returning the
	// VRF output to embed in the block header when the variant uses one
	// (nil for Simple, which ignores prove). prove evaluates the VRF
	// under this node's secret key.
	IsLeader(addr types.Address, prove func(input []byte) (vrf.Output, error)) (*vrf.Output, bool, error)
	// CheckEligibility re-derives and checks a claimed leader output for
	// the engine's current slot (Simple ignores both output and verify and
	// only checks that addr is the round-robin leader).
	CheckEligibility(addr types.Address, output vrf.Output, verify func(input []byte, output vrf.Output) (bool, error)) (bool, error)
	// OnPropose registers a freshly proposed block and returns this node's
	// vote for it, if any (nil for variants with no finality voting).
	OnPropose(b *block.Block) (*block.Vote, error)
	// OnVote folds in a peer's vote, returning a freshly formed QC if the
	// vote completed one (nil for variants with no finality voting).
	OnVote(v *block.Vote) (*block.QC, error)
	// CheckFinality reports whether parentHash is finalized by childHash
	// extending it at childSlot.
	CheckFinality(parentSlot types.Slot, parentHash types.Hash, childSlot types.Slot, childHash types.Hash) bool
	// AdvanceSlot moves to the next slot. seedVRFOutput is the VRF output
	// of the epoch's first block, consumed only by variants that rotate
	// epoch randomness (ignored by Simple).
	AdvanceSlot(seedVRFOutput [vrf.OutputSize]byte)
	AdvancePhase()
	CurrentSlot() types.Slot
	FinalizedSlot() types.Slot
	CurrentPhase() clock.Phase
}

var (
	_ Engine = (*SimpleEngine)(nil)
	_ Engine = (*VRFOnlyEngine)(nil)
	_ Engine = (*HybridEngine)(nil)
)

// ValidatorList is an ordered, fixed validator roster, used by Simple's
// round-robin rule where stake weighting plays no part.
type ValidatorList []types.Address

// ---- Simple: round-robin, no stake weighting, devnet/test only ----

// SimpleEngine implements round-robin leader selection with immediate,
// unconditional finality (a block finalizes as soon as a child extends
// it). Per spec.md §9's resolved open question, this variant is retained
// for local devnets and tests only and must never be the default; see
// DESIGN.md.
type SimpleEngine struct {
	mu            sync.Mutex
	validators    ValidatorList
	currentSlot   types.Slot
	currentPhase  clock.Phase
	finalizedSlot types.Slot
}

// NewSimple builds a round-robin engine over validators, in the fixed
// order given.
func NewSimple(validators ValidatorList) *SimpleEngine {
	return &SimpleEngine{validators: validators}
}

func (e *SimpleEngine) IsLeader(addr types.Address, _ func([]byte) (vrf.Output, error)) (*vrf.Output, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.validators) == 0 {
		return nil, false, nil
	}
	idx := uint64(e.currentSlot) % uint64(len(e.validators))
	return nil, e.validators[idx] == addr, nil
}

func (e *SimpleEngine) CheckEligibility(addr types.Address, _ vrf.Output, _ func([]byte, vrf.Output) (bool, error)) (bool, error) {
	_, ok, err := e.IsLeader(addr, nil)
	return ok, err
}

// OnPropose is a no-op: Simple has no finality voting.
func (e *SimpleEngine) OnPropose(*block.Block) (*block.Vote, error) { return nil, nil }

// OnVote is a no-op: Simple has no finality voting.
func (e *SimpleEngine) OnVote(*block.Vote) (*block.QC, error) { return nil, nil }

// CheckFinality reports a block finalized the instant a child extends it
// at the next slot; Simple has no BFT quorum to wait on.
func (e *SimpleEngine) CheckFinality(parentSlot types.Slot, _ types.Hash, childSlot types.Slot, _ types.Hash) bool {
	if childSlot != parentSlot+1 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if parentSlot > e.finalizedSlot || (parentSlot == 0 && e.finalizedSlot == 0) {
		e.finalizedSlot = parentSlot
	}
	return true
}

func (e *SimpleEngine) AdvanceSlot([vrf.OutputSize]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentSlot++
}

func (e *SimpleEngine) AdvancePhase() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentPhase = e.currentPhase.Next()
}

func (e *SimpleEngine) CurrentSlot() types.Slot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentSlot
}

func (e *SimpleEngine) FinalizedSlot() types.Slot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finalizedSlot
}

func (e *SimpleEngine) CurrentPhase() clock.Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentPhase
}

// ---- VRF-only: stake-weighted lottery, depth-based confirmation ----

// VRFOnlyEngine wraps election.Engine for proposer selection with no
// finality voting: a block finalizes once the chain has grown
// ConfirmationDepth slots past it, useful for exercising the VRF lottery
// in isolation from HotStuff voting.
type VRFOnlyEngine struct {
	mu                sync.Mutex
	election          *election.Engine
	confirmationDepth uint64
	currentPhase      clock.Phase
	finalizedSlot     types.Slot
}

// NewVRFOnly wraps an election.Engine with a depth-based finality rule.
func NewVRFOnly(e *election.Engine, confirmationDepth uint64) *VRFOnlyEngine {
	if confirmationDepth == 0 {
		confirmationDepth = 1
	}
	return &VRFOnlyEngine{election: e, confirmationDepth: confirmationDepth}
}

func (e *VRFOnlyEngine) IsLeader(addr types.Address, prove func([]byte) (vrf.Output, error)) (*vrf.Output, bool, error) {
	out, ok, err := e.election.IsEligibleLeader(addr, prove)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &out, true, nil
}

func (e *VRFOnlyEngine) CheckEligibility(addr types.Address, output vrf.Output, verify func([]byte, vrf.Output) (bool, error)) (bool, error) {
	return e.election.VerifyLeader(addr, output, verify)
}

func (e *VRFOnlyEngine) OnPropose(*block.Block) (*block.Vote, error) { return nil, nil }

func (e *VRFOnlyEngine) OnVote(*block.Vote) (*block.QC, error) { return nil, nil }

// CheckFinality finalizes parentHash once the chain has advanced
// confirmationDepth slots past it, independent of childHash (VRF-only has
// no fork-choice beyond longest chain).
func (e *VRFOnlyEngine) CheckFinality(parentSlot types.Slot, _ types.Hash, childSlot types.Slot, _ types.Hash) bool {
	if uint64(childSlot)-uint64(parentSlot) < e.confirmationDepth {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if parentSlot > e.finalizedSlot || (parentSlot == 0 && e.finalizedSlot == 0) {
		e.finalizedSlot = parentSlot
	}
	return true
}

func (e *VRFOnlyEngine) AdvanceSlot(seedVRFOutput [vrf.OutputSize]byte) {
	e.election.AdvanceSlot(seedVRFOutput)
}

func (e *VRFOnlyEngine) AdvancePhase() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentPhase = e.currentPhase.Next()
}

func (e *VRFOnlyEngine) CurrentSlot() types.Slot { return e.election.CurrentSlot }

func (e *VRFOnlyEngine) FinalizedSlot() types.Slot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finalizedSlot
}

func (e *VRFOnlyEngine) CurrentPhase() clock.Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentPhase
}

// ---- Hybrid: VRF lottery feeding HotStuff finality (the default) ----

// HybridEngine is the production variant: election.Engine picks the
// proposer via the VRF lottery, and finality.Engine runs HotStuff
// prevote/precommit voting over whatever that proposer produces. This is
// the engine the node driver wires up by default.
type HybridEngine struct {
	election *election.Engine
	finality *finality.Engine
}

// NewHybrid composes an election.Engine and a finality.Engine into the
// default consensus variant.
func NewHybrid(e *election.Engine, f *finality.Engine) *HybridEngine {
	return &HybridEngine{election: e, finality: f}
}

func (e *HybridEngine) IsLeader(addr types.Address, prove func([]byte) (vrf.Output, error)) (*vrf.Output, bool, error) {
	out, ok, err := e.election.IsEligibleLeader(addr, prove)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &out, true, nil
}

func (e *HybridEngine) CheckEligibility(addr types.Address, output vrf.Output, verify func([]byte, vrf.Output) (bool, error)) (bool, error) {
	return e.election.VerifyLeader(addr, output, verify)
}

func (e *HybridEngine) OnPropose(b *block.Block) (*block.Vote, error) { return e.finality.OnPropose(b) }

func (e *HybridEngine) OnVote(v *block.Vote) (*block.QC, error) { return e.finality.OnVote(v) }

func (e *HybridEngine) CheckFinality(parentSlot types.Slot, parentHash types.Hash, childSlot types.Slot, childHash types.Hash) bool {
	return e.finality.CheckFinality(parentSlot, parentHash, childSlot, childHash)
}

func (e *HybridEngine) AdvanceSlot(seedVRFOutput [vrf.OutputSize]byte) {
	e.election.AdvanceSlot(seedVRFOutput)
}

func (e *HybridEngine) AdvancePhase() { e.finality.AdvancePhase() }

func (e *HybridEngine) CurrentSlot() types.Slot { return e.election.CurrentSlot }

func (e *HybridEngine) FinalizedSlot() types.Slot { return e.finality.FinalizedSlot() }

func (e *HybridEngine) CurrentPhase() clock.Phase { return e.finality.CurrentPhase() }

// Election exposes the underlying election engine, for components (e.g.
// the node driver) that need VRF proving/verification beyond the Engine
// surface.
func (e *HybridEngine) Election() *election.Engine { return e.election }

// Finality exposes the underlying finality engine, for components that
// need direct access to locked-block/QC state beyond the Engine surface.
func (e *HybridEngine) Finality() *finality.Engine { return e.finality }
