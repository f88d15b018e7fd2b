// Package finality implements the two-phase HotStuff-style BFT engine of
// spec.md §4.6.2: Propose → Prevote → Precommit → Commit, with a lock rule
// for safety and a two-chain rule for finality.
//
// Grounded in original_source/crates/consensus/src/hotstuff.rs (the
// Phase/Vote/AggregatedVote/HotStuffConsensus shapes this engine adapts)
// and the teacher's consensus/store.go (a mutex-guarded, vote-accumulating
// Store driven by tick/AdvanceTime calls), using blssig for the aggregate
// signature/pubkey arithmetic hotstuff.rs performs in the abstract.
package finality

import (
	"sync"

	"github.com/leancorelabs/chain/block"
	"github.com/leancorelabs/chain/blssig"
	"github.com/leancorelabs/chain/clock"
	"github.com/leancorelabs/chain/errs"
	"github.com/leancorelabs/chain/types"
)

// ValidatorSet is the read-only view of stake the engine needs; election.Engine
// satisfies the shape the engine actually calls, kept narrow here so finality
// does not import election directly.
type ValidatorSet interface {
	TotalStake() *types.Amount
	StakeOf(addr types.Address) (*types.Amount, bool)
}

// Engine runs the two-phase vote-accumulation and commit logic for one
// validator's view of the chain. All exported methods are safe for
// concurrent use.
type Engine struct {
	mu sync.Mutex

	validators ValidatorSet

	currentPhase clock.Phase
	currentSlot  types.Slot

	lockedBlock   *types.Hash
	lockedSlot    types.Slot
	committedSlot types.Slot
	finalizedSlot types.Slot

	// votes[phase][blockHash] accumulates not-yet-quorate votes.
	votes map[clock.Phase]map[types.Hash][]*block.Vote
	// qcs[(slot,phase,blockHash)] holds formed quorum certificates, so the
	// two-chain commit rule can look up "is there a Prevote QC at slot-1 for
	// this block's parent".
	qcs map[qcKey]*block.QC

	myAddress types.Address
	mySecret  *blssig.SecretKey
	myPubkey  []byte

	onVote func(*block.Vote)
}

type qcKey struct {
	slot  types.Slot
	phase clock.Phase
	hash  types.Hash
}

// Config parameterizes a new Engine.
type Config struct {
	Validators ValidatorSet
	MyAddress  types.Address
	MySecret   *blssig.SecretKey
	// OnVote, if set, is invoked whenever this node casts a vote (including
	// the self-vote the Prevote→Precommit transition triggers), letting the
	// caller broadcast it over the transport layer.
	OnVote func(*block.Vote)
}

// New returns an Engine starting at slot 0, Propose phase, with no lock.
func New(cfg Config) *Engine {
	e := &Engine{
		validators: cfg.Validators,
		myAddress:  cfg.MyAddress,
		mySecret:   cfg.MySecret,
		onVote:     cfg.OnVote,
		votes:      make(map[clock.Phase]map[types.Hash][]*block.Vote),
		qcs:        make(map[qcKey]*block.QC),
	}
	if cfg.MySecret != nil {
		e.myPubkey = cfg.MySecret.PublicKey()
	}
	return e
}

func (e *Engine) CurrentSlot() types.Slot     { e.mu.Lock(); defer e.mu.Unlock(); return e.currentSlot }
func (e *Engine) CurrentPhase() clock.Phase   { e.mu.Lock(); defer e.mu.Unlock(); return e.currentPhase }
func (e *Engine) FinalizedSlot() types.Slot   { e.mu.Lock(); defer e.mu.Unlock(); return e.finalizedSlot }
func (e *Engine) CommittedSlot() types.Slot   { e.mu.Lock(); defer e.mu.Unlock(); return e.committedSlot }

// LockedBlock returns the block hash this node is locked on, if any.
func (e *Engine) LockedBlock() (types.Hash, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lockedBlock == nil {
		return types.ZeroHash, false
	}
	return *e.lockedBlock, true
}

// AdvancePhase moves to the next phase, wrapping Commit back to Propose and
// incrementing the slot and clearing that slot's vote pools (hotstuff.rs
// advance_phase).
func (e *Engine) AdvancePhase() {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.currentPhase.Next()
	if e.currentPhase == clock.Commit {
		e.currentSlot++
		e.votes = make(map[clock.Phase]map[types.Hash][]*block.Vote)
	}
	e.currentPhase = next
}

// OnPropose is called when a block proposal for the current slot arrives.
// It returns the Prevote this node casts, or nil if the node declines to
// vote because the proposal does not extend its locked block (spec.md
// §4.6.2's lock rule: "a node commits to prevoting only for blocks
// extending its locked_block").
func (e *Engine) OnPropose(b *block.Block) (*block.Vote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lockedBlock != nil && b.Header.ParentHash != *e.lockedBlock {
		return nil, nil
	}
	return e.createVoteLocked(b.Hash(), clock.Prevote)
}

func (e *Engine) createVoteLocked(blockHash types.Hash, phase clock.Phase) (*block.Vote, error) {
	if e.mySecret == nil {
		return nil, nil
	}
	stake, ok := e.validators.StakeOf(e.myAddress)
	if !ok {
		return nil, nil
	}
	msg := block.SigningMessage(blockHash, e.currentSlot, phase)
	sig := e.mySecret.Sign(msg)
	v := &block.Vote{
		Slot:            e.currentSlot,
		BlockHash:       blockHash,
		Phase:           phase,
		Validator:       e.myAddress,
		ValidatorPubkey: e.myPubkey,
		Stake:           stake,
		Signature:       sig,
	}
	return v, nil
}

// OnVote records an incoming vote, verifying its signature, and returns any
// quorum certificate newly formed as a result. Forming a Prevote QC locks
// this node on the voted block and immediately casts (and records) its own
// Precommit vote for it; if that self-vote completes a Precommit QC, the
// Precommit QC is returned instead. Forming a Precommit QC sets the
// committed slot to the QC's slot and moves to the Commit phase. OnVote does
// not apply the two-chain rule and never changes FinalizedSlot; only
// CheckFinality does.
func (e *Engine) OnVote(v *block.Vote) (*block.QC, error) {
	ok, err := verifyVote(v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.Wrap(errs.Signature, errs.ErrSignatureMismatch)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.onVoteLocked(v)
}

func (e *Engine) onVoteLocked(v *block.Vote) (*block.QC, error) {
	byHash, ok := e.votes[v.Phase]
	if !ok {
		byHash = make(map[types.Hash][]*block.Vote)
		e.votes[v.Phase] = byHash
	}

	for _, existing := range byHash[v.BlockHash] {
		if existing.Validator == v.Validator {
			return nil, nil
		}
	}
	byHash[v.BlockHash] = append(byHash[v.BlockHash], v)

	total := sumStake(byHash[v.BlockHash])
	if !block.MeetsQuorum(total, e.validators.TotalStake()) {
		return nil, nil
	}

	qc, err := aggregateVotes(byHash[v.BlockHash], total)
	if err != nil {
		return nil, err
	}
	e.qcs[qcKey{slot: v.Slot, phase: v.Phase, hash: v.BlockHash}] = qc

	switch v.Phase {
	case clock.Prevote:
		h := v.BlockHash
		e.lockedBlock = &h
		e.lockedSlot = v.Slot
		e.currentPhase = clock.Precommit

		selfVote, err := e.createVoteLocked(v.BlockHash, clock.Precommit)
		if err != nil {
			return qc, err
		}
		if selfVote != nil {
			if e.onVote != nil {
				e.onVote(selfVote)
			}
			// The recursive self-vote may itself form a Precommit QC; that
			// QC is returned in place of the Prevote QC so callers that only
			// look at direct returns still see the commit.
			pqc, err := e.onVoteLocked(selfVote)
			if err != nil {
				return qc, err
			}
			if pqc != nil {
				qc = pqc
			}
		}
	case clock.Precommit:
		e.committedSlot = v.Slot
		e.currentPhase = clock.Commit
	}

	return qc, nil
}

// CheckFinality reports whether parentHash (the block voted on at
// parentSlot) is finalized by childHash's Precommit QC at childSlot
// extending it (spec.md §4.6.2's two-chain rule: "finalized when its
// successor accumulates a precommit QC and the pair spans at most one
// slot"). The engine itself only tracks votes and QCs, not the block DAG,
// so the caller (the blockstore/node driver, which knows parent/child
// relationships) supplies both hashes; this just checks the two QCs exist
// and the slots are adjacent, and on success advances FinalizedSlot.
func (e *Engine) CheckFinality(parentSlot types.Slot, parentHash types.Hash, childSlot types.Slot, childHash types.Hash) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if childSlot != parentSlot+1 {
		return false
	}
	if _, ok := e.qcs[qcKey{slot: parentSlot, phase: clock.Prevote, hash: parentHash}]; !ok {
		return false
	}
	if _, ok := e.qcs[qcKey{slot: childSlot, phase: clock.Precommit, hash: childHash}]; !ok {
		return false
	}
	if parentSlot > e.finalizedSlot || (parentSlot == 0 && e.finalizedSlot == 0) {
		e.finalizedSlot = parentSlot
	}
	return true
}

// QCFor returns the quorum certificate formed for (slot, phase, blockHash),
// if one has been formed.
func (e *Engine) QCFor(slot types.Slot, phase clock.Phase, blockHash types.Hash) (*block.QC, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	qc, ok := e.qcs[qcKey{slot: slot, phase: phase, hash: blockHash}]
	return qc, ok
}

func sumStake(votes []*block.Vote) *types.Amount {
	total := types.ZeroAmount()
	for _, v := range votes {
		total = new(types.Amount).Add(total, v.Stake)
	}
	return total
}

func aggregateVotes(votes []*block.Vote, total *types.Amount) (*block.QC, error) {
	sigs := make([][]byte, len(votes))
	pubkeys := make([][]byte, len(votes))
	signers := make([]types.Address, len(votes))
	for i, v := range votes {
		sigs[i] = v.Signature
		pubkeys[i] = v.ValidatorPubkey
		signers[i] = v.Validator
	}
	aggSig, err := blssig.AggregateSignatures(sigs)
	if err != nil {
		return nil, err
	}
	aggPubkey, err := blssig.AggregatePublicKeys(pubkeys)
	if err != nil {
		return nil, err
	}
	first := votes[0]
	return &block.QC{
		Slot:                first.Slot,
		BlockHash:           first.BlockHash,
		Phase:               first.Phase,
		TotalStake:          total,
		Signers:             signers,
		AggregatedSignature: aggSig,
		AggregatedPubkey:    aggPubkey,
	}, nil
}

func verifyVote(v *block.Vote) (bool, error) {
	return blssig.Verify(v.ValidatorPubkey, v.SigningMessage(), v.Signature)
}

// VerifyQC checks a quorum certificate's aggregated signature and that its
// claimed stake reaches quorum against total stake.
func VerifyQC(qc *block.QC, totalStake *types.Amount) (bool, error) {
	if !block.MeetsQuorum(qc.TotalStake, totalStake) {
		return false, nil
	}
	return blssig.VerifyAggregated(qc.AggregatedPubkey, qc.SigningMessage(), qc.AggregatedSignature)
}
