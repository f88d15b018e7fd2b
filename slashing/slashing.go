// Package slashing detects equivocation and downtime and computes the
// stake penalty for each (spec.md §4.8).
//
// Grounded in original_source/crates/consensus/src/slashing.rs:
// detect_double_sign's same-slot/same-validator/different-block_hash
// predicate (phase-independent), verify_slash_proof's structural
// re-check, and
// calculate_slash_amount's 5%-of-stake double-sign penalty and
// min(missing_slots, stake/10) downtime penalty (leak_rate=1), carried
// over unchanged.
package slashing

import (
	"github.com/leancorelabs/chain/block"
	"github.com/leancorelabs/chain/errs"
	"github.com/leancorelabs/chain/types"
)

// ProofKind identifies what a SlashProof alleges.
type ProofKind int

const (
	DoubleSign ProofKind = iota
	Downtime
)

// SlashProof is evidence that a validator violated a safety or liveness
// rule. For DoubleSign, Vote1/Vote2 are the two conflicting votes. For
// Downtime, only Validator and MissingSlots are meaningful.
type SlashProof struct {
	Kind         ProofKind
	Validator    types.Address
	Vote1        *block.Vote
	Vote2        *block.Vote
	MissingSlots uint64
}

// minDowntimeSlots is the threshold original_source's
// verify_slash_proof requires before a downtime proof is accepted: fewer
// missing slots than this is tolerated as ordinary network jitter, not
// penalized.
const minDowntimeSlots = 100

// downtimeLeakRate is the per-missing-slot stake unit deducted before the
// stake/10 cap applies (original_source's leak_rate=1).
const downtimeLeakRate = 1

// DetectDoubleSign compares two votes from the same validator and returns a
// SlashProof if they equivocate: same slot, different block hash,
// regardless of phase. Returns nil if they do not conflict.
func DetectDoubleSign(v1, v2 *block.Vote) *SlashProof {
	if v1.Validator != v2.Validator {
		return nil
	}
	if v1.Slot != v2.Slot {
		return nil
	}
	if v1.BlockHash == v2.BlockHash {
		return nil
	}
	return &SlashProof{Kind: DoubleSign, Validator: v1.Validator, Vote1: v1, Vote2: v2}
}

// VerifySlashProof re-checks a proof's structural predicate: for
// DoubleSign, that the two votes genuinely conflict; for Downtime, that
// the missing-slot count clears the minimum threshold.
func VerifySlashProof(p *SlashProof) (bool, error) {
	switch p.Kind {
	case DoubleSign:
		if p.Vote1 == nil || p.Vote2 == nil {
			return false, errs.New(errs.Validation, "double-sign proof missing a vote")
		}
		return DetectDoubleSign(p.Vote1, p.Vote2) != nil, nil
	case Downtime:
		return p.MissingSlots >= minDowntimeSlots, nil
	default:
		return false, errs.New(errs.Validation, "unknown slash proof kind")
	}
}

// CalculateSlashAmount returns the stake penalty for a verified proof:
// DoubleSign forfeits 5% of stake; Downtime forfeits
// min(leak_rate·missing_slots, stake/10).
func CalculateSlashAmount(stake *types.Amount, p *SlashProof) *types.Amount {
	switch p.Kind {
	case DoubleSign:
		num := new(types.Amount).Mul(stake, types.NewAmount(5))
		return num.Div(num, types.NewAmount(100))
	case Downtime:
		leaked := new(types.Amount).Mul(types.NewAmount(downtimeLeakRate), types.NewAmount(p.MissingSlots))
		cap := new(types.Amount).Div(stake, types.NewAmount(10))
		if leaked.Cmp(cap) > 0 {
			return cap
		}
		return leaked
	default:
		return types.ZeroAmount()
	}
}
