package finality

import (
	"testing"

	"github.com/leancorelabs/chain/block"
	"github.com/leancorelabs/chain/blssig"
	"github.com/leancorelabs/chain/clock"
	"github.com/leancorelabs/chain/types"
)

// fixedValidatorSet is a minimal ValidatorSet for tests, independent of the
// election package so finality can be tested in isolation.
type fixedValidatorSet struct {
	total  *types.Amount
	stakes map[types.Address]*types.Amount
}

func (s *fixedValidatorSet) TotalStake() *types.Amount { return s.total }
func (s *fixedValidatorSet) StakeOf(addr types.Address) (*types.Amount, bool) {
	v, ok := s.stakes[addr]
	return v, ok
}

type testValidator struct {
	addr   types.Address
	secret *blssig.SecretKey
	stake  uint64
}

func newTestValidators(t *testing.T, n int, stakeEach uint64) ([]*testValidator, *fixedValidatorSet) {
	t.Helper()
	vs := make([]*testValidator, n)
	set := &fixedValidatorSet{total: types.ZeroAmount(), stakes: make(map[types.Address]*types.Amount)}
	for i := 0; i < n; i++ {
		seed := make([]byte, 32)
		seed[0] = byte(i + 1)
		sk, err := blssig.GenerateKey(seed)
		if err != nil {
			t.Fatal(err)
		}
		var addr types.Address
		addr[0] = byte(i + 1)
		stake := types.NewAmount(stakeEach)
		vs[i] = &testValidator{addr: addr, secret: sk, stake: stakeEach}
		set.stakes[addr] = stake
		set.total = new(types.Amount).Add(set.total, stake)
	}
	return vs, set
}

func castVote(tv *testValidator, slot types.Slot, blockHash types.Hash, phase clock.Phase, stake *types.Amount) *block.Vote {
	msg := block.SigningMessage(blockHash, slot, phase)
	return &block.Vote{
		Slot:            slot,
		BlockHash:       blockHash,
		Phase:           phase,
		Validator:       tv.addr,
		ValidatorPubkey: tv.secret.PublicKey(),
		Stake:           stake,
		Signature:       tv.secret.Sign(msg),
	}
}

func TestFourValidatorFinality(t *testing.T) {
	validators, set := newTestValidators(t, 4, 100)

	var blockHash types.Hash
	blockHash[0] = 0xAA

	e := New(Config{Validators: set, MyAddress: validators[0].addr, MySecret: validators[0].secret})

	var formed *block.QC
	// 3 of 4 validators prevote; that's 300/400 stake, meeting the 2/3
	// threshold (300*3 >= 400*2 => 900 >= 800).
	for _, v := range validators[:3] {
		vote := castVote(v, 0, blockHash, clock.Prevote, set.stakes[v.addr])
		qc, err := e.OnVote(vote)
		if err != nil {
			t.Fatal(err)
		}
		if qc != nil {
			formed = qc
		}
	}
	if formed == nil {
		t.Fatalf("expected a prevote QC to form")
	}
	locked, ok := e.LockedBlock()
	if !ok || locked != blockHash {
		t.Fatalf("expected engine locked on %v, got %v (ok=%v)", blockHash, locked, ok)
	}
	if e.CurrentPhase() != clock.Precommit {
		t.Fatalf("expected phase Precommit after prevote QC, got %v", e.CurrentPhase())
	}

	// The engine already self-cast its precommit vote (validator 0); two
	// more precommits reach quorum.
	for _, v := range validators[1:3] {
		vote := castVote(v, 0, blockHash, clock.Precommit, set.stakes[v.addr])
		if _, err := e.OnVote(vote); err != nil {
			t.Fatal(err)
		}
	}
	if e.CommittedSlot() != 0 {
		t.Fatalf("expected committed slot 0, got %d", e.CommittedSlot())
	}
}

func TestOnProposeDeclinesWhenNotExtendingLock(t *testing.T) {
	validators, set := newTestValidators(t, 4, 100)
	e := New(Config{Validators: set, MyAddress: validators[0].addr, MySecret: validators[0].secret})

	locked := types.Hash{0x01}
	e.lockedBlock = &locked

	b := &block.Block{Header: block.Header{ParentHash: types.Hash{0x02}}}
	vote, err := e.OnPropose(b)
	if err != nil {
		t.Fatal(err)
	}
	if vote != nil {
		t.Fatalf("expected nil vote when proposal does not extend lock")
	}
}

func TestOnVoteRejectsBadSignature(t *testing.T) {
	validators, set := newTestValidators(t, 4, 100)
	e := New(Config{Validators: set, MyAddress: validators[0].addr, MySecret: validators[0].secret})

	vote := castVote(validators[0], 0, types.Hash{0x01}, clock.Prevote, set.stakes[validators[0].addr])
	vote.Signature[0] ^= 0xFF

	if _, err := e.OnVote(vote); err == nil {
		t.Fatalf("expected signature verification error")
	}
}

func TestAdvancePhaseWrapsAndAdvancesSlot(t *testing.T) {
	_, set := newTestValidators(t, 1, 100)
	e := New(Config{Validators: set})
	if e.CurrentPhase() != clock.Propose || e.CurrentSlot() != 0 {
		t.Fatalf("unexpected initial state")
	}
	e.AdvancePhase() // Propose -> Prevote
	e.AdvancePhase() // Prevote -> Precommit
	e.AdvancePhase() // Precommit -> Commit
	if e.CurrentSlot() != 0 {
		t.Fatalf("slot should not advance until Commit wraps")
	}
	e.AdvancePhase() // Commit -> Propose, slot++
	if e.CurrentPhase() != clock.Propose || e.CurrentSlot() != 1 {
		t.Fatalf("expected wrap to Propose at slot 1, got phase=%v slot=%d", e.CurrentPhase(), e.CurrentSlot())
	}
}

func TestCheckFinalityTwoChainRule(t *testing.T) {
	validators, set := newTestValidators(t, 4, 100)
	e := New(Config{Validators: set})

	parentHash := types.Hash{0x01}
	childHash := types.Hash{0x02}

	for _, v := range validators[:3] {
		vote := castVote(v, 4, parentHash, clock.Prevote, set.stakes[v.addr])
		if _, err := e.OnVote(vote); err != nil {
			t.Fatal(err)
		}
	}
	e.currentSlot = 5
	for _, v := range validators[:3] {
		vote := castVote(v, 5, childHash, clock.Precommit, set.stakes[v.addr])
		if _, err := e.OnVote(vote); err != nil {
			t.Fatal(err)
		}
	}

	if !e.CheckFinality(4, parentHash, 5, childHash) {
		t.Fatalf("expected parent block at slot 4 to be finalized")
	}
	if e.FinalizedSlot() != 4 {
		t.Fatalf("finalized slot = %d, want 4", e.FinalizedSlot())
	}

	// Slots spanning more than one are never finalized by this rule.
	if e.CheckFinality(3, parentHash, 5, childHash) {
		t.Fatalf("expected non-adjacent slots to fail the two-chain rule")
	}
}

func TestVerifyQC(t *testing.T) {
	validators, set := newTestValidators(t, 4, 100)
	e := New(Config{Validators: set})

	blockHash := types.Hash{0x03}
	var qc *block.QC
	for _, v := range validators[:3] {
		vote := castVote(v, 0, blockHash, clock.Prevote, set.stakes[v.addr])
		formed, err := e.OnVote(vote)
		if err != nil {
			t.Fatal(err)
		}
		if formed != nil {
			qc = formed
		}
	}
	if qc == nil {
		t.Fatalf("expected QC to form")
	}
	ok, err := VerifyQC(qc, set.TotalStake())
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("expected QC to verify")
	}
}
