package election

import (
	"testing"

	"github.com/leancorelabs/chain/types"
	"github.com/leancorelabs/chain/vrf"
)

func testValidator(b byte, stake uint64) *Validator {
	var a types.Address
	for i := range a {
		a[i] = b
	}
	return &Validator{Address: a, Stake: types.NewAmount(stake), Active: true}
}

func TestEngineCreation(t *testing.T) {
	e := NewEngine([]*Validator{testValidator(1, 1000), testValidator(2, 2000)}, 0.8, 43200)
	if e.TotalStake().Uint64() != 3000 {
		t.Fatalf("total stake = %s, want 3000", e.TotalStake())
	}
	if e.ValidatorCount() != 2 {
		t.Fatalf("validator count = %d, want 2", e.ValidatorCount())
	}
	if e.EpochRandomness != GenesisRandomness {
		t.Fatalf("genesis randomness should be the zero hash")
	}
}

func TestSlotAdvancement(t *testing.T) {
	e := NewEngine([]*Validator{testValidator(1, 1000)}, 0.8, 10)
	if e.CurrentSlot != 0 {
		t.Fatalf("current slot = %d, want 0", e.CurrentSlot)
	}
	e.AdvanceSlot([vrf.OutputSize]byte{})
	if e.CurrentSlot != 1 {
		t.Fatalf("current slot = %d, want 1", e.CurrentSlot)
	}
}

func TestEpochAdvancement(t *testing.T) {
	e := NewEngine([]*Validator{testValidator(1, 1000)}, 0.8, 5)
	initial := e.EpochRandomness

	for i := 0; i < 5; i++ {
		e.AdvanceSlot([vrf.OutputSize]byte{1, 2, 3})
	}

	if e.CurrentEpoch != 1 {
		t.Fatalf("current epoch = %d, want 1", e.CurrentEpoch)
	}
	if e.EpochRandomness == initial {
		t.Fatalf("epoch randomness should have rotated")
	}
}

func TestLeaderEligibilityRoundTrip(t *testing.T) {
	sk, err := vrf.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	v := testValidator(9, 5000)
	e := NewEngine([]*Validator{v}, 1.0, 43200) // tau=1 so eligibility is deterministic-certain

	out, eligible, err := e.IsEligibleLeader(v.Address, func(input []byte) (vrf.Output, error) {
		return vrf.Prove(sk, input)
	})
	if err != nil {
		t.Fatalf("IsEligibleLeader: %v", err)
	}
	if !eligible {
		t.Fatalf("sole validator at tau=1 must always be eligible")
	}

	ok, err := e.VerifyLeader(v.Address, out, func(input []byte, output vrf.Output) (bool, error) {
		return vrf.Verify(&sk.PublicKey, input, output)
	})
	if err != nil {
		t.Fatalf("VerifyLeader: %v", err)
	}
	if !ok {
		t.Fatalf("VerifyLeader should accept a correctly produced VRF output")
	}
}

func TestEligibilityIsDeterministic(t *testing.T) {
	var out [vrf.OutputSize]byte
	out[0], out[1] = 0x01, 0x00 // small u

	stake := types.NewAmount(5000)
	total := types.NewAmount(10000)

	a := Eligible(out, stake, total, 0.8)
	b := Eligible(out, stake, total, 0.8)
	if a != b {
		t.Fatalf("Eligible must be a pure function of its inputs")
	}
}

func TestEligibleRequiresPositiveTau(t *testing.T) {
	var out [vrf.OutputSize]byte
	stake := types.NewAmount(1)
	total := types.NewAmount(1)
	if Eligible(out, stake, total, 0) {
		t.Fatalf("tau=0 must never be eligible")
	}
}

func TestEligibleZeroTotalStake(t *testing.T) {
	var out [vrf.OutputSize]byte
	stake := types.NewAmount(1)
	total := types.ZeroAmount()
	if Eligible(out, stake, total, 0.8) {
		t.Fatalf("zero total stake must never be eligible")
	}
}

func TestHigherStakeIsMoreLikelyEligible(t *testing.T) {
	total := types.NewAmount(1_000_000)
	low := types.NewAmount(1_000)
	high := types.NewAmount(900_000)

	trials := 256
	var lowCount, highCount int
	for i := 0; i < trials; i++ {
		var out [vrf.OutputSize]byte
		out[0] = byte(i)
		out[1] = byte(i * 7)
		out[2] = byte(i * 13)
		if Eligible(out, low, total, 0.8) {
			lowCount++
		}
		if Eligible(out, high, total, 0.8) {
			highCount++
		}
	}
	if highCount < lowCount {
		t.Fatalf("higher stake produced fewer eligible samples (%d) than lower stake (%d)", highCount, lowCount)
	}
}

func TestUpdateStakeAdjustsTotal(t *testing.T) {
	v := testValidator(3, 1000)
	e := NewEngine([]*Validator{v}, 0.8, 43200)
	if err := e.UpdateStake(v.Address, types.NewAmount(4000)); err != nil {
		t.Fatalf("UpdateStake: %v", err)
	}
	if e.TotalStake().Uint64() != 4000 {
		t.Fatalf("total stake = %s, want 4000", e.TotalStake())
	}
}

func TestUpdateStakeUnknownValidator(t *testing.T) {
	e := NewEngine(nil, 0.8, 43200)
	var unknown types.Address
	if err := e.UpdateStake(unknown, types.NewAmount(1)); err == nil {
		t.Fatalf("expected an error updating an unknown validator's stake")
	}
}

func TestAddValidator(t *testing.T) {
	e := NewEngine([]*Validator{testValidator(1, 1000)}, 0.8, 43200)
	e.AddValidator(testValidator(2, 500))
	if e.ValidatorCount() != 2 {
		t.Fatalf("validator count = %d, want 2", e.ValidatorCount())
	}
	if e.TotalStake().Uint64() != 1500 {
		t.Fatalf("total stake = %s, want 1500", e.TotalStake())
	}
}

func TestIsEpochBoundary(t *testing.T) {
	if !IsEpochBoundary(0, 10) {
		t.Fatalf("slot 0 is always a boundary")
	}
	if IsEpochBoundary(5, 10) {
		t.Fatalf("slot 5 should not be a boundary for epochLength 10")
	}
	if !IsEpochBoundary(10, 10) {
		t.Fatalf("slot 10 should be a boundary for epochLength 10")
	}
}
