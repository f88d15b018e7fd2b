package block

import (
	"testing"

	"github.com/leancorelabs/chain/ledger"
	"github.com/leancorelabs/chain/types"
)

func testAddress(b byte) types.Address {
	var a types.Address
	a[0] = b
	return a
}

func testHash(b byte) types.Hash {
	var h types.Hash
	h[0] = b
	return h
}

func TestHeaderRoundTrip(t *testing.T) {
	h := &Header{
		Slot:             42,
		ParentHash:       testHash(1),
		StateRoot:        testHash(2),
		TransactionsRoot: testHash(3),
		ReceiptsRoot:     testHash(4),
		Proposer:         testAddress(5),
		Timestamp:        1234567,
	}
	h.VRFOutput.Value[0] = 9
	h.VRFOutput.Proof = []byte{1, 2, 3}

	data, err := h.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	var out Header
	if err := out.UnmarshalBinary(data); err != nil {
		t.Fatal(err)
	}
	if out.Slot != h.Slot || out.Hash() != h.Hash() {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, h)
	}
}

func TestTransactionsRootDeterministicAndOrderSensitive(t *testing.T) {
	tx1 := &ledger.Transaction{Nonce: 1, Sender: testAddress(1), Fee: types.NewAmount(1)}
	tx2 := &ledger.Transaction{Nonce: 2, Sender: testAddress(2), Fee: types.NewAmount(1)}

	rootA := ComputeTransactionsRoot([]*ledger.Transaction{tx1, tx2})
	rootB := ComputeTransactionsRoot([]*ledger.Transaction{tx1, tx2})
	if rootA != rootB {
		t.Fatalf("transactions root not deterministic")
	}
	rootSwapped := ComputeTransactionsRoot([]*ledger.Transaction{tx2, tx1})
	if rootA == rootSwapped {
		t.Fatalf("transactions root should depend on order, unlike the state merkle root")
	}
}

func TestBlockMarshalRoundTrip(t *testing.T) {
	tx := &ledger.Transaction{Nonce: 1, Sender: testAddress(7), Fee: types.NewAmount(3)}
	b := &Block{
		Header: Header{
			Slot:       10,
			ParentHash: testHash(1),
			Proposer:   testAddress(2),
		},
		Transactions: []*ledger.Transaction{tx},
	}
	b.Header.TransactionsRoot = ComputeTransactionsRoot(b.Transactions)

	data, err := b.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	var out Block
	if err := out.UnmarshalBinary(data); err != nil {
		t.Fatal(err)
	}
	if out.Hash() != b.Hash() {
		t.Fatalf("block hash mismatch after round trip")
	}
	if len(out.Transactions) != 1 || out.Transactions[0].Nonce != 1 {
		t.Fatalf("unexpected transactions after round trip: %+v", out.Transactions)
	}
	if out.Justify != nil {
		t.Fatalf("expected nil justify, got %+v", out.Justify)
	}
}

func TestBlockMarshalRoundTripWithJustify(t *testing.T) {
	qc := &QC{
		Slot:                4,
		BlockHash:           testHash(9),
		Phase:               PhasePrevote,
		TotalStake:          types.NewAmount(300),
		Signers:             []types.Address{testAddress(1), testAddress(2)},
		AggregatedSignature: []byte{1, 2, 3},
		AggregatedPubkey:    []byte{4, 5, 6},
	}
	b := &Block{Header: Header{Slot: 5}, Justify: qc}

	data, err := b.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	var out Block
	if err := out.UnmarshalBinary(data); err != nil {
		t.Fatal(err)
	}
	if out.Justify == nil {
		t.Fatalf("expected justify to survive round trip")
	}
	if out.Justify.Slot != qc.Slot || out.Justify.BlockHash != qc.BlockHash {
		t.Fatalf("justify mismatch: %+v vs %+v", out.Justify, qc)
	}
	if len(out.Justify.Signers) != 2 {
		t.Fatalf("expected 2 signers, got %d", len(out.Justify.Signers))
	}
}

func TestVoteRoundTrip(t *testing.T) {
	v := &Vote{
		Slot:            7,
		BlockHash:       testHash(3),
		Phase:           PhasePrecommit,
		Validator:       testAddress(1),
		ValidatorPubkey: []byte{1, 2, 3, 4},
		Stake:           types.NewAmount(500),
		Signature:       []byte{9, 9, 9},
	}
	data, err := v.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	var out Vote
	if err := out.UnmarshalBinary(data); err != nil {
		t.Fatal(err)
	}
	if out.Slot != v.Slot || out.BlockHash != v.BlockHash || out.Phase != v.Phase {
		t.Fatalf("vote mismatch: %+v vs %+v", out, v)
	}
	if out.Stake.Cmp(v.Stake) != 0 {
		t.Fatalf("stake mismatch: %v vs %v", out.Stake, v.Stake)
	}
}

func TestQCRoundTrip(t *testing.T) {
	qc := &QC{
		Slot:                11,
		BlockHash:           testHash(5),
		Phase:               PhasePrevote,
		TotalStake:          types.NewAmount(1000),
		Signers:             []types.Address{testAddress(1), testAddress(2), testAddress(3)},
		AggregatedSignature: []byte{1, 1, 1},
		AggregatedPubkey:    []byte{2, 2, 2},
	}
	data, err := qc.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	var out QC
	if err := out.UnmarshalBinary(data); err != nil {
		t.Fatal(err)
	}
	if len(out.Signers) != 3 {
		t.Fatalf("signers = %d, want 3", len(out.Signers))
	}
	if out.SigningMessage() == nil {
		t.Fatalf("expected non-nil signing message")
	}
}

func TestSigningMessageDeterministicAndPhaseSensitive(t *testing.T) {
	h := testHash(1)
	m1 := SigningMessage(h, 5, PhasePrevote)
	m2 := SigningMessage(h, 5, PhasePrevote)
	if string(m1) != string(m2) {
		t.Fatalf("signing message not deterministic")
	}
	m3 := SigningMessage(h, 5, PhasePrecommit)
	if string(m1) == string(m3) {
		t.Fatalf("signing message should differ by phase")
	}
}

func TestMeetsQuorum(t *testing.T) {
	total := types.NewAmount(300)
	cases := []struct {
		stake uint64
		want  bool
	}{
		{199, false},
		{200, true},
		{300, true},
	}
	for _, tc := range cases {
		if got := MeetsQuorum(types.NewAmount(tc.stake), total); got != tc.want {
			t.Fatalf("MeetsQuorum(%d, 300) = %v, want %v", tc.stake, got, tc.want)
		}
	}
}
