// Package block defines the block, vote, and quorum-certificate types of
// spec.md §3, and the codecs that bind them to the wire format of spec.md
// §6.
//
// Grounded in the teacher's types/containers.go (a header/body split with a
// hand-written binary codec per type) and the data model of
// _examples/original_source/crates/types/src/consensus.rs (Vote/QC field
// layout), adapted to the VRF+HotStuff fields spec.md §3 requires instead of
// the teacher's XMSS/attestation containers.
package block

import (
	"github.com/leancorelabs/chain/clock"
	"github.com/leancorelabs/chain/errs"
	"github.com/leancorelabs/chain/ledger"
	"github.com/leancorelabs/chain/merkle"
	"github.com/leancorelabs/chain/types"
	"github.com/leancorelabs/chain/vrf"
	"github.com/leancorelabs/chain/wire"
)

// Header is the summary of a block's contents (spec.md §3); all fields are
// fixed-size except the VRF proof, which is length-prefixed.
type Header struct {
	Slot             types.Slot
	ParentHash       types.Hash
	StateRoot        types.Hash
	TransactionsRoot types.Hash
	ReceiptsRoot     types.Hash
	Proposer         types.Address
	VRFOutput        vrf.Output
	Timestamp        uint64
}

func (h *Header) writeTo(w *wire.Writer) {
	w.WriteUint64(uint64(h.Slot))
	w.WriteFixed(h.ParentHash[:])
	w.WriteFixed(h.StateRoot[:])
	w.WriteFixed(h.TransactionsRoot[:])
	w.WriteFixed(h.ReceiptsRoot[:])
	w.WriteFixed(h.Proposer[:])
	w.WriteFixed(h.VRFOutput.Value[:])
	w.WriteBytes(h.VRFOutput.Proof)
	w.WriteUint64(h.Timestamp)
}

// Hash is SHA-256 of the serialized header (spec.md §3).
func (h *Header) Hash() types.Hash {
	w := wire.NewWriter(200)
	h.writeTo(w)
	return types.HashBytes(w.Bytes())
}

func (h *Header) MarshalBinary() ([]byte, error) {
	w := wire.NewWriter(200)
	h.writeTo(w)
	return w.Bytes(), nil
}

func (h *Header) UnmarshalBinary(data []byte) error {
	r := wire.NewReader(data)
	h.Slot = types.Slot(r.ReadUint64())
	copy(h.ParentHash[:], r.ReadFixed(32))
	copy(h.StateRoot[:], r.ReadFixed(32))
	copy(h.TransactionsRoot[:], r.ReadFixed(32))
	copy(h.ReceiptsRoot[:], r.ReadFixed(32))
	copy(h.Proposer[:], r.ReadFixed(20))
	copy(h.VRFOutput.Value[:], r.ReadFixed(vrf.OutputSize))
	h.VRFOutput.Proof = r.ReadBytes()
	h.Timestamp = r.ReadUint64()
	return r.Done()
}

// Block is a header plus its transaction list and, optionally, the
// aggregated-vote certificate that justifies a prior slot (spec.md §3).
type Block struct {
	Header       Header
	Transactions []*ledger.Transaction
	Justify      *QC
}

// Hash is the block's header hash (spec.md §3: "Block hash is SHA-256 of
// the serialized header").
func (b *Block) Hash() types.Hash { return b.Header.Hash() }

// ComputeTransactionsRoot merkleizes the ordered list of transaction
// hashes, the value the proposer must place in Header.TransactionsRoot.
func ComputeTransactionsRoot(txs []*ledger.Transaction) types.Hash {
	hashes := make([]types.Hash, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash()
	}
	return merkle.HashList(hashes)
}

// ComputeReceiptsRoot merkleizes the ordered list of receipt hashes.
func ComputeReceiptsRoot(receipts []*ledger.Receipt) types.Hash {
	hashes := make([]types.Hash, len(receipts))
	for i, rc := range receipts {
		b, _ := rc.MarshalBinary()
		hashes[i] = types.HashBytes(b)
	}
	return merkle.HashList(hashes)
}

func (b *Block) MarshalBinary() ([]byte, error) {
	w := wire.NewWriter(512)
	b.Header.writeTo(w)

	w.WriteUint32(uint32(len(b.Transactions)))
	for _, tx := range b.Transactions {
		txb, err := tx.MarshalBinary()
		if err != nil {
			return nil, err
		}
		w.WriteBytes(txb)
	}

	if b.Justify == nil {
		w.WriteByte(0)
	} else {
		w.WriteByte(1)
		jb, err := b.Justify.MarshalBinary()
		if err != nil {
			return nil, err
		}
		w.WriteBytes(jb)
	}
	return w.Bytes(), nil
}

func (b *Block) UnmarshalBinary(data []byte) error {
	r := wire.NewReader(data)
	var hdr Header
	hdr.Slot = types.Slot(r.ReadUint64())
	copy(hdr.ParentHash[:], r.ReadFixed(32))
	copy(hdr.StateRoot[:], r.ReadFixed(32))
	copy(hdr.TransactionsRoot[:], r.ReadFixed(32))
	copy(hdr.ReceiptsRoot[:], r.ReadFixed(32))
	copy(hdr.Proposer[:], r.ReadFixed(20))
	copy(hdr.VRFOutput.Value[:], r.ReadFixed(vrf.OutputSize))
	hdr.VRFOutput.Proof = r.ReadBytes()
	hdr.Timestamp = r.ReadUint64()
	b.Header = hdr

	n := r.ReadUint32()
	b.Transactions = make([]*ledger.Transaction, n)
	for i := range b.Transactions {
		txb := r.ReadBytes()
		tx := &ledger.Transaction{}
		if err := tx.UnmarshalBinary(txb); err != nil {
			return err
		}
		b.Transactions[i] = tx
	}

	if r.ReadByte() == 1 {
		qb := r.ReadBytes()
		qc := &QC{}
		if err := qc.UnmarshalBinary(qb); err != nil {
			return err
		}
		b.Justify = qc
	}
	return r.Done()
}

// Phase is re-exported from clock so callers working with votes don't need
// a second import for the same four-valued enum.
type Phase = clock.Phase

const (
	PhasePrevote   = clock.Prevote
	PhasePrecommit = clock.Precommit
)

// phaseTag is the one-byte wire tag identifying a vote's phase within the
// signed message; only Prevote and Precommit are ever signed over (spec.md
// §4.6.2 only defines votes for those two phases).
func phaseTag(p Phase) byte {
	switch p {
	case PhasePrevote:
		return 1
	case PhasePrecommit:
		return 2
	default:
		return 0
	}
}

// SigningMessage builds the message a Vote's signature (and a QC's
// aggregated signature) is computed over: block_hash || slot_le ||
// phase_tag (spec.md §3, §4.6.2's "Aggregation contract").
func SigningMessage(blockHash types.Hash, slot types.Slot, phase Phase) []byte {
	w := wire.NewWriter(41)
	w.WriteFixed(blockHash[:])
	w.WriteUint64(uint64(slot))
	w.WriteByte(phaseTag(phase))
	return w.Bytes()
}

// Vote is one validator's signed prevote or precommit (spec.md §3).
type Vote struct {
	Slot            types.Slot
	BlockHash       types.Hash
	Phase           Phase
	Validator       types.Address
	ValidatorPubkey []byte
	Stake           *types.Amount
	Signature       []byte
}

// SigningMessage returns the message this vote's signature covers.
func (v *Vote) SigningMessage() []byte { return SigningMessage(v.BlockHash, v.Slot, v.Phase) }

func (v *Vote) MarshalBinary() ([]byte, error) {
	w := wire.NewWriter(160)
	w.WriteUint64(uint64(v.Slot))
	w.WriteFixed(v.BlockHash[:])
	w.WriteByte(phaseTag(v.Phase))
	w.WriteFixed(v.Validator[:])
	w.WriteBytes(v.ValidatorPubkey)
	stakeBytes := types.ToU128Bytes(v.Stake)
	w.WriteFixed(stakeBytes[:])
	w.WriteBytes(v.Signature)
	return w.Bytes(), nil
}

func (v *Vote) UnmarshalBinary(data []byte) error {
	r := wire.NewReader(data)
	v.Slot = types.Slot(r.ReadUint64())
	copy(v.BlockHash[:], r.ReadFixed(32))
	switch r.ReadByte() {
	case 1:
		v.Phase = PhasePrevote
	case 2:
		v.Phase = PhasePrecommit
	default:
		return errs.Wrap(errs.Validation, errs.ErrMalformedInput)
	}
	copy(v.Validator[:], r.ReadFixed(20))
	v.ValidatorPubkey = r.ReadBytes()
	var stakeBytes [16]byte
	copy(stakeBytes[:], r.ReadFixed(16))
	v.Stake = types.AmountFromU128Bytes(stakeBytes)
	v.Signature = r.ReadBytes()
	return r.Done()
}

// QC is an aggregated quorum certificate: a proof that two-thirds of stake
// voted for (slot, block_hash, phase) (spec.md §3).
type QC struct {
	Slot                types.Slot
	BlockHash           types.Hash
	Phase               Phase
	TotalStake          *types.Amount
	Signers             []types.Address
	AggregatedSignature []byte
	AggregatedPubkey    []byte
}

// SigningMessage returns the message the QC's aggregated signature covers.
func (q *QC) SigningMessage() []byte { return SigningMessage(q.BlockHash, q.Slot, q.Phase) }

func (q *QC) MarshalBinary() ([]byte, error) {
	w := wire.NewWriter(256)
	w.WriteUint64(uint64(q.Slot))
	w.WriteFixed(q.BlockHash[:])
	w.WriteByte(phaseTag(q.Phase))
	stakeBytes := types.ToU128Bytes(q.TotalStake)
	w.WriteFixed(stakeBytes[:])
	w.WriteUint32(uint32(len(q.Signers)))
	for _, s := range q.Signers {
		w.WriteFixed(s[:])
	}
	w.WriteBytes(q.AggregatedSignature)
	w.WriteBytes(q.AggregatedPubkey)
	return w.Bytes(), nil
}

func (q *QC) UnmarshalBinary(data []byte) error {
	r := wire.NewReader(data)
	q.Slot = types.Slot(r.ReadUint64())
	copy(q.BlockHash[:], r.ReadFixed(32))
	switch r.ReadByte() {
	case 1:
		q.Phase = PhasePrevote
	case 2:
		q.Phase = PhasePrecommit
	default:
		return errs.Wrap(errs.Validation, errs.ErrMalformedInput)
	}
	var stakeBytes [16]byte
	copy(stakeBytes[:], r.ReadFixed(16))
	q.TotalStake = types.AmountFromU128Bytes(stakeBytes)
	n := r.ReadUint32()
	q.Signers = make([]types.Address, n)
	for i := range q.Signers {
		copy(q.Signers[i][:], r.ReadFixed(20))
	}
	q.AggregatedSignature = r.ReadBytes()
	q.AggregatedPubkey = r.ReadBytes()
	return r.Done()
}

// MeetsQuorum reports whether stake out of totalStake reaches the
// two-thirds-of-stake threshold spec.md §4.6.2 requires, computed as an
// exact integer comparison (stake·3 ≥ total·2) rather than floating point.
func MeetsQuorum(stake, total *types.Amount) bool {
	lhs := new(types.Amount).Mul(stake, types.NewAmount(3))
	rhs := new(types.Amount).Mul(total, types.NewAmount(2))
	return lhs.Cmp(rhs) >= 0
}

// ValidatorInfo is the stake/commission/activity record of spec.md §3.
type ValidatorInfo struct {
	Address       types.Address
	Pubkey        []byte
	Stake         *types.Amount
	CommissionBps uint16
	Active        bool
}
