package ledger

import (
	"encoding/binary"

	"github.com/leancorelabs/chain/types"
	"github.com/leancorelabs/chain/wire"
)

func writeOptionalHash(w *wire.Writer, h *types.Hash) {
	if h == nil {
		w.WriteByte(0)
		return
	}
	w.WriteByte(1)
	w.WriteFixed(h[:])
}

func readOptionalHash(r *wire.Reader) *types.Hash {
	if r.ReadByte() == 0 {
		return nil
	}
	var h types.Hash
	copy(h[:], r.ReadFixed(32))
	return &h
}

// Account is the authoritative balance/nonce/contract-storage record for an
// address (spec.md §3).
type Account struct {
	Address     types.Address
	Balance     *types.Amount
	Nonce       uint64
	CodeHash    *types.Hash
	StorageRoot types.Hash
}

// NewAccount returns a zero-initialized account, the value
// get_or_create_account synthesizes for an unknown address without
// persisting it.
func NewAccount(addr types.Address) *Account {
	return &Account{Address: addr, Balance: types.ZeroAmount()}
}

func (a *Account) MarshalBinary() ([]byte, error) {
	w := wire.NewWriter(96)
	w.WriteFixed(a.Address[:])
	bal := types.ToU128Bytes(a.Balance)
	w.WriteFixed(bal[:])
	w.WriteUint64(a.Nonce)
	writeOptionalHash(w, a.CodeHash)
	w.WriteFixed(a.StorageRoot[:])
	return w.Bytes(), nil
}

func (a *Account) UnmarshalBinary(data []byte) error {
	r := wire.NewReader(data)
	copy(a.Address[:], r.ReadFixed(20))
	var bal [16]byte
	copy(bal[:], r.ReadFixed(16))
	a.Balance = types.AmountFromU128Bytes(bal)
	a.Nonce = r.ReadUint64()
	a.CodeHash = readOptionalHash(r)
	var root types.Hash
	copy(root[:], r.ReadFixed(32))
	a.StorageRoot = root
	return r.Done()
}

// UTxOId identifies one transaction output.
type UTxOId struct {
	TxHash      types.Hash
	OutputIndex uint32
}

// Bytes is the CFUTxos key encoding: tx_hash(32) || output_index_be(4), big
// endian so byte-lexicographic iteration groups a transaction's outputs in
// index order.
func (id UTxOId) Bytes() []byte {
	out := make([]byte, 36)
	copy(out[:32], id.TxHash[:])
	binary.BigEndian.PutUint32(out[32:], id.OutputIndex)
	return out
}

// UTxO is an unspent transaction output.
type UTxO struct {
	Amount     *types.Amount
	Owner      types.Address
	ScriptHash *types.Hash
}

func (u *UTxO) MarshalBinary() ([]byte, error) {
	w := wire.NewWriter(64)
	amt := types.ToU128Bytes(u.Amount)
	w.WriteFixed(amt[:])
	w.WriteFixed(u.Owner[:])
	writeOptionalHash(w, u.ScriptHash)
	return w.Bytes(), nil
}

func (u *UTxO) UnmarshalBinary(data []byte) error {
	r := wire.NewReader(data)
	var amt [16]byte
	copy(amt[:], r.ReadFixed(16))
	u.Amount = types.AmountFromU128Bytes(amt)
	copy(u.Owner[:], r.ReadFixed(20))
	u.ScriptHash = readOptionalHash(r)
	return r.Done()
}

// TxOutput is a transaction output before it becomes a UTxO.
type TxOutput struct {
	Amount     *types.Amount
	Owner      types.Address
	ScriptHash *types.Hash
}

// Transaction is a signed state transition (spec.md §3).
type Transaction struct {
	Nonce        uint64
	Sender       types.Address
	SenderPubkey []byte
	Inputs       []UTxOId
	Outputs      []TxOutput
	Reads        []types.Address
	Writes       []types.Address
	ProgramID    *types.Hash
	Data         []byte
	GasLimit     uint64
	Fee          *types.Amount
	Signature    []byte
}

func (tx *Transaction) writeUnsigned(w *wire.Writer) {
	w.WriteUint64(tx.Nonce)
	w.WriteFixed(tx.Sender[:])
	w.WriteBytes(tx.SenderPubkey)

	w.WriteUint32(uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		w.WriteFixed(in.TxHash[:])
		w.WriteUint32(in.OutputIndex)
	}

	w.WriteUint32(uint32(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		amt := types.ToU128Bytes(out.Amount)
		w.WriteFixed(amt[:])
		w.WriteFixed(out.Owner[:])
		writeOptionalHash(w, out.ScriptHash)
	}

	w.WriteUint32(uint32(len(tx.Reads)))
	for _, a := range tx.Reads {
		w.WriteFixed(a[:])
	}
	w.WriteUint32(uint32(len(tx.Writes)))
	for _, a := range tx.Writes {
		w.WriteFixed(a[:])
	}

	writeOptionalHash(w, tx.ProgramID)
	w.WriteBytes(tx.Data)
	w.WriteUint64(tx.GasLimit)
	fee := types.ToU128Bytes(tx.Fee)
	w.WriteFixed(fee[:])
}

// Hash is SHA-256 of the serialized transaction with the signature omitted;
// the signature covers this hash (spec.md §3).
func (tx *Transaction) Hash() types.Hash {
	w := wire.NewWriter(256)
	tx.writeUnsigned(w)
	return types.HashBytes(w.Bytes())
}

func (tx *Transaction) MarshalBinary() ([]byte, error) {
	w := wire.NewWriter(300)
	tx.writeUnsigned(w)
	w.WriteBytes(tx.Signature)
	return w.Bytes(), nil
}

func (tx *Transaction) UnmarshalBinary(data []byte) error {
	r := wire.NewReader(data)
	tx.Nonce = r.ReadUint64()
	copy(tx.Sender[:], r.ReadFixed(20))
	tx.SenderPubkey = r.ReadBytes()

	nIn := r.ReadUint32()
	tx.Inputs = make([]UTxOId, nIn)
	for i := range tx.Inputs {
		var h types.Hash
		copy(h[:], r.ReadFixed(32))
		tx.Inputs[i] = UTxOId{TxHash: h, OutputIndex: r.ReadUint32()}
	}

	nOut := r.ReadUint32()
	tx.Outputs = make([]TxOutput, nOut)
	for i := range tx.Outputs {
		var amt [16]byte
		copy(amt[:], r.ReadFixed(16))
		var owner types.Address
		copy(owner[:], r.ReadFixed(20))
		tx.Outputs[i] = TxOutput{
			Amount:     types.AmountFromU128Bytes(amt),
			Owner:      owner,
			ScriptHash: readOptionalHash(r),
		}
	}

	nReads := r.ReadUint32()
	tx.Reads = make([]types.Address, nReads)
	for i := range tx.Reads {
		copy(tx.Reads[i][:], r.ReadFixed(20))
	}
	nWrites := r.ReadUint32()
	tx.Writes = make([]types.Address, nWrites)
	for i := range tx.Writes {
		copy(tx.Writes[i][:], r.ReadFixed(20))
	}

	tx.ProgramID = readOptionalHash(r)
	tx.Data = r.ReadBytes()
	tx.GasLimit = r.ReadUint64()
	var fee [16]byte
	copy(fee[:], r.ReadFixed(16))
	tx.Fee = types.AmountFromU128Bytes(fee)
	tx.Signature = r.ReadBytes()
	return r.Done()
}

// Log is one event emitted during contract execution.
type Log struct {
	Address types.Address
	Topics  []types.Hash
	Data    []byte
}

// Status is a receipt's outcome: Success, or Failed with a reason.
type Status struct {
	Success bool
	Reason  string
}

func StatusSuccess() Status             { return Status{Success: true} }
func StatusFailed(reason string) Status { return Status{Success: false, Reason: reason} }

// Receipt records the outcome of applying one transaction.
type Receipt struct {
	TxHash    types.Hash
	BlockHash types.Hash
	Slot      types.Slot
	Status    Status
	GasUsed   uint64
	Logs      []Log
	StateRoot types.Hash
}

func (rc *Receipt) MarshalBinary() ([]byte, error) {
	w := wire.NewWriter(128)
	w.WriteFixed(rc.TxHash[:])
	w.WriteFixed(rc.BlockHash[:])
	w.WriteUint64(uint64(rc.Slot))
	if rc.Status.Success {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
		w.WriteBytes([]byte(rc.Status.Reason))
	}
	w.WriteUint64(rc.GasUsed)
	w.WriteUint32(uint32(len(rc.Logs)))
	for _, l := range rc.Logs {
		w.WriteFixed(l.Address[:])
		w.WriteUint32(uint32(len(l.Topics)))
		for _, t := range l.Topics {
			w.WriteFixed(t[:])
		}
		w.WriteBytes(l.Data)
	}
	w.WriteFixed(rc.StateRoot[:])
	return w.Bytes(), nil
}

func (rc *Receipt) UnmarshalBinary(data []byte) error {
	r := wire.NewReader(data)
	copy(rc.TxHash[:], r.ReadFixed(32))
	copy(rc.BlockHash[:], r.ReadFixed(32))
	rc.Slot = types.Slot(r.ReadUint64())
	if r.ReadByte() == 1 {
		rc.Status = StatusSuccess()
	} else {
		rc.Status = StatusFailed(string(r.ReadBytes()))
	}
	rc.GasUsed = r.ReadUint64()
	nLogs := r.ReadUint32()
	rc.Logs = make([]Log, nLogs)
	for i := range rc.Logs {
		var addr types.Address
		copy(addr[:], r.ReadFixed(20))
		nTopics := r.ReadUint32()
		topics := make([]types.Hash, nTopics)
		for j := range topics {
			copy(topics[j][:], r.ReadFixed(32))
		}
		rc.Logs[i] = Log{Address: addr, Topics: topics, Data: r.ReadBytes()}
	}
	copy(rc.StateRoot[:], r.ReadFixed(32))
	return r.Done()
}
