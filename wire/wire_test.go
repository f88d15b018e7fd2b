package wire

import "testing"

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter(0)
	w.WriteByte(7)
	w.WriteUint32(1234)
	w.WriteUint64(9876543210)
	w.WriteBytes([]byte("hello"))
	WriteUint128(w, 1, 2)

	r := NewReader(w.Bytes())
	if b := r.ReadByte(); b != 7 {
		t.Fatalf("byte = %d, want 7", b)
	}
	if v := r.ReadUint32(); v != 1234 {
		t.Fatalf("uint32 = %d, want 1234", v)
	}
	if v := r.ReadUint64(); v != 9876543210 {
		t.Fatalf("uint64 = %d, want 9876543210", v)
	}
	if s := r.ReadBytes(); string(s) != "hello" {
		t.Fatalf("bytes = %q, want hello", s)
	}
	lo, hi := ReadUint128(r)
	if lo != 1 || hi != 2 {
		t.Fatalf("uint128 = (%d, %d), want (1, 2)", lo, hi)
	}
	if err := r.Done(); err != nil {
		t.Fatalf("unexpected trailing error: %v", err)
	}
}

func TestReaderRejectsShortBuffer(t *testing.T) {
	r := NewReader([]byte{1, 2})
	r.ReadUint64()
	if r.Err() == nil {
		t.Fatalf("expected error reading past end of buffer")
	}
}

func TestDoneRejectsTrailingBytes(t *testing.T) {
	w := NewWriter(0)
	w.WriteByte(1)
	w.WriteByte(2)
	r := NewReader(w.Bytes())
	r.ReadByte()
	if err := r.Done(); err == nil {
		t.Fatalf("expected trailing-byte error")
	}
}
