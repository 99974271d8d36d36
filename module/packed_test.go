package module

import (
	"errors"
	"testing"
)

func TestPackedIntsSingleByte(t *testing.T) {
	var w PackedWriter
	for _, n := range []int{0, 1, -1, -6, 63, -64} {
		before := w.Len()
		w.WriteInt(n)
		if w.Len()-before != 1 {
			t.Errorf("WriteInt(%d) used %d bytes, want 1", n, w.Len()-before)
		}
	}
}

func TestPackedReaderSequence(t *testing.T) {
	var w PackedWriter
	w.WriteByte(7)
	w.WriteInt(-17)
	w.WriteInt64(1 << 40)
	w.WriteInts([]int{3, -2, 1000})

	r := NewPackedReader(w.Bytes())
	b, err := r.ReadByte()
	if err != nil || b != 7 {
		t.Fatalf("ReadByte = %d, %v", b, err)
	}
	if got := r.ReadInt(); got != -17 {
		t.Errorf("ReadInt = %d, want -17", got)
	}
	if got := r.ReadInt64(); got != 1<<40 {
		t.Errorf("ReadInt64 = %d, want %d", got, int64(1<<40))
	}
	ns := r.ReadInts()
	if len(ns) != 3 || ns[0] != 3 || ns[1] != -2 || ns[2] != 1000 {
		t.Errorf("ReadInts = %v", ns)
	}
	if r.More() {
		t.Error("expected stream to be exhausted")
	}
	if r.Err() != nil {
		t.Errorf("unexpected error %v", r.Err())
	}
}

func TestPackedReaderTruncated(t *testing.T) {
	var w PackedWriter
	w.WriteInt64(1 << 40)
	data := w.Bytes()

	r := NewPackedReader(data[:len(data)-1])
	r.ReadInt64()
	if !errors.Is(r.Err(), ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", r.Err())
	}
	// sticky
	if r.ReadInt() != 0 || !errors.Is(r.Err(), ErrTruncated) {
		t.Error("error should stick after truncation")
	}
}

func TestPackedReaderBogusListLength(t *testing.T) {
	var w PackedWriter
	w.WriteInt(50)
	w.WriteInt(1)
	r := NewPackedReader(w.Bytes())
	if ns := r.ReadInts(); ns != nil {
		t.Errorf("ReadInts = %v, want nil", ns)
	}
	if !errors.Is(r.Err(), ErrTruncated) {
		t.Errorf("err = %v, want ErrTruncated", r.Err())
	}
}
