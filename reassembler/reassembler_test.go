package reassembler

import (
	"testing"

	"ip-tcp-stack/bytestream"
)

func TestSimpleInOrder(t *testing.T) {
	bs := bytestream.New(4)
	re := New(bs)
	r := bs.Reader()

	re.Insert(0, []byte("ab"), false)
	re.Insert(2, []byte("cd"), true)

	if got := string(r.Peek()); got != "abcd" {
		t.Fatalf("Peek() = %q, want %q", got, "abcd")
	}
	if !r.IsFinished() && r.BytesBuffered() == 0 {
		t.Fatalf("stream should be closed once drained")
	}
	r.Pop(4)
	if !r.IsFinished() {
		t.Fatal("IsFinished() = false, want true after full drain")
	}
}

func TestOverlap(t *testing.T) {
	bs := bytestream.New(8)
	re := New(bs)
	r := bs.Reader()

	re.Insert(0, []byte("abcd"), false)
	re.Insert(2, []byte("cdef"), true)

	if got := string(r.Peek()); got != "abcdef" {
		t.Fatalf("Peek() = %q, want %q", got, "abcdef")
	}
}

func TestPastWindowIsDropped(t *testing.T) {
	bs := bytestream.New(2)
	re := New(bs)

	re.Insert(5, []byte("xyz"), false)
	if got := re.BytesPending(); got != 0 {
		t.Fatalf("BytesPending() = %d, want 0", got)
	}
}

func TestOutOfOrderThenFill(t *testing.T) {
	bs := bytestream.New(10)
	re := New(bs)
	r := bs.Reader()

	re.Insert(3, []byte("defg"), false)
	if got := r.BytesBuffered(); got != 0 {
		t.Fatalf("BytesBuffered() = %d before gap filled, want 0", got)
	}
	re.Insert(0, []byte("abc"), false)
	if got := string(r.Peek()); got != "abcdefg" {
		t.Fatalf("Peek() = %q, want %q", got, "abcdefg")
	}
}

func TestDuplicateInsertIsNoOp(t *testing.T) {
	bs := bytestream.New(10)
	re := New(bs)
	r := bs.Reader()

	re.Insert(0, []byte("abc"), false)
	r.Pop(3)
	re.Insert(0, []byte("abc"), false) // already assembled; should be a no-op
	if got := re.BytesPending(); got != 0 {
		t.Fatalf("BytesPending() = %d, want 0 for re-insertion of assembled bytes", got)
	}
}

func TestEmptyLastSubstringClosesImmediatelyWhenCaughtUp(t *testing.T) {
	bs := bytestream.New(10)
	re := New(bs)
	r := bs.Reader()

	re.Insert(0, nil, true)
	if !r.IsFinished() {
		t.Fatal("empty is_last insert at caught-up index should close the writer")
	}
}

func TestEqualKeyReplacesOnlyIfLonger(t *testing.T) {
	bs := bytestream.New(10)
	re := New(bs)

	re.Insert(4, []byte("xy"), false) // stored at key 4, len 2 (index 0..3 unassembled)
	re.Insert(4, []byte("z"), false)  // shorter at same key: ignored
	if got := re.BytesPending(); got != 2 {
		t.Fatalf("BytesPending() = %d, want 2 (shorter same-key insert must not replace)", got)
	}
	re.Insert(4, []byte("wxyz"), false) // longer at same key: replaces
	if got := re.BytesPending(); got != 4 {
		t.Fatalf("BytesPending() = %d, want 4 (longer same-key insert should replace)", got)
	}
}

func TestBytesPendingNeverExceedsCapacity(t *testing.T) {
	bs := bytestream.New(4)
	re := New(bs)

	re.Insert(0, []byte("abcdefgh"), false)
	if got := re.BytesPending(); got > 4 {
		t.Fatalf("BytesPending() = %d, exceeds capacity 4", got)
	}
}
