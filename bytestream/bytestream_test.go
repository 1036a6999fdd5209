package bytestream

import "testing"

func TestPushWithinCapacity(t *testing.T) {
	bs := New(4)
	w, r := bs.Writer(), bs.Reader()

	w.Push([]byte("ab"))
	if got := r.BytesBuffered(); got != 2 {
		t.Fatalf("BytesBuffered() = %d, want 2", got)
	}
	if got := w.AvailableCapacity(); got != 2 {
		t.Fatalf("AvailableCapacity() = %d, want 2", got)
	}
	if string(r.Peek()) != "ab" {
		t.Fatalf("Peek() = %q, want %q", r.Peek(), "ab")
	}
}

func TestPushBeyondCapacityTruncates(t *testing.T) {
	bs := New(2)
	w, r := bs.Writer(), bs.Reader()

	w.Push([]byte("abcd"))
	if got := r.BytesBuffered(); got != 2 {
		t.Fatalf("BytesBuffered() = %d, want 2", got)
	}
	if got := w.BytesPushed(); got != 2 {
		t.Fatalf("BytesPushed() = %d, want 2", got)
	}
	if string(r.Peek()) != "ab" {
		t.Fatalf("Peek() = %q, want %q", r.Peek(), "ab")
	}
}

func TestPopAndCounters(t *testing.T) {
	bs := New(8)
	w, r := bs.Writer(), bs.Reader()

	w.Push([]byte("hello"))
	r.Pop(3)
	if string(r.Peek()) != "lo" {
		t.Fatalf("Peek() = %q, want %q", r.Peek(), "lo")
	}
	if got := r.BytesPopped(); got != 3 {
		t.Fatalf("BytesPopped() = %d, want 3", got)
	}

	r.Pop(100) // pop beyond buffered: clamps
	if got := r.BytesBuffered(); got != 0 {
		t.Fatalf("BytesBuffered() = %d, want 0", got)
	}
	if got := r.BytesPopped(); got != 5 {
		t.Fatalf("BytesPopped() = %d, want 5", got)
	}
}

func TestCloseIsIdempotentAndSealsWrites(t *testing.T) {
	bs := New(8)
	w, r := bs.Writer(), bs.Reader()

	w.Push([]byte("x"))
	w.Close()
	w.Close() // idempotent
	w.Push([]byte("y"))

	if got := r.BytesBuffered(); got != 1 {
		t.Fatalf("BytesBuffered() = %d, want 1 (post-close push must no-op)", got)
	}
	if !w.IsClosed() {
		t.Fatal("IsClosed() = false, want true")
	}
}

func TestIsFinishedRequiresClosedAndEmpty(t *testing.T) {
	bs := New(8)
	w, r := bs.Writer(), bs.Reader()

	w.Push([]byte("x"))
	w.Close()
	if r.IsFinished() {
		t.Fatal("IsFinished() = true before drain, want false")
	}
	r.Pop(1)
	if !r.IsFinished() {
		t.Fatal("IsFinished() = false after drain, want true")
	}
}

func TestErrorFlagSharedAcrossViews(t *testing.T) {
	bs := New(8)
	w, r := bs.Writer(), bs.Reader()

	if w.HasError() || r.HasError() {
		t.Fatal("HasError() = true initially, want false")
	}
	r.SetError()
	if !w.HasError() {
		t.Fatal("Writer.HasError() = false after Reader.SetError(), want true")
	}
}

func TestInvariantBufferedEqualsPushedMinusPopped(t *testing.T) {
	bs := New(16)
	w, r := bs.Writer(), bs.Reader()
	w.Push([]byte("abcdefgh"))
	r.Pop(3)
	w.Push([]byte("ij"))

	if got, want := r.BytesBuffered(), w.BytesPushed()-r.BytesPopped(); got != want {
		t.Fatalf("BytesBuffered() = %d, want %d (pushed - popped)", got, want)
	}
}
