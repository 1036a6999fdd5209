// Package bytestream implements a bounded, single-producer/single-consumer
// byte FIFO with independent close and error flags.
//
// A ByteStream is driven cooperatively: Push/Pop/Close/SetError never block
// and never spawn goroutines. Callers on both the Writer and Reader side are
// expected to serialize their own access, the same way the rest of this
// module's state machines are driven by a single event loop.
package bytestream

// ByteStream is a FIFO of bytes bounded to a fixed capacity. A Writer pushes
// bytes and eventually closes the stream; a Reader pops them. Both views
// share the same underlying state.
type ByteStream struct {
	capacity uint64
	buf      []byte

	closed  bool
	errored bool

	bytesPushed uint64
	bytesPopped uint64
}

// New constructs a ByteStream with the given capacity in bytes.
func New(capacity uint64) *ByteStream {
	return &ByteStream{
		capacity: capacity,
		buf:      make([]byte, 0, capacity),
	}
}

// Writer returns the push/close view over the stream.
func (b *ByteStream) Writer() *Writer { return &Writer{b} }

// Reader returns the peek/pop view over the stream.
func (b *ByteStream) Reader() *Reader { return &Reader{b} }

// Writer is the producer-facing view of a ByteStream.
type Writer struct{ s *ByteStream }

// Push admits min(len(data), available capacity) leading bytes of data. A
// no-op once the stream is closed. Excess bytes are silently dropped; the
// caller is expected to check AvailableCapacity first.
func (w *Writer) Push(data []byte) {
	s := w.s
	if s.closed {
		return
	}
	avail := s.capacity - uint64(len(s.buf))
	n := uint64(len(data))
	if n > avail {
		n = avail
	}
	s.buf = append(s.buf, data[:n]...)
	s.bytesPushed += n
}

// Close seals the stream. Idempotent.
func (w *Writer) Close() { w.s.closed = true }

// IsClosed reports whether Close has been called.
func (w *Writer) IsClosed() bool { return w.s.closed }

// AvailableCapacity returns how many bytes may be pushed right now.
func (w *Writer) AvailableCapacity() uint64 {
	return w.s.capacity - uint64(len(w.s.buf))
}

// BytesPushed returns the lifetime count of bytes accepted by Push.
func (w *Writer) BytesPushed() uint64 { return w.s.bytesPushed }

// SetError marks the stream unrecoverable. Shared with the Reader view.
func (w *Writer) SetError() { w.s.errored = true }

// HasError reports the sticky error flag.
func (w *Writer) HasError() bool { return w.s.errored }

// Reader is the consumer-facing view of a ByteStream.
type Reader struct{ s *ByteStream }

// Peek returns a contiguous slice of the currently buffered bytes. It need
// not return every buffered byte in one call, but returns a nonempty slice
// whenever bytes are buffered. The caller must not mutate the result.
func (r *Reader) Peek() []byte { return r.s.buf }

// Pop discards min(n, buffered) bytes from the front of the stream.
func (r *Reader) Pop(n uint64) {
	s := r.s
	if n > uint64(len(s.buf)) {
		n = uint64(len(s.buf))
	}
	s.buf = s.buf[n:]
	s.bytesPopped += n
}

// IsFinished reports closed-and-drained: nothing left to read, ever.
func (r *Reader) IsFinished() bool { return r.s.closed && len(r.s.buf) == 0 }

// BytesBuffered returns the number of bytes currently queued.
func (r *Reader) BytesBuffered() uint64 { return uint64(len(r.s.buf)) }

// BytesPopped returns the lifetime count of bytes removed by Pop.
func (r *Reader) BytesPopped() uint64 { return r.s.bytesPopped }

// SetError marks the stream unrecoverable. Shared with the Writer view.
func (r *Reader) SetError() { r.s.errored = true }

// HasError reports the sticky error flag.
func (r *Reader) HasError() bool { return r.s.errored }
