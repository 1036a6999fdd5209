// Package reassembler splices out-of-order, possibly overlapping byte
// substrings into an in-order ByteStream.
package reassembler

import (
	"ip-tcp-stack/bytestream"

	"github.com/google/btree"
)

// segment is a pending, non-overlapping, non-abutting byte interval
// [firstIndex, firstIndex+len(payload)) not yet flushed to the output
// stream.
type segment struct {
	firstIndex uint64
	payload    []byte
}

func (s *segment) end() uint64 { return s.firstIndex + uint64(len(s.payload)) }

func segmentLess(a, b *segment) bool { return a.firstIndex < b.firstIndex }

// degree chosen for the small, mostly-sequential workloads this sees; not
// performance-critical at this scale.
const treeDegree = 32

// Reassembler accepts arbitrarily overlapping, reordered, duplicated byte
// substrings and pushes the contiguous in-order prefix to an output
// ByteStream as soon as it becomes available.
//
// The pending-segment store is an ordered github.com/google/btree.BTreeG
// keyed by first_index, standing in for the "rbtree_" the original
// implementation used: on an exact first_index collision the longer
// payload wins (replace-only-if-longer), and on insert the new segment is
// merged with any overlapping or abutting neighbor so the tree never holds
// two intervals that touch.
type Reassembler struct {
	writer *bytestream.Writer

	tree *btree.BTreeG[*segment]

	firstUnassembledIndex uint64
	lastIndex             uint64
	haveLastIndex         bool
}

// New constructs a Reassembler that flushes into output's Writer view.
func New(output *bytestream.ByteStream) *Reassembler {
	return &Reassembler{
		writer: output.Writer(),
		tree:   btree.NewG(treeDegree, segmentLess),
	}
}

// Writer exposes the underlying stream's Writer view, so a caller (e.g. the
// TCP receiver composing a connection) can check available capacity.
func (re *Reassembler) Writer() *bytestream.Writer { return re.writer }

// NextByte returns first_unassembled_index: the stream index of the next
// byte the Reassembler expects to flush.
func (re *Reassembler) NextByte() uint64 { return re.firstUnassembledIndex }

// Insert splices in a substring known to start at the stream index
// firstIndex. isLast marks data as ending the stream: first_index+len(data)
// becomes the stream's final length.
func (re *Reassembler) Insert(firstIndex uint64, data []byte, isLast bool) {
	if isLast {
		re.haveLastIndex = true
		re.lastIndex = firstIndex + uint64(len(data))
	}

	windowStart, windowEnd := re.firstUnassembledIndex, re.firstUnassembledIndex+re.writer.AvailableCapacity()
	dataStart, dataEnd := firstIndex, firstIndex+uint64(len(data))

	lo, hi := max(windowStart, dataStart), min(windowEnd, dataEnd)
	if hi > lo {
		re.insertSegment(lo, data[lo-dataStart:hi-dataStart])
	}

	re.flush()

	if re.haveLastIndex && re.firstUnassembledIndex == re.lastIndex {
		re.writer.Close()
	}
}

// insertSegment stores [first, first+len(data)) in the tree, merging with
// whatever overlapping or abutting segments already exist.
func (re *Reassembler) insertSegment(first uint64, data []byte) {
	var pred *segment
	re.tree.DescendLessOrEqual(&segment{firstIndex: first}, func(s *segment) bool {
		pred = s
		return false
	})

	var anchor *segment
	switch {
	case pred != nil && pred.firstIndex == first:
		if len(data) > len(pred.payload) {
			pred.payload = data
		}
		anchor = pred
	case pred != nil && pred.end() >= first:
		extend(pred, first, data)
		anchor = pred
	default:
		anchor = &segment{firstIndex: first, payload: append([]byte(nil), data...)}
		re.tree.ReplaceOrInsert(anchor)
	}

	for {
		var next *segment
		re.tree.AscendGreaterOrEqual(&segment{firstIndex: anchor.firstIndex + 1}, func(s *segment) bool {
			next = s
			return false
		})
		if next == nil || next.firstIndex > anchor.end() {
			break
		}
		extend(anchor, next.firstIndex, next.payload)
		re.tree.Delete(next)
	}
}

// extend grows s to cover [first, first+len(data)) when that extends past
// s's current right edge, taking only the non-overlapping tail of data —
// the shared prefix is assumed self-consistent with what s already holds.
func extend(s *segment, first uint64, data []byte) {
	newEnd := first + uint64(len(data))
	if newEnd <= s.end() {
		return
	}
	extra := newEnd - s.end()
	s.payload = append(s.payload, data[uint64(len(data))-extra:]...)
}

// flush pushes every contiguous run starting at first_unassembled_index to
// the output stream.
func (re *Reassembler) flush() {
	for {
		var head *segment
		re.tree.AscendGreaterOrEqual(&segment{firstIndex: re.firstUnassembledIndex}, func(s *segment) bool {
			head = s
			return false
		})
		if head == nil || head.firstIndex != re.firstUnassembledIndex {
			return
		}
		re.writer.Push(head.payload)
		re.firstUnassembledIndex = head.end()
		re.tree.Delete(head)
	}
}

// BytesPending reports how many bytes are held in the Reassembler itself,
// not yet flushed. Test-only, per the spec.
func (re *Reassembler) BytesPending() uint64 {
	var total uint64
	re.tree.Ascend(func(s *segment) bool {
		total += uint64(len(s.payload))
		return true
	})
	return total
}
