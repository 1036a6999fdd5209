package wrap32

import "testing"

func TestWrapUnwrapBoundary(t *testing.T) {
	zp := FromRaw(7)
	const oneWrap = uint64(1) << 32
	got := Wrap(oneWrap+15, zp).Unwrap(zp, oneWrap)
	if want := oneWrap + 15; got != want {
		t.Fatalf("Unwrap() = %d, want %d", got, want)
	}
}

func TestWrapUnwrapRoundTripNearCheckpoint(t *testing.T) {
	zp := FromRaw(1000)
	cases := []uint64{0, 1, 1000, 1<<32 - 1, 1 << 32, (1 << 32) + 500, 5 * (1 << 32)}
	for _, abs := range cases {
		w := Wrap(abs, zp)
		got := w.Unwrap(zp, abs)
		if got != abs {
			t.Errorf("Wrap(%d).Unwrap(checkpoint=%d) = %d, want %d", abs, abs, got, abs)
		}
	}
}

func TestUnwrapPicksClosestToCheckpoint(t *testing.T) {
	zp := FromRaw(0)
	w := Wrap(0, zp) // raw 0 projects to absolute 0, 2^32, 2*2^32, ...
	got := w.Unwrap(zp, 3*(1<<32))
	if want := uint64(3) << 32; got != want {
		t.Fatalf("Unwrap() = %d, want %d", got, want)
	}
}

func TestUnwrapTieBreaksSmaller(t *testing.T) {
	zp := FromRaw(0)
	w := Wrap(0, zp)
	mid := uint64(1) << 31 // exactly halfway between 0 and 2^32
	got := w.Unwrap(zp, mid)
	if got != 0 {
		t.Fatalf("Unwrap() = %d, want 0 (tie should favor smaller candidate)", got)
	}
}

func TestUnwrapNeverNegative(t *testing.T) {
	zp := FromRaw(500)
	w := FromRaw(100) // projects below zp's window
	got := w.Unwrap(zp, 0)
	// Smallest legal candidate: zp.raw=500, w.raw=100 -> base = uint32(100-500) huge, near 2^32.
	if got > (uint64(1)<<33) {
		t.Fatalf("Unwrap() = %d, unexpectedly large", got)
	}
}
