// Package sparse locates non-zero bytes in buffers so that all-zero chunks can be
// stored as holes instead of literal data.
//
// Both scan directions return the length of the buffer when it contains only zeros.
// Forward returns the index of the first non-zero byte. Backward returns the number
// of zero bytes that follow the last non-zero byte.
package sparse

import (
	"encoding/binary"
	"math/bits"
	"unsafe"

	"mkimg/cpucaps"
)

// Scanner dispatches to the widest scan path allowed by its capabilities.
// A Scanner is immutable and safe for concurrent use.
type Scanner struct {
	width cpucaps.Width
}

// New returns a scanner bound to caps.
func New(caps cpucaps.Caps) *Scanner {
	return &Scanner{width: caps.Width()}
}

// Default returns a scanner for the running CPU.
func Default() *Scanner { return New(cpucaps.Detect()) }

// Width reports the scan path in use.
func (s *Scanner) Width() cpucaps.Width { return s.width }

// IsZero reports whether buf holds only zero bytes.
func (s *Scanner) IsZero(buf []byte) bool { return s.Forward(buf) == len(buf) }

// Forward returns the offset of the first non-zero byte, or len(buf).
func (s *Scanner) Forward(buf []byte) int {
	n := len(buf)
	step := s.width.Bytes()

	i := 0
	for ; i < n && !aligned(buf, i, step); i++ {
		if buf[i] != 0 {
			return i
		}
	}

	var found bool
	if s.width >= cpucaps.WidthWide {
		if i, found = forward32(buf, i); found {
			return i
		}
	}
	if s.width >= cpucaps.WidthNarrow {
		if i, found = forward16(buf, i); found {
			return i
		}
	}
	if i, found = forward8(buf, i); found {
		return i
	}
	for ; i < n; i++ {
		if buf[i] != 0 {
			return i
		}
	}
	return n
}

// Backward returns the number of trailing zero bytes, or len(buf) when all are zero.
func (s *Scanner) Backward(buf []byte) int {
	n := len(buf)
	step := s.width.Bytes()

	j := n
	for j > 0 && !aligned(buf, j, step) {
		j--
		if buf[j] != 0 {
			return n - 1 - j
		}
	}

	var (
		pos   int
		found bool
	)
	if s.width >= cpucaps.WidthWide {
		if j, pos, found = backward32(buf, j); found {
			return n - 1 - pos
		}
	}
	if s.width >= cpucaps.WidthNarrow {
		if j, pos, found = backward16(buf, j); found {
			return n - 1 - pos
		}
	}
	if j, pos, found = backward8(buf, j); found {
		return n - 1 - pos
	}
	for j > 0 {
		j--
		if buf[j] != 0 {
			return n - 1 - j
		}
	}
	return n
}

func aligned(buf []byte, i, step int) bool {
	p := uintptr(unsafe.Pointer(unsafe.SliceData(buf))) + uintptr(i)
	return p%uintptr(step) == 0
}

/* ===== forward paths ===== */

func forward32(b []byte, i int) (int, bool) {
	for ; i+32 <= len(b); i += 32 {
		w0 := binary.LittleEndian.Uint64(b[i:])
		w1 := binary.LittleEndian.Uint64(b[i+8:])
		w2 := binary.LittleEndian.Uint64(b[i+16:])
		w3 := binary.LittleEndian.Uint64(b[i+24:])
		if w0|w1|w2|w3 == 0 {
			continue
		}
		switch {
		case w0 != 0:
			return i + firstByte(w0), true
		case w1 != 0:
			return i + 8 + firstByte(w1), true
		case w2 != 0:
			return i + 16 + firstByte(w2), true
		default:
			return i + 24 + firstByte(w3), true
		}
	}
	return i, false
}

func forward16(b []byte, i int) (int, bool) {
	for ; i+16 <= len(b); i += 16 {
		w0 := binary.LittleEndian.Uint64(b[i:])
		w1 := binary.LittleEndian.Uint64(b[i+8:])
		if w0|w1 == 0 {
			continue
		}
		if w0 != 0 {
			return i + firstByte(w0), true
		}
		return i + 8 + firstByte(w1), true
	}
	return i, false
}

func forward8(b []byte, i int) (int, bool) {
	for ; i+8 <= len(b); i += 8 {
		if w := binary.LittleEndian.Uint64(b[i:]); w != 0 {
			return i + firstByte(w), true
		}
	}
	return i, false
}

// firstByte is the index of the lowest-addressed non-zero byte of a little-endian load.
func firstByte(w uint64) int { return bits.TrailingZeros64(w) / 8 }

/* ===== backward paths ===== */

// backwardN functions scan whole chunks ending at j and return the new end, the
// index of the highest non-zero byte, and whether one was found.

func backward32(b []byte, j int) (int, int, bool) {
	for ; j >= 32; j -= 32 {
		c := j - 32
		w0 := binary.LittleEndian.Uint64(b[c:])
		w1 := binary.LittleEndian.Uint64(b[c+8:])
		w2 := binary.LittleEndian.Uint64(b[c+16:])
		w3 := binary.LittleEndian.Uint64(b[c+24:])
		if w0|w1|w2|w3 == 0 {
			continue
		}
		switch {
		case w3 != 0:
			return j, c + 24 + lastByte(w3), true
		case w2 != 0:
			return j, c + 16 + lastByte(w2), true
		case w1 != 0:
			return j, c + 8 + lastByte(w1), true
		default:
			return j, c + lastByte(w0), true
		}
	}
	return j, 0, false
}

func backward16(b []byte, j int) (int, int, bool) {
	for ; j >= 16; j -= 16 {
		c := j - 16
		w0 := binary.LittleEndian.Uint64(b[c:])
		w1 := binary.LittleEndian.Uint64(b[c+8:])
		if w0|w1 == 0 {
			continue
		}
		if w1 != 0 {
			return j, c + 8 + lastByte(w1), true
		}
		return j, c + lastByte(w0), true
	}
	return j, 0, false
}

func backward8(b []byte, j int) (int, int, bool) {
	for ; j >= 8; j -= 8 {
		if w := binary.LittleEndian.Uint64(b[j-8:]); w != 0 {
			return j, j - 8 + lastByte(w), true
		}
	}
	return j, 0, false
}

// lastByte is the index of the highest-addressed non-zero byte of a little-endian load.
func lastByte(w uint64) int { return 7 - bits.LeadingZeros64(w)/8 }
