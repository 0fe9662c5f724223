package sparse

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mkimg/cpucaps"
)

func scanners() map[string]*Scanner {
	all := cpucaps.Caps{SSE2: true, AVX2: true}
	return map[string]*Scanner{
		"wide":     New(all),
		"narrow":   New(all.Cap(cpucaps.WidthNarrow)),
		"portable": New(all.Cap(cpucaps.WidthNone)),
	}
}

func refForward(b []byte) int {
	for i, c := range b {
		if c != 0 {
			return i
		}
	}
	return len(b)
}

func refBackward(b []byte) int {
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != 0 {
			return len(b) - 1 - i
		}
	}
	return len(b)
}

func TestPathsSelected(t *testing.T) {
	s := scanners()
	assert.Equal(t, cpucaps.WidthWide, s["wide"].Width())
	assert.Equal(t, cpucaps.WidthNarrow, s["narrow"].Width())
	assert.Equal(t, cpucaps.WidthNone, s["portable"].Width())
}

func TestAllZero(t *testing.T) {
	for name, s := range scanners() {
		t.Run(name, func(t *testing.T) {
			for _, n := range []int{0, 1, 7, 8, 15, 16, 31, 32, 33, 511, 512, 4096} {
				buf := make([]byte, n)
				assert.Equal(t, n, s.Forward(buf), "forward len=%d", n)
				assert.Equal(t, n, s.Backward(buf), "backward len=%d", n)
				assert.True(t, s.IsZero(buf))
			}
		})
	}
}

func TestSingleNonZeroEveryOffset(t *testing.T) {
	// sub-slicing the backing array at every start offset exercises every unaligned prefix
	backing := make([]byte, 200)
	for name, s := range scanners() {
		t.Run(name, func(t *testing.T) {
			for start := 0; start < 40; start++ {
				buf := backing[start : start+130]
				for k := range buf {
					buf[k] = 0x80
					require.Equal(t, k, s.Forward(buf), "start=%d k=%d", start, k)
					require.Equal(t, len(buf)-1-k, s.Backward(buf), "start=%d k=%d", start, k)
					require.False(t, s.IsZero(buf))
					buf[k] = 0
				}
			}
		})
	}
}

func TestRandomBuffersAgreeWithReference(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	all := scanners()
	for iter := 0; iter < 2000; iter++ {
		n := rng.Intn(300)
		buf := make([]byte, n+rng.Intn(8))
		buf = buf[len(buf)-n:]
		// a few random non-zero bytes somewhere in the middle
		for j := rng.Intn(3); j > 0 && n > 0; j-- {
			buf[rng.Intn(n)] = byte(1 + rng.Intn(255))
		}
		wantF, wantB := refForward(buf), refBackward(buf)
		for name, s := range all {
			require.Equal(t, wantF, s.Forward(buf), "%s forward iter=%d", name, iter)
			require.Equal(t, wantB, s.Backward(buf), "%s backward iter=%d", name, iter)
		}
	}
}

func TestEveryBitPosition(t *testing.T) {
	buf := make([]byte, 64)
	for name, s := range scanners() {
		t.Run(name, func(t *testing.T) {
			for k := range buf {
				for bit := 0; bit < 8; bit++ {
					buf[k] = 1 << bit
					assert.Equal(t, k, s.Forward(buf))
					assert.Equal(t, 63-k, s.Backward(buf))
				}
				buf[k] = 0
			}
		})
	}
}

func BenchmarkForwardZero(b *testing.B) {
	buf := make([]byte, 128<<10)
	for name, s := range scanners() {
		b.Run(name, func(b *testing.B) {
			b.SetBytes(int64(len(buf)))
			for i := 0; i < b.N; i++ {
				_ = s.Forward(buf)
			}
		})
	}
}
