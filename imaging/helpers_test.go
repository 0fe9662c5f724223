package imaging

import (
	"crypto/sha256"
	"io"
	"math/rand"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// memSource is an in-memory device. Reads overlapping a bad region fail with EIO
// and return the bytes before it.
type memSource struct {
	data []byte
	bad  [][2]int64 // [offset, length)
	err  error
}

func (m *memSource) Size() int64 { return int64(len(m.data)) }

func (m *memSource) ReadAt(p []byte, off int64) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	end := off + int64(len(p))
	for _, b := range m.bad {
		if b[0] < end && b[0]+b[1] > off {
			good := max(b[0]-off, 0)
			return copy(p[:good], m.data[off:]), syscall.EIO
		}
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// unsized hides Size so the read probe is used.
type unsized struct{ r io.ReaderAt }

func (u unsized) ReadAt(p []byte, off int64) (int, error) { return u.r.ReadAt(p, off) }

func randomData(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

// fakeClock advances one second per call.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func noSleep(time.Duration) {}

func sha256Of(b []byte) []byte {
	s := sha256.Sum256(b)
	return s[:]
}

func newJob(t *testing.T, cfg Config, src io.ReaderAt, opts ...Option) *Job {
	t.Helper()
	opts = append([]Option{WithSource(src, "mem"), WithClock(newClock().Now), WithSleep(noSleep)}, opts...)
	j, err := New(cfg, opts...)
	require.NoError(t, err)
	return j
}
