package recovery

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mkimg/ledger"
)

// flakySource serves data but fails reads touching a bad region. failures counts
// down per failed read; a negative count never heals.
type flakySource struct {
	data    []byte
	regions []*badRegion
	err     error
	reads   int
}

type badRegion struct {
	off, len int64
	failures int
}

func (s *flakySource) ReadAt(p []byte, off int64) (int, error) {
	s.reads++
	if s.err != nil {
		return 0, s.err
	}
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	end := off + int64(len(p))
	for _, r := range s.regions {
		if r.failures == 0 || r.off >= end || r.off+r.len <= off {
			continue
		}
		if r.failures > 0 {
			r.failures--
		}
		good := r.off - off
		if good < 0 {
			good = 0
		}
		return copy(p[:good], s.data[off:]), syscall.EIO
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i%251) + 1
	}
	return b
}

func newReader(t *testing.T, src io.ReaderAt, p Policy) (*Reader, *ledger.Ledger, *[]time.Duration) {
	t.Helper()
	var slept []time.Duration
	l := ledger.New()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r, err := NewReader(src, p, 512, l,
		WithSleep(func(d time.Duration) { slept = append(slept, d) }),
		WithClock(func() time.Time { return ts }))
	require.NoError(t, err)
	return r, l, &slept
}

func TestCleanRead(t *testing.T) {
	src := &flakySource{data: pattern(8192)}
	r, l, _ := newReader(t, src, DefaultPolicy())

	buf := make([]byte, 4096)
	n, out, err := r.ReadRecovering(buf, 1024)
	require.NoError(t, err)
	assert.Equal(t, 4096, n)
	assert.Equal(t, Success, out)
	assert.Equal(t, src.data[1024:5120], buf)
	assert.Zero(t, l.Len())
	assert.Equal(t, 1, src.reads)
}

func TestUnrecoverableUnitIsFilled(t *testing.T) {
	data := pattern(16384)
	src := &flakySource{data: data, regions: []*badRegion{{off: 4096, len: 512, failures: -1}}}
	p := DefaultPolicy()
	p.FillByte = 0xAA
	r, l, slept := newReader(t, src, p)

	buf := make([]byte, 8192)
	n, out, err := r.ReadRecovering(buf, 2048)
	require.NoError(t, err)
	assert.Equal(t, 8192, n)
	assert.Equal(t, RecoveredWithErrors, out)

	// bytes before and after the bad unit are genuine
	assert.Equal(t, data[2048:4096], buf[:2048])
	assert.Equal(t, bytes.Repeat([]byte{0xAA}, 512), buf[2048:2560])
	assert.Equal(t, data[4608:10240], buf[2560:])

	require.Equal(t, 1, l.Len())
	rec := l.Records()[0]
	assert.Equal(t, uint64(8), rec.Sector)
	assert.Equal(t, int64(4096), rec.Offset)
	assert.Equal(t, ledger.Code(syscall.EIO), rec.Code)
	assert.Equal(t, 3, rec.Retries)
	assert.Equal(t, []time.Duration{DefaultRetryDelay, DefaultRetryDelay, DefaultRetryDelay}, *slept)
	assert.Zero(t, r.Recovered())
}

func TestTransientErrorRecovered(t *testing.T) {
	data := pattern(4096)
	// fails the full read and the first unit attempt, then heals
	src := &flakySource{data: data, regions: []*badRegion{{off: 1024, len: 512, failures: 2}}}
	r, l, slept := newReader(t, src, DefaultPolicy())

	buf := make([]byte, 4096)
	n, out, err := r.ReadRecovering(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 4096, n)
	assert.Equal(t, Success, out)
	assert.Equal(t, data, buf)
	assert.Zero(t, l.Len())
	assert.Equal(t, uint64(1), r.Recovered())
	assert.Len(t, *slept, 1)
}

func TestNoFillLeavesBuffer(t *testing.T) {
	src := &flakySource{data: pattern(2048), regions: []*badRegion{{off: 512, len: 512, failures: -1}}}
	p := DefaultPolicy()
	p.FillOnFailure = false
	p.FillByte = 0xFF
	p.MaxRetries = 0
	r, l, slept := newReader(t, src, p)

	buf := bytes.Repeat([]byte{0x11}, 2048)
	_, out, err := r.ReadRecovering(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, RecoveredWithErrors, out)
	assert.Equal(t, bytes.Repeat([]byte{0x11}, 512), buf[512:1024])
	require.Equal(t, 1, l.Len())
	assert.Zero(t, l.Records()[0].Retries)
	assert.Empty(t, *slept)
}

func TestRecoveryDisabled(t *testing.T) {
	data := pattern(4096)
	src := &flakySource{data: data, regions: []*badRegion{{off: 1536, len: 512, failures: -1}}}
	p := DefaultPolicy()
	p.Enabled = false
	r, l, _ := newReader(t, src, p)

	buf := make([]byte, 4096)
	n, out, err := r.ReadRecovering(buf, 0)
	assert.Equal(t, ReadError, out)
	assert.ErrorIs(t, err, syscall.EIO)
	assert.Equal(t, 1536, n)
	assert.Equal(t, data[:1536], buf[:n])
	assert.Zero(t, l.Len())
}

func TestFatalSource(t *testing.T) {
	for _, e := range []error{fs.ErrClosed, syscall.ESPIPE, ErrNotSeekable} {
		src := &flakySource{data: pattern(1024), err: e}
		r, _, _ := newReader(t, src, DefaultPolicy())
		_, out, err := r.ReadRecovering(make([]byte, 512), 0)
		assert.Equal(t, Fatal, out)
		assert.True(t, errors.Is(err, e))
	}
}

func TestMultipleBadUnitsSectorNumbers(t *testing.T) {
	src := &flakySource{data: pattern(1 << 16), regions: []*badRegion{
		{off: 1024, len: 512, failures: -1},
		{off: 3072, len: 1024, failures: -1},
	}}
	p := DefaultPolicy()
	p.MaxRetries = 1
	r, l, _ := newReader(t, src, p)

	buf := make([]byte, 8192)
	_, out, err := r.ReadRecovering(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, RecoveredWithErrors, out)
	var sectors []uint64
	for _, rec := range l.Records() {
		sectors = append(sectors, rec.Sector)
	}
	assert.Equal(t, []uint64{2, 6, 7}, sectors)
}

func TestHardBlockSmallerThanSector(t *testing.T) {
	src := &flakySource{data: pattern(16384), regions: []*badRegion{{off: 4096, len: 4096, failures: -1}}}
	p := DefaultPolicy()
	p.SoftBlockSize = 8192
	p.HardBlockSize = 512
	p.MaxRetries = 0
	_, err := NewReader(src, p, 4096, ledger.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple of sector size")

	p.HardBlockSize = 4096
	l := ledger.New()
	r, err := NewReader(src, p, 4096, l, WithSleep(func(time.Duration) {}))
	require.NoError(t, err)
	buf := make([]byte, 8192)
	_, out, err := r.ReadRecovering(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, RecoveredWithErrors, out)
	require.Equal(t, 1, l.Len())
	assert.Equal(t, uint64(1), l.Records()[0].Sector)
}

func TestPolicyCheck(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Check())

	p := DefaultPolicy()
	p.HardBlockSize = 1000
	assert.Error(t, p.Check())

	p = DefaultPolicy()
	p.HardBlockSize = p.SoftBlockSize * 2
	assert.Error(t, p.Check())

	p = DefaultPolicy()
	p.MaxRetries = -1
	assert.Error(t, p.Check())

	_, err := NewReader(nil, DefaultPolicy(), 512, nil)
	assert.ErrorIs(t, err, ErrNotSeekable)
	_, err = NewReader(bytes.NewReader(nil), DefaultPolicy(), 0, nil)
	assert.Error(t, err)
}
