package split

import (
	"bytes"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuffix(t *testing.T) {
	tests := []struct {
		format string
		n      int64
		want   string
	}{
		{"000", 0, "000"},
		{"000", 1, "001"},
		{"000", 999, "999"},
		{"00", 42, "42"},
		{"aaa", 0, "aaa"},
		{"aaa", 1, "aab"},
		{"aaa", 25, "aaz"},
		{"aaa", 26, "aba"},
		{"aaa", 26*26*26 - 1, "zzz"},
		{"a0", 10, "b0"},
		{"a0", 27, "c7"},
		{SchemeWIN, 0, "001"},
		{SchemeWIN, 998, "999"},
		{SchemeMAC, 0, "dmg"},
		{SchemeMAC, 1, "002.dmgpart"},
		{SchemeMAC, 998, "999.dmgpart"},
	}
	for _, tt := range tests {
		t.Run(tt.format+"/"+tt.want, func(t *testing.T) {
			got, err := Suffix(tt.format, tt.n)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSuffixCapacity(t *testing.T) {
	tests := []struct {
		format string
		cap    int64
	}{
		{"000", 1000},
		{"aaa", 17576},
		{"a0", 260},
		{SchemeWIN, 999},
		{SchemeMAC, 999},
	}
	for _, tt := range tests {
		c, err := Capacity(tt.format)
		require.NoError(t, err)
		assert.Equal(t, tt.cap, c, tt.format)

		_, err = Suffix(tt.format, tt.cap)
		assert.ErrorIs(t, err, ErrCapacity, tt.format)
		_, err = Suffix(tt.format, tt.cap-1)
		assert.NoError(t, err, tt.format)
	}
}

func TestValidateFormat(t *testing.T) {
	for _, bad := range []string{"", "win", "0b0", "a.a", "0000000000000"} {
		assert.ErrorIs(t, ValidateFormat(bad), ErrFormat, bad)
	}
	for _, ok := range []string{"0", "000", "aaa", "a00", SchemeMAC, SchemeWIN} {
		assert.NoError(t, ValidateFormat(ok), ok)
	}
}

func TestCheckCapacity(t *testing.T) {
	assert.NoError(t, CheckCapacity("0", 10, 100))
	assert.ErrorIs(t, CheckCapacity("0", 10, 101), ErrCapacity)
	assert.NoError(t, CheckCapacity(SchemeWIN, 1, 999))
	assert.ErrorIs(t, CheckCapacity(SchemeWIN, 1, 1000), ErrCapacity)
	assert.Equal(t, int64(3), PartsNeeded(10<<20, 4<<20))
	assert.Equal(t, int64(0), PartsNeeded(0, 4<<20))
}

func writeChunks(t *testing.T, s *Sink, data []byte, chunk int) {
	t.Helper()
	for off := 0; off < len(data); off += chunk {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		n, err := s.Write(data[off:end])
		require.NoError(t, err)
		require.Equal(t, end-off, n)
	}
}

func TestSinkRollover(t *testing.T) {
	tests := []struct {
		name   string
		n      int
		max    int64
		chunk  int
		format string
	}{
		{"exact multiple", 4096, 1024, 1000, "000"},
		{"short last", 5000, 1024, 333, SchemeWIN},
		{"tiny parts in one write", 100, 7, 100, "aa"},
		{"single part", 10, 1024, 3, SchemeMAC},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := filepath.Join(t.TempDir(), "img")
			data := make([]byte, tt.n)
			rand.New(rand.NewSource(int64(tt.n))).Read(data)

			s, err := NewSink(base, tt.format, tt.max)
			require.NoError(t, err)
			writeChunks(t, s, data, tt.chunk)
			require.NoError(t, s.Close())

			parts := s.Parts()
			require.Len(t, parts, int(PartsNeeded(int64(tt.n), tt.max)))
			for i, p := range parts {
				want, _ := Name(base, tt.format, int64(i))
				assert.Equal(t, want, p)
				st, err := os.Stat(p)
				require.NoError(t, err)
				if i < len(parts)-1 {
					assert.Equal(t, tt.max, st.Size())
				} else {
					assert.LessOrEqual(t, st.Size(), tt.max)
				}
			}

			found, err := Discover(base, tt.format)
			require.NoError(t, err)
			assert.Equal(t, parts, found)

			r := NewReader(parts)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			assert.True(t, bytes.Equal(data, got))
		})
	}
}

func TestSinkWinNames(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "disk")
	s, err := NewSink(base, SchemeWIN, 4)
	require.NoError(t, err)
	_, err = s.Write(make([]byte, 10))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Equal(t, []string{base + ".001", base + ".002", base + ".003"}, s.Parts())
	assert.Equal(t, int64(10), s.Written())
}

func TestSinkHoles(t *testing.T) {
	base := filepath.Join(t.TempDir(), "sparse")
	s, err := NewSink(base, "000", 8)
	require.NoError(t, err)

	_, err = s.Write([]byte("abc"))
	require.NoError(t, err)
	skipped, err := s.Skip(10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), skipped)
	_, err = s.Write([]byte("xy"))
	require.NoError(t, err)
	_, err = s.Skip(3) // ends on a hole, part must still be full length
	require.NoError(t, err)
	require.NoError(t, s.Close())

	want := append([]byte("abc"), make([]byte, 10)...)
	want = append(want, 'x', 'y', 0, 0, 0)
	r := NewReader(s.Parts())
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Len(t, s.Parts(), 3)
}

func TestSinkCapacityError(t *testing.T) {
	base := filepath.Join(t.TempDir(), "cap")
	s, err := NewSink(base, "0", 1)
	require.NoError(t, err)
	n, err := s.Write(make([]byte, 11))
	assert.ErrorIs(t, err, ErrCapacity)
	assert.Equal(t, 10, n)
	require.NoError(t, s.Close())
}

func TestNewSinkRejects(t *testing.T) {
	_, err := NewSink("", "000", 1)
	assert.Error(t, err)
	_, err = NewSink("x", "000", 0)
	assert.Error(t, err)
	_, err = NewSink("x", "bad!", 1)
	assert.ErrorIs(t, err, ErrFormat)
}
