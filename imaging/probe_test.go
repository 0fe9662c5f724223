package imaging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMidpoint(t *testing.T) {
	assert.Equal(t, int64(1024), midpoint(0, 2048, 512))
	assert.Equal(t, int64(1024), midpoint(512, 2048, 512))
	assert.Equal(t, int64(5), midpoint(0, 10, 1))
}

func TestProbeByReading(t *testing.T) {
	for _, n := range []int{0, 1, 511, 512, 513, 4096, 100_000, 1<<20 + 7} {
		r := unsized{bytes.NewReader(make([]byte, n))}
		got, err := SizeOf(r)
		require.NoError(t, err)
		assert.Equal(t, int64(n), got, "size %d", n)
	}
}

func TestSizeOf(t *testing.T) {
	got, err := SizeOf(bytes.NewReader(make([]byte, 12345)))
	require.NoError(t, err)
	assert.Equal(t, int64(12345), got)

	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, make([]byte, 777), 0o644))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	got, err = SizeOf(f)
	require.NoError(t, err)
	assert.Equal(t, int64(777), got)
	assert.Zero(t, SectorSizeOf(f), "regular files have no device sector size")
}

func TestHuman(t *testing.T) {
	assert.Equal(t, "512 B", human(512))
	assert.Equal(t, "4.0 MiB", human(4<<20))
	assert.Equal(t, "1.5 KiB", human(1536))
}
