package hashing

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBytes(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func feed(t *testing.T, e *Engine, data []byte, chunk int) []Result {
	t.Helper()
	for len(data) > 0 {
		k := chunk
		if k > len(data) {
			k = len(data)
		}
		n, err := e.Write(data[:k])
		require.NoError(t, err)
		require.Equal(t, k, n)
		data = data[k:]
	}
	return e.Finalize()
}

func TestWholeImageMatchesStdlib(t *testing.T) {
	data := randomBytes(100_003, 1)
	e, err := NewEngine(Selection{Algorithms: MD5 | SHA256})
	require.NoError(t, err)

	res := feed(t, e, data, 4096)
	require.Len(t, res, 2)

	md := md5.Sum(data)
	sh := sha256.Sum256(data)
	assert.Equal(t, MD5, res[0].Algorithm)
	assert.Equal(t, md[:], res[0].Sum)
	assert.Equal(t, hex.EncodeToString(md[:]), res[0].Hex())
	assert.Equal(t, SHA256, res[1].Algorithm)
	assert.Equal(t, sh[:], res[1].Sum)
	assert.Len(t, res[1].Hex(), 2*sha256.Size)
	assert.Empty(t, res[0].Windows)
}

func TestAllAlgorithmsDigestLength(t *testing.T) {
	e, err := NewEngine(Selection{Algorithms: all})
	require.NoError(t, err)
	res := feed(t, e, []byte("abc"), 1)
	require.Len(t, res, len(ordered))
	for i, r := range res {
		assert.Equal(t, ordered[i], r.Algorithm)
		assert.Len(t, r.Sum, r.Algorithm.Size(), r.Algorithm.String())
		assert.Equal(t, r.Hex(), hex.EncodeToString(Sum(r.Algorithm, []byte("abc"))))
	}
}

func TestWindowCountAndContent(t *testing.T) {
	tests := []struct {
		name   string
		n      int
		window int64
		want   int
	}{
		{"short tail", 10_000, 4096, 3},
		{"smaller than window", 100, 4096, 1},
		{"exact multiple", 8192, 4096, 2},
		{"one byte windows", 5, 1, 5},
		{"empty stream", 0, 4096, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := randomBytes(tt.n, int64(tt.n))
			e, err := NewEngine(Selection{Algorithms: SHA1, WindowSize: tt.window})
			require.NoError(t, err)
			res := feed(t, e, data, 777)
			require.Len(t, res, 1)
			wins := res[0].Windows
			require.Len(t, wins, tt.want)

			var off int64
			for _, w := range wins {
				assert.Equal(t, off, w.Offset)
				end := off + w.Length
				assert.Equal(t, Sum(SHA1, data[off:end]), w.Sum)
				off = end
			}
			assert.Equal(t, int64(tt.n), off)
		})
	}
}

func TestDeterministicAcrossChunking(t *testing.T) {
	data := randomBytes(50_000, 7)
	sel := Selection{Algorithms: MD5 | SHA512 | BLAKE3, WindowSize: 3000}

	a, err := NewEngine(sel)
	require.NoError(t, err)
	b, err := NewEngine(sel)
	require.NoError(t, err)

	assert.Equal(t, feed(t, a, data, 1), feed(t, b, data, 65536))
}

func TestFinalizeIdempotentAndReset(t *testing.T) {
	e, err := NewEngine(Selection{Algorithms: SHA256, WindowSize: 2})
	require.NoError(t, err)
	_, _ = e.Write([]byte("hello"))
	first := e.Finalize()
	assert.Equal(t, first, e.Finalize())

	_, err = e.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrFinalized)

	e.Reset()
	assert.Zero(t, e.Bytes())
	_, err = e.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, first, e.Finalize())
}

func TestNewEngineRejects(t *testing.T) {
	_, err := NewEngine(Selection{Algorithms: 0x80})
	assert.Error(t, err)
	_, err = NewEngine(Selection{Algorithms: MD5, WindowSize: -1})
	assert.Error(t, err)

	e, err := NewEngine(Selection{})
	require.NoError(t, err)
	assert.False(t, e.Active())
	assert.Empty(t, feed(t, e, []byte("data"), 2))
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      []string
		want    Algorithm
		wantErr bool
	}{
		{[]string{"md5"}, MD5, false},
		{[]string{"SHA-256", "sha1"}, SHA256 | SHA1, false},
		{[]string{"md5,sha512", ""}, MD5 | SHA512, false},
		{[]string{"blake2b", "BLAKE3"}, BLAKE2b | BLAKE3, false},
		{[]string{"crc32"}, 0, true},
	}
	for _, tt := range tests {
		got, err := ParseList(tt.in)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	assert.Equal(t, "MD5+SHA256", (MD5 | SHA256).String())
	assert.Equal(t, "none", Algorithm(0).String())
}

func TestWriterInterface(t *testing.T) {
	e, err := NewEngine(Selection{Algorithms: MD5})
	require.NoError(t, err)
	_, err = bytes.NewReader([]byte("abc")).WriteTo(e)
	require.NoError(t, err)
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", e.Finalize()[0].Hex())
}
