package hashing

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// Algorithm identifies one digest. Values are bit flags so a selection fits in one Algorithm.
type Algorithm uint8

const (
	MD5 Algorithm = 1 << iota
	SHA1
	SHA256
	SHA384
	SHA512
	BLAKE2b
	BLAKE3

	all = MD5 | SHA1 | SHA256 | SHA384 | SHA512 | BLAKE2b | BLAKE3
)

// ordered is the reporting order of a selection.
var ordered = []Algorithm{MD5, SHA1, SHA256, SHA384, SHA512, BLAKE2b, BLAKE3}

func (a Algorithm) String() string {
	switch a {
	case MD5:
		return "MD5"
	case SHA1:
		return "SHA1"
	case SHA256:
		return "SHA256"
	case SHA384:
		return "SHA384"
	case SHA512:
		return "SHA512"
	case BLAKE2b:
		return "BLAKE2b"
	case BLAKE3:
		return "BLAKE3"
	}
	if a == 0 {
		return "none"
	}
	names := make([]string, 0, len(ordered))
	for _, x := range a.Split() {
		names = append(names, x.String())
	}
	return strings.Join(names, "+")
}

// Size is the digest length in bytes of a single algorithm.
func (a Algorithm) Size() int {
	switch a {
	case MD5:
		return md5.Size
	case SHA1:
		return sha1.Size
	case SHA256:
		return sha256.Size
	case SHA384:
		return sha512.Size384
	case SHA512:
		return sha512.Size
	case BLAKE2b:
		return blake2b.Size
	case BLAKE3:
		return 32
	}
	return 0
}

// New returns a fresh running state for a single algorithm.
func (a Algorithm) New() hash.Hash {
	switch a {
	case MD5:
		return md5.New()
	case SHA1:
		return sha1.New()
	case SHA256:
		return sha256.New()
	case SHA384:
		return sha512.New384()
	case SHA512:
		return sha512.New()
	case BLAKE2b:
		h, _ := blake2b.New512(nil) // only fails for oversized keys
		return h
	case BLAKE3:
		return blake3.New()
	}
	panic(fmt.Sprintf("hashing: no single algorithm %#x", uint8(a)))
}

// Split expands a selection into single algorithms in reporting order.
func (a Algorithm) Split() []Algorithm {
	var out []Algorithm
	for _, x := range ordered {
		if a&x != 0 {
			out = append(out, x)
		}
	}
	return out
}

// Valid reports whether a only contains known algorithms.
func (a Algorithm) Valid() bool { return a&^all == 0 }

// Parse maps a name such as "sha256", "SHA-256" or "blake3" to an algorithm.
func Parse(name string) (Algorithm, error) {
	n := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "-", ""))
	switch n {
	case "md5":
		return MD5, nil
	case "sha1":
		return SHA1, nil
	case "sha256":
		return SHA256, nil
	case "sha384":
		return SHA384, nil
	case "sha512":
		return SHA512, nil
	case "blake2b", "blake2b512":
		return BLAKE2b, nil
	case "blake3":
		return BLAKE3, nil
	}
	return 0, fmt.Errorf("unknown hash algorithm %q", name)
}

// ParseList combines names into one selection. Entries may themselves be comma separated.
func ParseList(names []string) (Algorithm, error) {
	var sel Algorithm
	for _, item := range names {
		for _, name := range strings.Split(item, ",") {
			if strings.TrimSpace(name) == "" {
				continue
			}
			a, err := Parse(name)
			if err != nil {
				return 0, err
			}
			sel |= a
		}
	}
	return sel, nil
}
