package split

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// Discover returns the existing parts of base in order, stopping at the first
// missing index.
func Discover(base, format string) ([]string, error) {
	capacity, err := Capacity(format)
	if err != nil {
		return nil, err
	}
	var parts []string
	for n := int64(0); n < capacity; n++ {
		name, _ := Name(base, format, n)
		if _, err := os.Stat(name); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				break
			}
			return parts, err
		}
		parts = append(parts, name)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("split: no parts found for %s", base)
	}
	return parts, nil
}

// Reader reads a list of part files back as one stream.
type Reader struct {
	paths []string
	cur   *os.File
}

// NewReader opens parts lazily, one at a time.
func NewReader(paths []string) *Reader {
	return &Reader{paths: append([]string(nil), paths...)}
}

func (r *Reader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			if len(r.paths) == 0 {
				return 0, io.EOF
			}
			f, err := os.Open(r.paths[0])
			if err != nil {
				return 0, err
			}
			r.cur = f
			r.paths = r.paths[1:]
		}
		n, err := r.cur.Read(p)
		if err == io.EOF {
			r.cur.Close()
			r.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Close releases the currently open part.
func (r *Reader) Close() error {
	if r.cur == nil {
		return nil
	}
	err := r.cur.Close()
	r.cur = nil
	r.paths = nil
	return err
}
