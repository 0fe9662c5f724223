package split

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Sink writes a logical stream across part files, opening a new part when the
// current one holds maxBytes. Parts are created lazily so no empty part is left
// behind. A Sink is not safe for concurrent use.
type Sink struct {
	base     string
	format   string
	maxBytes int64

	cur      *os.File
	curBytes int64
	tailHole bool
	index    int64 // number of parts opened so far
	total    int64
	parts    []string
	closed   bool
}

// NewSink validates format and maxBytes. No file is created until the first write.
func NewSink(base, format string, maxBytes int64) (*Sink, error) {
	if base == "" {
		return nil, errors.New("split: empty base name")
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("split: part size must be positive, got %d", maxBytes)
	}
	if err := ValidateFormat(format); err != nil {
		return nil, err
	}
	return &Sink{base: base, format: format, maxBytes: maxBytes}, nil
}

// Parts lists the part files created so far, in order.
func (s *Sink) Parts() []string { return append([]string(nil), s.parts...) }

// Written is the logical stream length, holes included.
func (s *Sink) Written() int64 { return s.total }

// ensure makes sure a part with free room is open.
func (s *Sink) ensure() error {
	if s.closed {
		return os.ErrClosed
	}
	if s.cur != nil && s.curBytes < s.maxBytes {
		return nil
	}
	if err := s.closePart(); err != nil {
		return err
	}
	name, err := Name(s.base, s.format, s.index)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open part %s: %w", name, err)
	}
	s.cur = f
	s.curBytes = 0
	s.tailHole = false
	s.index++
	s.parts = append(s.parts, name)
	return nil
}

func (s *Sink) room(n int64) int64 {
	if r := s.maxBytes - s.curBytes; r < n {
		return r
	}
	return n
}

// Write places all of p, rolling over as many times as needed.
func (s *Sink) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		if err := s.ensure(); err != nil {
			return written, err
		}
		k := s.room(int64(len(p)))
		n, err := s.cur.Write(p[:k])
		written += n
		s.curBytes += int64(n)
		s.total += int64(n)
		if n > 0 {
			s.tailHole = false
		}
		if err != nil {
			return written, fmt.Errorf("write part %s: %w", s.parts[len(s.parts)-1], err)
		}
		p = p[k:]
	}
	return written, nil
}

// Skip advances the stream by n zero bytes without writing them.
func (s *Sink) Skip(n int64) (int64, error) {
	var skipped int64
	for n > 0 {
		if err := s.ensure(); err != nil {
			return skipped, err
		}
		k := s.room(n)
		if _, err := s.cur.Seek(k, io.SeekCurrent); err != nil {
			return skipped, fmt.Errorf("seek part %s: %w", s.parts[len(s.parts)-1], err)
		}
		s.curBytes += k
		s.total += k
		s.tailHole = true
		skipped += k
		n -= k
	}
	return skipped, nil
}

func (s *Sink) closePart() error {
	if s.cur == nil {
		return nil
	}
	f := s.cur
	s.cur = nil
	if s.tailHole {
		if err := f.Truncate(s.curBytes); err != nil {
			f.Close()
			return fmt.Errorf("extend part %s: %w", f.Name(), err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync part %s: %w", f.Name(), err)
	}
	return f.Close()
}

// Close flushes and closes the open part. It is safe to call more than once.
func (s *Sink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.closePart()
}
