package imaging

import (
	"fmt"
	"io"
	"os"

	"mkimg/split"
)

// sink receives the image stream. Skip advances over n zero bytes, leaving a hole
// where the destination supports it.
type sink interface {
	Write(p []byte) (int, error)
	Skip(n int64) (int64, error)
	Close() error
	// Parts lists the files that hold the stream.
	Parts() []string
}

type discardSink struct{}

func (discardSink) Write(p []byte) (int, error) { return len(p), nil }
func (discardSink) Skip(n int64) (int64, error) { return n, nil }
func (discardSink) Close() error                { return nil }
func (discardSink) Parts() []string             { return nil }

// fileSink writes a single destination. Holes are only left in a fresh regular
// file. Appending, writing at an offset, or writing a device spells zeros out so
// old contents never show through.
type fileSink struct {
	f        *os.File
	name     string
	start    int64
	pos      int64
	holes    bool
	tailHole bool
	sync     bool
	zeros    []byte
}

func openFileSink(cfg OutputConfig) (*fileSink, error) {
	flags := os.O_CREATE | os.O_WRONLY
	fresh := !cfg.Append && cfg.Skip == 0
	if fresh {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(cfg.Path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open output %s: %v", ErrNotOpenable, cfg.Path, err)
	}
	s := &fileSink{f: f, name: cfg.Path}
	switch {
	case cfg.Append:
		s.start, err = f.Seek(0, io.SeekEnd)
	case cfg.Skip > 0:
		s.start, err = f.Seek(cfg.Skip, io.SeekStart)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: position output %s: %v", ErrNotSeekable, cfg.Path, err)
	}
	if st, err := f.Stat(); err == nil {
		m := st.Mode()
		s.holes = m.IsRegular() && fresh
		// Character devices and pipes reject fsync.
		s.sync = m.IsRegular() || m&os.ModeDevice != 0 && m&os.ModeCharDevice == 0
	}
	return s, nil
}

func (s *fileSink) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	s.pos += int64(n)
	if n > 0 {
		s.tailHole = false
	}
	return n, err
}

func (s *fileSink) Skip(n int64) (int64, error) {
	if !s.holes {
		if s.zeros == nil {
			s.zeros = make([]byte, 64<<10)
		}
		var done int64
		for done < n {
			k := min(n-done, int64(len(s.zeros)))
			w, err := s.Write(s.zeros[:k])
			done += int64(w)
			if err != nil {
				return done, err
			}
		}
		return done, nil
	}
	if _, err := s.f.Seek(n, io.SeekCurrent); err != nil {
		return 0, err
	}
	s.pos += n
	s.tailHole = true
	return n, nil
}

func (s *fileSink) Close() error {
	if s.f == nil {
		return nil
	}
	f := s.f
	s.f = nil
	if s.tailHole {
		if err := f.Truncate(s.start + s.pos); err != nil {
			f.Close()
			return err
		}
	}
	if s.sync {
		if err := f.Sync(); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

func (s *fileSink) Parts() []string { return []string{s.name} }

// openSink picks the destination for cfg.
func openSink(cfg OutputConfig) (sink, int64, error) {
	switch {
	case cfg.Path == "":
		return discardSink{}, 0, nil
	case cfg.SplitSize > 0:
		s, err := split.NewSink(cfg.Path, cfg.SplitFormat, cfg.SplitSize)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
		}
		return s, 0, nil
	}
	s, err := openFileSink(cfg)
	if err != nil {
		return nil, 0, err
	}
	return s, s.start, nil
}
