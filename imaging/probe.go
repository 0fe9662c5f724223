package imaging

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Sizer is implemented by sources that know their length (bytes.Reader,
// io.SectionReader).
type Sizer interface {
	Size() int64
}

// maxProbe bounds the read-probe search to 16 EiB / 2.
const maxProbe = int64(1) << 62

// ProbeSize returns the byte length of a regular file or block device. Devices are
// asked through the platform ioctl, then by seeking to the end, then by searching
// for the last readable byte.
func ProbeSize(f *os.File) (int64, error) {
	size, _, err := probeSize(f)
	return size, err
}

func probeSize(f *os.File) (int64, bool, error) {
	st, err := f.Stat()
	if err != nil {
		return 0, false, fmt.Errorf("stat %s: %w", f.Name(), err)
	}
	if st.Mode().IsRegular() {
		return st.Size(), false, nil
	}
	if size, err := deviceSize(f); err == nil && size > 0 {
		return size, false, nil
	}
	if size, err := f.Seek(0, io.SeekEnd); err == nil && size > 0 {
		_, _ = f.Seek(0, io.SeekStart)
		return size, false, nil
	}
	size, err := probeByReading(f, DefaultSectorSize)
	return size, true, err
}

// SizeOf returns the length of any positional source.
//
// Sources that report no size are measured by a binary search for the last
// readable sector, which takes the first unreadable offset it lands on as the
// end of the media. An unreadable region in the second half of such a source
// therefore yields a short length and a short image.
func SizeOf(r io.ReaderAt) (int64, error) {
	size, _, err := sizeOf(r)
	return size, err
}

// sizeOf also reports whether the length came from searching by reading.
func sizeOf(r io.ReaderAt) (int64, bool, error) {
	switch v := r.(type) {
	case *os.File:
		return probeSize(v)
	case Sizer:
		return v.Size(), false, nil
	}
	size, err := probeByReading(r, DefaultSectorSize)
	return size, true, err
}

// SectorSizeOf asks a device for its logical sector size. Non-devices and
// platforms without the query return 0.
func SectorSizeOf(f *os.File) int {
	st, err := f.Stat()
	if err != nil || st.Mode().IsRegular() {
		return 0
	}
	n, err := deviceSectorSize(f)
	if err != nil {
		return 0
	}
	return n
}

// midpoint returns the block-aligned middle of [a, b).
func midpoint(a, b, blksz int64) int64 {
	ab := a / blksz
	bb := b / blksz
	return ((bb-ab)/2 + ab) * blksz
}

// probeByReading finds the length of r by locating the last readable byte.
func probeByReading(r io.ReaderAt, blksz int64) (int64, error) {
	one := make([]byte, 1)
	readable := func(off int64) bool {
		n, _ := r.ReadAt(one, off)
		return n == 1
	}
	if !readable(0) {
		return 0, nil
	}

	lo, hi := int64(0), blksz
	for readable(hi) {
		lo = hi
		if hi >= maxProbe {
			return 0, errors.New("size probe: source has no readable end")
		}
		hi *= 2
	}
	for hi-lo > blksz {
		m := midpoint(lo, hi, blksz)
		if readable(m) {
			lo = m
		} else {
			hi = m
		}
	}
	for hi-lo > 1 {
		m := lo + (hi-lo)/2
		if readable(m) {
			lo = m
		} else {
			hi = m
		}
	}
	return lo + 1, nil
}
