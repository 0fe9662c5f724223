// Package ledger keeps the append-only list of sectors that could not be read,
// and exports it as a plain text map.
package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Code is a floppy-controller style status code recorded per bad sector.
type Code int

const (
	CodeOK           Code = 0x00
	CodeInvalid      Code = 0x01
	CodeCRC          Code = 0x10
	CodeSeek         Code = 0x40
	CodeIO           Code = 0x81
	CodeHashMismatch Code = 0x82
	CodeSizeMismatch Code = 0x83
	CodeAllocation   Code = 0x84
	CodeCancelled    Code = 0x85
)

// CodeOf maps a read error to a ledger code. Errno values are kept as is.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return Code(errno)
	}
	var coded interface{ LedgerCode() Code }
	if errors.As(err, &coded) {
		return coded.LedgerCode()
	}
	return CodeIO
}

// Record describes one unrecoverable sector.
type Record struct {
	Sector  uint64    `yaml:"sector"`
	Offset  int64     `yaml:"offset"`
	Code    Code      `yaml:"code"`
	Retries int       `yaml:"retries"`
	Time    time.Time `yaml:"time"`
}

// Ledger is an ordered, append-only list of records. Not safe for concurrent use.
type Ledger struct {
	records []Record
}

// New returns an empty ledger.
func New() *Ledger { return &Ledger{} }

// Add appends r.
func (l *Ledger) Add(r Record) { l.records = append(l.records, r) }

// Len returns the number of records.
func (l *Ledger) Len() int { return len(l.records) }

// Records returns a copy of all records in discovery order.
func (l *Ledger) Records() []Record { return append([]Record(nil), l.records...) }

// Contains reports whether sector has a record.
func (l *Ledger) Contains(sector uint64) bool {
	for _, r := range l.records {
		if r.Sector == sector {
			return true
		}
	}
	return false
}

// Reset drops every record.
func (l *Ledger) Reset() { l.records = nil }

// Header is the first line of every exported map.
const Header = "# mkimg bad sector map"

// WriteMap writes the map:
//
//	# mkimg bad sector map
//	# Source: /dev/sdb
//	# Format: sector_number,byte_offset,error_code
//	6144,3145728,129
//	# Total: 1 bad sectors
func (l *Ledger) WriteMap(w io.Writer, source string, extra ...string) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	put := func(format string, a ...any) {
		k, _ := fmt.Fprintf(bw, format, a...)
		n += int64(k)
	}
	put("%s\n", Header)
	put("# Source: %s\n", source)
	for _, e := range extra {
		put("# %s\n", e)
	}
	put("# Format: sector_number,byte_offset,error_code\n")
	for _, r := range l.records {
		put("%d,%d,%d\n", r.Sector, r.Offset, int(r.Code))
	}
	put("# Total: %d bad sectors\n", len(l.records))
	return n, bw.Flush()
}

// Export writes the map to path. A ".zst" suffix compresses it.
func (l *Ledger) Export(path, source string, extra ...string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create bad sector map: %w", err)
	}
	var w io.Writer = f
	var zw *zstd.Encoder
	if strings.HasSuffix(path, ".zst") {
		zw, err = zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			f.Close()
			return fmt.Errorf("zstd writer: %w", err)
		}
		w = zw
	}
	if _, err := l.WriteMap(w, source, extra...); err != nil {
		f.Close()
		return fmt.Errorf("write bad sector map: %w", err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			f.Close()
			return fmt.Errorf("finish zstd stream: %w", err)
		}
	}
	return f.Close()
}

// Parse reads a map produced by WriteMap. Comment lines are skipped and the
// timestamps and retry counts of the returned records are zero.
func Parse(r io.Reader) ([]Record, error) {
	var out []Record
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var rec Record
		var code int
		if _, err := fmt.Sscanf(text, "%d,%d,%d", &rec.Sector, &rec.Offset, &code); err != nil {
			return out, fmt.Errorf("bad sector map line %d: %w", line, err)
		}
		rec.Code = Code(code)
		out = append(out, rec)
	}
	return out, sc.Err()
}

// Open parses the map at path, decompressing ".zst" files.
func Open(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if strings.HasSuffix(path, ".zst") {
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return Parse(zr)
	}
	return Parse(f)
}
