package imaging

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"mkimg/hashing"
	"mkimg/ledger"
	"mkimg/split"
)

// Summary is the YAML record of a finished job.
type Summary struct {
	JobID      string    `yaml:"job_id"`
	Started    time.Time `yaml:"started"`
	Finished   time.Time `yaml:"finished"`
	State      State     `yaml:"state"`
	Exit       ExitCode  `yaml:"exit"`
	Error      string    `yaml:"error,omitempty"`
	Source     string    `yaml:"source"`
	SourceSize int64     `yaml:"source_size"`
	Skip       int64     `yaml:"skip,omitempty"`
	Length     int64     `yaml:"length"`
	SectorSize int       `yaml:"sector_size"`

	Destination  string   `yaml:"destination,omitempty"`
	OutputOffset int64    `yaml:"output_offset,omitempty"`
	SplitFormat  string   `yaml:"split_format,omitempty"`
	Parts        []string `yaml:"parts,omitempty"`

	Stats      SummaryStats    `yaml:"stats"`
	WindowSize int64           `yaml:"window_size,omitempty"`
	Hashes     []SummaryHash   `yaml:"hashes,omitempty"`
	BadSectors []ledger.Record `yaml:"bad_sectors,omitempty"`
}

// SummaryStats are the final counters.
type SummaryStats struct {
	BytesRead        int64   `yaml:"bytes_read"`
	BytesWritten     int64   `yaml:"bytes_written"`
	SparseBytes      int64   `yaml:"sparse_bytes,omitempty"`
	SectorsProcessed uint64  `yaml:"sectors_processed"`
	SectorsTotal     uint64  `yaml:"sectors_total"`
	BadSectors       uint64  `yaml:"bad_sectors"`
	RecoveredSectors uint64  `yaml:"recovered_sectors"`
	Elapsed          string  `yaml:"elapsed"`
	RateBytesPerSec  float64 `yaml:"rate_bytes_per_sec"`
}

// SummaryHash is one algorithm's digests in hex.
type SummaryHash struct {
	Algorithm string          `yaml:"algorithm"`
	Digest    string          `yaml:"digest"`
	Windows   []SummaryWindow `yaml:"windows,omitempty"`
}

// SummaryWindow is one window digest.
type SummaryWindow struct {
	Offset int64  `yaml:"offset"`
	Length int64  `yaml:"length"`
	Digest string `yaml:"digest"`
}

// Summary describes the current run.
func (j *Job) Summary() Summary {
	s := Summary{
		JobID:       j.id.String(),
		Started:     j.started,
		Finished:    j.finished,
		State:       j.state,
		Exit:        j.exit,
		Source:      j.sourceName,
		SourceSize:  j.size,
		Skip:        j.start,
		Length:      j.length,
		SectorSize:  j.cfg.Input.SectorSize,
		Destination: j.cfg.Output.Path,
		Parts:       j.Parts(),
		WindowSize:  j.sel.WindowSize,
		BadSectors:  j.ledger.Records(),
		Stats: SummaryStats{
			BytesRead:        j.stats.BytesRead,
			BytesWritten:     j.stats.BytesWritten,
			SparseBytes:      j.stats.SparseBytes,
			SectorsProcessed: j.stats.SectorsProcessed,
			SectorsTotal:     j.stats.SectorsTotal,
			BadSectors:       j.stats.BadSectors,
			RecoveredSectors: j.stats.RecoveredSectors,
			Elapsed:          j.finished.Sub(j.started).String(),
			RateBytesPerSec:  j.stats.Rate,
		},
	}
	if j.err != nil {
		s.Error = j.err.Error()
	}
	if j.cfg.Output.SplitSize > 0 {
		s.SplitFormat = j.cfg.Output.SplitFormat
	} else {
		s.OutputOffset = j.outStart
	}
	for _, r := range j.results {
		h := SummaryHash{Algorithm: r.Algorithm.String(), Digest: r.Hex()}
		for _, w := range r.Windows {
			h.Windows = append(h.Windows, SummaryWindow{Offset: w.Offset, Length: w.Length, Digest: w.Hex()})
		}
		s.Hashes = append(s.Hashes, h)
	}
	return s
}

// Results decodes the recorded digests.
func (s Summary) Results() (hashing.Selection, []hashing.Result, error) {
	sel := hashing.Selection{WindowSize: s.WindowSize}
	var out []hashing.Result
	for _, h := range s.Hashes {
		a, err := hashing.Parse(h.Algorithm)
		if err != nil {
			return sel, nil, err
		}
		sum, err := hex.DecodeString(h.Digest)
		if err != nil {
			return sel, nil, fmt.Errorf("%s digest: %w", h.Algorithm, err)
		}
		r := hashing.Result{Algorithm: a, Sum: sum}
		for _, w := range h.Windows {
			ws, err := hex.DecodeString(w.Digest)
			if err != nil {
				return sel, nil, fmt.Errorf("%s window at %d: %w", h.Algorithm, w.Offset, err)
			}
			r.Windows = append(r.Windows, hashing.Digest{Offset: w.Offset, Length: w.Length, Sum: ws})
		}
		sel.Algorithms |= a
		out = append(out, r)
	}
	return sel, out, nil
}

// WriteSummary stores s as YAML at path.
func WriteSummary(path string, s Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		f.Close()
		return fmt.Errorf("encode summary: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadSummary reads a summary written by WriteSummary.
func LoadSummary(path string) (Summary, error) {
	var s Summary
	b, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("parse summary %s: %w", path, err)
	}
	return s, nil
}

// VerifySummary re-hashes the image a summary describes and compares digests.
func VerifySummary(ctx context.Context, s Summary) error {
	sel, want, err := s.Results()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	if len(want) == 0 {
		return fmt.Errorf("%w: summary has no digests", ErrInvalidParameter)
	}
	if len(s.Parts) == 0 {
		return fmt.Errorf("%w: summary lists no output files", ErrInvalidParameter)
	}

	var r io.Reader
	if s.SplitFormat != "" {
		sr := split.NewReader(s.Parts)
		defer sr.Close()
		r = sr
	} else {
		f, err := os.Open(s.Parts[0])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotOpenable, err)
		}
		defer f.Close()
		r = io.NewSectionReader(f, s.OutputOffset, s.Stats.BytesWritten)
	}
	return VerifyStream(ctx, r, sel, want, s.Stats.BytesWritten)
}
