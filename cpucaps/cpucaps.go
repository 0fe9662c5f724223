// Package cpucaps reports which vector widths the zero scanner may use.
package cpucaps

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sys/cpu"
)

// Width is the widest chunk the scanner is allowed to use.
type Width int

const (
	WidthNone   Width = iota // word-at-a-time only
	WidthNarrow              // 16-byte chunks (SSE2 / NEON class)
	WidthWide                // 32-byte chunks (AVX2 / SVE class)
)

func (w Width) String() string {
	switch w {
	case WidthWide:
		return "wide"
	case WidthNarrow:
		return "narrow"
	default:
		return "portable"
	}
}

// Bytes returns the chunk size scanned per step.
func (w Width) Bytes() int {
	switch w {
	case WidthWide:
		return 32
	case WidthNarrow:
		return 16
	default:
		return 8
	}
}

// Caps is an immutable snapshot of the vector features of the running CPU.
type Caps struct {
	Arch string
	SSE2 bool
	AVX2 bool
	NEON bool
	SVE  bool

	max    Width
	capped bool
}

// Width returns the widest usable scan width.
func (c Caps) Width() Width {
	w := WidthNone
	switch {
	case c.AVX2 || c.SVE:
		w = WidthWide
	case c.SSE2 || c.NEON:
		w = WidthNarrow
	}
	if c.capped && c.max < w {
		w = c.max
	}
	return w
}

// Cap returns a copy of c that never selects a width above max.
func (c Caps) Cap(max Width) Caps {
	c.max = max
	c.capped = true
	return c
}

func (c Caps) String() string {
	var feats []string
	for _, f := range []struct {
		name string
		on   bool
	}{{"sse2", c.SSE2}, {"avx2", c.AVX2}, {"neon", c.NEON}, {"sve", c.SVE}} {
		if f.on {
			feats = append(feats, f.name)
		}
	}
	if len(feats) == 0 {
		feats = append(feats, "none")
	}
	return fmt.Sprintf("%s [%s] scan=%s", c.Arch, strings.Join(feats, " "), c.Width())
}

// Probe queries the CPU directly. Most callers want Detect.
func Probe() Caps {
	return Caps{
		Arch: runtime.GOARCH,
		SSE2: cpu.X86.HasSSE2,
		AVX2: cpu.X86.HasAVX2,
		NEON: cpu.ARM64.HasASIMD,
		SVE:  cpu.ARM64.HasSVE,
	}
}

var detect = sync.OnceValue(Probe)

// Detect returns the process-wide capability snapshot, probing on first use.
func Detect() Caps { return detect() }
