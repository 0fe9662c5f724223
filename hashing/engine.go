// Package hashing runs several digest algorithms over one byte stream, keeping a
// whole-stream digest per algorithm and optional fixed-size window digests.
package hashing

import (
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
)

// Selection chooses the algorithms to run and the window size (0 disables windows).
type Selection struct {
	Algorithms Algorithm
	WindowSize int64
}

// Digest is one finished window.
type Digest struct {
	Offset int64
	Length int64
	Sum    []byte
}

// Hex returns the lowercase hex form of the digest.
func (d Digest) Hex() string { return hex.EncodeToString(d.Sum) }

// Result is the final output of one algorithm.
type Result struct {
	Algorithm Algorithm
	Sum       []byte
	Windows   []Digest
}

// Hex returns the lowercase hex form of the whole-stream digest.
func (r Result) Hex() string { return hex.EncodeToString(r.Sum) }

type output struct {
	alg      Algorithm
	total    hash.Hash
	window   hash.Hash
	winStart int64
	winFill  int64
	windows  []Digest
}

func (o *output) write(p []byte, size int64) {
	o.total.Write(p)
	if size <= 0 {
		return
	}
	for len(p) > 0 {
		k := size - o.winFill
		if k > int64(len(p)) {
			k = int64(len(p))
		}
		o.window.Write(p[:k])
		o.winFill += k
		p = p[k:]
		if o.winFill == size {
			o.closeWindow()
		}
	}
}

func (o *output) closeWindow() {
	o.windows = append(o.windows, Digest{
		Offset: o.winStart,
		Length: o.winFill,
		Sum:    o.window.Sum(nil),
	})
	o.window.Reset()
	o.winStart += o.winFill
	o.winFill = 0
}

// Engine feeds every selected algorithm with the same bytes. It implements io.Writer.
// An Engine is not safe for concurrent use.
type Engine struct {
	sel     Selection
	outs    []*output
	n       int64
	results []Result
}

// ErrFinalized is returned by Write after Finalize.
var ErrFinalized = errors.New("hashing: engine already finalized")

// NewEngine validates sel and prepares fresh states.
func NewEngine(sel Selection) (*Engine, error) {
	if !sel.Algorithms.Valid() {
		return nil, fmt.Errorf("hashing: unknown algorithm bits %#x", uint8(sel.Algorithms))
	}
	if sel.WindowSize < 0 {
		return nil, fmt.Errorf("hashing: negative window size %d", sel.WindowSize)
	}
	e := &Engine{sel: sel}
	e.Reset()
	return e, nil
}

// Reset discards all state and results, keeping the selection.
func (e *Engine) Reset() {
	e.outs = e.outs[:0]
	for _, a := range e.sel.Algorithms.Split() {
		o := &output{alg: a, total: a.New()}
		if e.sel.WindowSize > 0 {
			o.window = a.New()
		}
		e.outs = append(e.outs, o)
	}
	e.n = 0
	e.results = nil
}

// Selection returns the configured selection.
func (e *Engine) Selection() Selection { return e.sel }

// Active reports whether any algorithm is selected.
func (e *Engine) Active() bool { return len(e.outs) > 0 }

// Bytes returns the number of bytes consumed so far.
func (e *Engine) Bytes() int64 { return e.n }

// Write consumes p. It never fails before Finalize.
func (e *Engine) Write(p []byte) (int, error) {
	if e.results != nil {
		return 0, ErrFinalized
	}
	for _, o := range e.outs {
		o.write(p, e.sel.WindowSize)
	}
	e.n += int64(len(p))
	return len(p), nil
}

// Finalize closes the last partial window and returns one result per algorithm in
// reporting order. Calling it again returns the same results.
func (e *Engine) Finalize() []Result {
	if e.results != nil {
		return e.results
	}
	e.results = make([]Result, 0, len(e.outs))
	for _, o := range e.outs {
		if o.window != nil && o.winFill > 0 {
			o.closeWindow()
		}
		e.results = append(e.results, Result{
			Algorithm: o.alg,
			Sum:       o.total.Sum(nil),
			Windows:   o.windows,
		})
	}
	return e.results
}

// Sum hashes data with a single algorithm.
func Sum(a Algorithm, data []byte) []byte {
	h := a.New()
	h.Write(data)
	return h.Sum(nil)
}
