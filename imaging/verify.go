package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"mkimg/hashing"
	"mkimg/split"
)

const verifyBlock = 1 << 20

// VerifyStream hashes r and compares it with want. A negative length skips the
// length check. Size problems wrap ErrSizeMismatch, digest problems ErrHashMismatch.
func VerifyStream(ctx context.Context, r io.Reader, sel hashing.Selection, want []hashing.Result, length int64) error {
	e, err := hashing.NewEngine(sel)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	buf := make([]byte, verifyBlock)
	var n int64
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: verify: %v", ErrCancelled, err)
		}
		k, err := r.Read(buf)
		if k > 0 {
			_, _ = e.Write(buf[:k])
			n += int64(k)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: verify read at %d: %v", ErrRead, n, err)
		}
	}
	if length >= 0 && n != length {
		return fmt.Errorf("%w: read %d bytes, expected %d", ErrSizeMismatch, n, length)
	}

	got := e.Finalize()
	for _, w := range want {
		var g *hashing.Result
		for i := range got {
			if got[i].Algorithm == w.Algorithm {
				g = &got[i]
			}
		}
		if g == nil {
			continue
		}
		if bytes.Equal(g.Sum, w.Sum) {
			continue
		}
		msg := fmt.Sprintf("%s is %s, expected %s", w.Algorithm, g.Hex(), w.Hex())
		for i := 0; i < len(w.Windows) && i < len(g.Windows); i++ {
			if !bytes.Equal(w.Windows[i].Sum, g.Windows[i].Sum) {
				msg += fmt.Sprintf(" (first differing window at offset %d)", w.Windows[i].Offset)
				break
			}
		}
		return fmt.Errorf("%w: %s", ErrHashMismatch, msg)
	}
	return nil
}

// Verify checks a complete job with mode and updates its exit classification.
// A cancelled verification classifies the job as aborted.
func (j *Job) Verify(ctx context.Context, mode VerifyMode) (ExitCode, error) {
	if j.state != StateComplete {
		return j.exit, fmt.Errorf("%w: cannot verify a job in state %s", ErrInvalidParameter, j.state)
	}
	if j.sel.Algorithms == 0 {
		return j.exit, fmt.Errorf("%w: verify needs at least one hash algorithm", ErrInvalidParameter)
	}
	err := j.runVerify(ctx, mode)
	j.exit = Classify(false, errors.Is(err, ErrCancelled), j.stats.BadSectors, j.verified)
	return j.exit, err
}

func (j *Job) runVerify(ctx context.Context, mode VerifyMode) error {
	var (
		r   io.Reader
		err error
	)
	switch mode {
	case VerifyImage:
		r, err = j.openImage()
	case VerifyDevice:
		if j.ledger.Len() > 0 {
			j.logger.Warn("device verify skipped, the image holds filled sectors", "bad_sectors", j.ledger.Len())
			return nil
		}
		r, err = j.openSourceRange()
	default:
		return fmt.Errorf("%w: verify mode %q", ErrInvalidParameter, mode)
	}
	if err != nil {
		return err
	}
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	j.stopVerify.Store(&stop)
	defer j.stopVerify.Store(nil)
	if j.cancel.Load() {
		stop()
	}

	j.logger.Info("verifying", "mode", string(mode))
	err = VerifyStream(ctx, r, j.sel, j.results, j.length)
	if errors.Is(err, ErrCancelled) {
		j.logger.Warn("verification cancelled")
		return err
	}
	ok := err == nil
	j.verified = &ok
	if ok {
		j.logger.Log(ctx, footerLevel(ExitSuccess), "Verification: OK", "mode", string(mode))
	} else {
		j.logger.Log(ctx, footerLevel(ExitVerifyFailed), "Verification: FAILED", "mode", string(mode), "err", err)
	}
	return err
}

type sectionCloser struct {
	*io.SectionReader
	io.Closer
}

func (j *Job) openImage() (io.Reader, error) {
	if len(j.parts) == 0 {
		return nil, fmt.Errorf("%w: no output to verify", ErrInvalidParameter)
	}
	if j.cfg.Output.SplitSize > 0 {
		return split.NewReader(j.parts), nil
	}
	f, err := os.Open(j.parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: reopen output: %v", ErrNotOpenable, err)
	}
	return sectionCloser{io.NewSectionReader(f, j.outStart, j.length), f}, nil
}

func (j *Job) openSourceRange() (io.Reader, error) {
	src := j.source
	var closer io.Closer
	if src == nil {
		f, err := os.Open(j.cfg.Input.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: reopen input: %v", ErrNotOpenable, err)
		}
		src, closer = f, f
	}
	sr := io.NewSectionReader(src, j.start, j.length)
	if closer == nil {
		return sr, nil
	}
	return sectionCloser{sr, closer}, nil
}
