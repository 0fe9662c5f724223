// Package recovery reads from a source that may have unreadable sectors.
//
// A failed read is retried in hard-block units. Units that keep failing are filled
// with a fixed byte, recorded in the bad-sector ledger, and counted as read so that
// the copy keeps going.
package recovery

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"

	"mkimg/ledger"
)

// Outcome classifies one ReadAt call.
type Outcome int

const (
	// Success means every byte was read, possibly after retries.
	Success Outcome = iota
	// RecoveredWithErrors means at least one unit was filled instead of read.
	RecoveredWithErrors
	// ReadError is a short read with recovery disabled. The prefix is valid.
	ReadError
	// Fatal means the source itself is unusable.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case RecoveredWithErrors:
		return "recovered-with-errors"
	case ReadError:
		return "read-error"
	case Fatal:
		return "fatal"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// ErrNotSeekable marks sources without positional reads.
var ErrNotSeekable = errors.New("source is not seekable")

// IsFatal reports whether err means the source can no longer be read at all.
func IsFatal(err error) bool {
	for _, target := range []error{fs.ErrClosed, ErrNotSeekable, syscall.ESPIPE, syscall.EBADF, syscall.ENODEV, syscall.ENXIO} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Policy controls retries and fill behaviour.
type Policy struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	SoftBlockSize int           `mapstructure:"soft_block_size" yaml:"soft_block_size" validate:"gt=0,lte=67108864"`
	HardBlockSize int           `mapstructure:"hard_block_size" yaml:"hard_block_size" validate:"gt=0,ltefield=SoftBlockSize"`
	MaxRetries    int           `mapstructure:"max_retries" yaml:"max_retries" validate:"gte=0,lte=100"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" validate:"gte=0"`
	FillByte      uint8         `mapstructure:"fill_byte" yaml:"fill_byte"`
	FillOnFailure bool          `mapstructure:"fill_on_failure" yaml:"fill_on_failure"`
}

const (
	DefaultSoftBlockSize       = 128 << 10
	DefaultDirectSoftBlockSize = 1 << 20
	DefaultHardBlockSize       = 512
	DefaultMaxRetries          = 3
	DefaultRetryDelay          = 100 * time.Millisecond
)

// DefaultPolicy has recovery on, three retries 100ms apart and zero fill.
func DefaultPolicy() Policy {
	return Policy{
		Enabled:       true,
		SoftBlockSize: DefaultSoftBlockSize,
		HardBlockSize: DefaultHardBlockSize,
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    DefaultRetryDelay,
		FillOnFailure: true,
	}
}

// Check verifies the block size relation.
func (p Policy) Check() error {
	if p.SoftBlockSize <= 0 || p.HardBlockSize <= 0 {
		return fmt.Errorf("block sizes must be positive (soft %d, hard %d)", p.SoftBlockSize, p.HardBlockSize)
	}
	if p.HardBlockSize > p.SoftBlockSize || p.SoftBlockSize%p.HardBlockSize != 0 {
		return fmt.Errorf("hard block size %d must evenly divide soft block size %d", p.HardBlockSize, p.SoftBlockSize)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", p.MaxRetries)
	}
	return nil
}

// Reader wraps a source with sector recovery. Not safe for concurrent use.
type Reader struct {
	src        io.ReaderAt
	policy     Policy
	sectorSize int64
	ledger     *ledger.Ledger
	logger     *slog.Logger
	sleep      func(time.Duration)
	now        func() time.Time

	recovered uint64
}

// Option customises a Reader.
type Option func(*Reader)

// WithLogger sets the logger for retry and bad sector messages.
func WithLogger(l *slog.Logger) Option { return func(r *Reader) { r.logger = l } }

// WithSleep replaces time.Sleep between retries.
func WithSleep(f func(time.Duration)) Option { return func(r *Reader) { r.sleep = f } }

// WithClock sets the clock used for ledger timestamps.
func WithClock(f func() time.Time) Option { return func(r *Reader) { r.now = f } }

// NewReader returns a recovering reader over src. Bad sectors go to l.
func NewReader(src io.ReaderAt, p Policy, sectorSize int, l *ledger.Ledger, opts ...Option) (*Reader, error) {
	if src == nil {
		return nil, ErrNotSeekable
	}
	if err := p.Check(); err != nil {
		return nil, err
	}
	if sectorSize <= 0 {
		return nil, fmt.Errorf("sector size must be positive, got %d", sectorSize)
	}
	if p.Enabled && p.HardBlockSize%sectorSize != 0 {
		return nil, fmt.Errorf("hard block size %d must be a multiple of sector size %d", p.HardBlockSize, sectorSize)
	}
	if l == nil {
		l = ledger.New()
	}
	r := &Reader{
		src:        src,
		policy:     p,
		sectorSize: int64(sectorSize),
		ledger:     l,
		logger:     slog.New(slog.DiscardHandler),
		sleep:      time.Sleep,
		now:        time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Recovered is the number of units that failed once and then read cleanly.
func (r *Reader) Recovered() uint64 { return r.recovered }

// Ledger returns the ledger bad sectors are recorded in.
func (r *Reader) Ledger() *ledger.Ledger { return r.ledger }

// ResetCounters zeroes the recovered count.
func (r *Reader) ResetCounters() { r.recovered = 0 }

// ReadRecovering fills buf from off. It returns the number of bytes placed in buf.
// With recovery enabled that is len(buf) unless the outcome is Fatal.
func (r *Reader) ReadRecovering(buf []byte, off int64) (int, Outcome, error) {
	n, err := r.src.ReadAt(buf, off)
	if n == len(buf) {
		return n, Success, nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	if IsFatal(err) {
		return n, Fatal, err
	}
	if !r.policy.Enabled {
		return n, ReadError, fmt.Errorf("short read at offset %d (%d of %d bytes): %w", off, n, len(buf), err)
	}

	hard := r.policy.HardBlockSize
	start := n - n%hard
	r.logger.Info("read error, retrying in hard blocks",
		"offset", off+int64(start), "length", len(buf)-start, "block", hard, "err", err)

	outcome := Success
	for u := start; u < len(buf); u += hard {
		end := min(u+hard, len(buf))
		unitOff := off + int64(u)
		retries, uerr := r.readUnit(buf[u:end], unitOff)
		if uerr == nil {
			if retries > 0 {
				r.recovered++
				r.logger.Debug("sector recovered", "offset", unitOff, "retries", retries)
			}
			continue
		}
		if IsFatal(uerr) {
			return u, Fatal, uerr
		}
		if r.policy.FillOnFailure {
			fill(buf[u:end], r.policy.FillByte)
		}
		rec := ledger.Record{
			Sector:  uint64(unitOff / r.sectorSize),
			Offset:  unitOff,
			Code:    ledger.CodeOf(uerr),
			Retries: retries,
			Time:    r.now(),
		}
		r.ledger.Add(rec)
		r.logger.Warn("bad sector", "sector", rec.Sector, "offset", rec.Offset,
			"code", fmt.Sprintf("0x%02x", int(rec.Code)), "retries", retries, "err", uerr)
		outcome = RecoveredWithErrors
	}
	return len(buf), outcome, nil
}

// readUnit reads one hard block, retrying on the policy schedule. It returns the
// number of retries performed and the last error, nil on success.
func (r *Reader) readUnit(unit []byte, off int64) (int, error) {
	var sched backoff.BackOff = &backoff.StopBackOff{}
	if r.policy.MaxRetries > 0 {
		sched = backoff.WithMaxRetries(backoff.NewConstantBackOff(r.policy.RetryDelay), uint64(r.policy.MaxRetries))
	}
	sched.Reset()

	retries := 0
	for {
		n, err := r.src.ReadAt(unit, off)
		if n == len(unit) {
			return retries, nil
		}
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		if IsFatal(err) {
			return retries, err
		}
		wait := sched.NextBackOff()
		if wait == backoff.Stop {
			return retries, err
		}
		retries++
		if wait > 0 {
			r.sleep(wait)
		}
	}
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
