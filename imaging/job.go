// Package imaging copies a source device or file into an image while hashing it,
// recovering from unreadable sectors, and recording what could not be read.
//
// A Job moves through PENDING, OPEN and ACTIVE to one of COMPLETE, ERROR or
// ABORTED. A finished job must be Reset before it can run again.
package imaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mkimg/hashing"
	"mkimg/ledger"
	"mkimg/logging"
	"mkimg/progress"
	"mkimg/recovery"
	"mkimg/sparse"
	"mkimg/split"
)

// Job is one imaging run. Only Cancel may be called from another goroutine.
type Job struct {
	id  uuid.UUID
	cfg Config
	sel hashing.Selection

	base     *slog.Logger
	logger   *slog.Logger
	reporter progress.Reporter
	now      func() time.Time
	sleep    func(time.Duration)
	scanner  *sparse.Scanner

	source     io.ReaderAt
	sourceName string

	state    State
	stats    progress.Stats
	ledger   *ledger.Ledger
	hashes   *hashing.Engine
	results  []hashing.Result
	reader   *recovery.Reader
	out      sink
	parts    []string
	outStart int64

	size   int64
	start  int64
	length int64
	cursor int64

	exit     ExitCode
	err      error
	verified *bool
	started  time.Time
	finished time.Time
	closers  []io.Closer

	cancel     atomic.Bool
	stopVerify atomic.Pointer[context.CancelFunc]
}

// Option customises a Job.
type Option func(*Job)

// WithLogger sets the job logger. The default discards.
func WithLogger(l *slog.Logger) Option { return func(j *Job) { j.base = l } }

// WithProgress registers a reporter called after every chunk.
func WithProgress(r progress.Reporter) Option { return func(j *Job) { j.reporter = r } }

// WithSource images r instead of opening Input.Path. name is used in reports.
func WithSource(r io.ReaderAt, name string) Option {
	return func(j *Job) {
		j.source = r
		j.sourceName = name
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(j *Job) { j.now = now } }

// WithSleep replaces the pause between read retries.
func WithSleep(f func(time.Duration)) Option { return func(j *Job) { j.sleep = f } }

// WithScanner sets the zero scanner used for sparse output.
func WithScanner(s *sparse.Scanner) Option { return func(j *Job) { j.scanner = s } }

// New applies defaults to cfg, validates it and returns a pending job.
func New(cfg Config, opts ...Option) (*Job, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sel, err := cfg.Selection()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	j := &Job{
		cfg:    cfg,
		sel:    sel,
		now:    time.Now,
		sleep:  time.Sleep,
		ledger: ledger.New(),
	}
	for _, o := range opts {
		o(j)
	}
	if j.source == nil && cfg.Input.Path == "" {
		return nil, fmt.Errorf("%w: input.path is required", ErrInvalidParameter)
	}
	if j.sourceName == "" {
		j.sourceName = cfg.Input.Path
	}
	if j.verifyMode() != VerifyNone && sel.Algorithms == 0 {
		return nil, fmt.Errorf("%w: verify=%s needs at least one hash algorithm", ErrInvalidParameter, cfg.Verify)
	}
	j.base = logging.Ensure(j.base)
	if j.scanner == nil {
		j.scanner = sparse.Default()
	}
	j.Reset()
	return j, nil
}

func (j *Job) verifyMode() VerifyMode {
	if j.cfg.Verify == "" {
		return VerifyNone
	}
	return j.cfg.Verify
}

// Reset returns the job to PENDING with fresh counters and an empty ledger. The
// configuration is kept. It must not be called while Run is in progress.
func (j *Job) Reset() {
	j.id = uuid.New()
	j.logger = j.base.With("job", j.id.String())
	j.state = StatePending
	j.stats = progress.Stats{SectorSize: j.cfg.Input.SectorSize}
	j.ledger.Reset()
	j.hashes = nil
	j.results = nil
	j.reader = nil
	j.out = nil
	j.parts = nil
	j.outStart = 0
	j.size, j.start, j.length, j.cursor = 0, 0, 0, 0
	j.exit = ExitUnknown
	j.err = nil
	j.verified = nil
	j.started, j.finished = time.Time{}, time.Time{}
	j.closers = nil
	j.cancel.Store(false)
}

// Cancel asks a running job to stop after the current chunk, or ends a running
// verification. Safe from any goroutine.
func (j *Job) Cancel() {
	j.cancel.Store(true)
	if stop := j.stopVerify.Load(); stop != nil {
		(*stop)()
	}
}

// ID identifies the current run. Reset assigns a new one.
func (j *Job) ID() uuid.UUID { return j.id }

// Config returns the effective configuration.
func (j *Job) Config() Config { return j.cfg }

// State returns the lifecycle state.
func (j *Job) State() State { return j.state }

// Stats returns a snapshot of the counters.
func (j *Job) Stats() progress.Stats {
	s := j.stats
	s.Cancelled = j.cancel.Load()
	return s
}

// BadSectors returns the ledger records in discovery order.
func (j *Job) BadSectors() []ledger.Record { return j.ledger.Records() }

// Ledger exposes the bad sector ledger, for export.
func (j *Job) Ledger() *ledger.Ledger { return j.ledger }

// Hashes returns the final digests. Empty until the job has finished.
func (j *Job) Hashes() []hashing.Result { return j.results }

// Parts lists the output files written.
func (j *Job) Parts() []string { return append([]string(nil), j.parts...) }

// ExitCode returns the classification of the finished run.
func (j *Job) ExitCode() ExitCode { return j.exit }

// Err returns the error that ended the run, if any.
func (j *Job) Err() error { return j.err }

// SourceSize returns the probed size of the source.
func (j *Job) SourceSize() int64 { return j.size }

func (j *Job) transition(to State) {
	if err := ValidateTransition(j.state, to); err != nil {
		j.logger.Error("state transition rejected", "err", err)
		return
	}
	j.logger.Debug("state", "from", j.state, "to", to)
	j.state = to
}

// Run images the configured range. It returns the exit classification and the
// error that stopped the job, if any. Cancelling ctx has the same effect as Cancel.
func (j *Job) Run(ctx context.Context) (ExitCode, error) {
	if j.state != StatePending {
		return j.exit, fmt.Errorf("%w: job is %s, reset it before running again", ErrInvalidParameter, j.state)
	}
	if ctx.Err() != nil {
		j.Cancel()
	}
	stop := context.AfterFunc(ctx, j.Cancel)
	defer stop()

	j.started = j.now()
	j.stats.Start(j.started)

	if err := j.open(); err != nil {
		j.fail(err)
	} else {
		j.logHeader()
		j.loop()
	}
	j.finish(ctx)
	return j.exit, j.err
}

func (j *Job) open() error {
	src := j.source
	if src == nil {
		f, err := os.Open(j.cfg.Input.Path)
		if err != nil {
			return fmt.Errorf("%w: open input %s: %v", ErrNotOpenable, j.cfg.Input.Path, err)
		}
		j.closers = append(j.closers, f)
		src = f
	}

	size, searched, err := sizeOf(src)
	if err != nil {
		return fmt.Errorf("%w: size of %s: %v", ErrNotSeekable, j.sourceName, err)
	}
	if searched {
		j.logger.Warn("source reports no size, length found by reading; an unreadable region may end the image early",
			"source", j.sourceName, "size", size)
	}
	j.size = size
	in := j.cfg.Input
	if in.Skip > size {
		return fmt.Errorf("%w: input.skip %d is beyond the end of the source (%d bytes)", ErrInvalidParameter, in.Skip, size)
	}
	j.start = in.Skip
	j.length = size - in.Skip
	if in.Length > 0 {
		if in.Length > j.length {
			j.logger.Warn("input.length exceeds the source, clipping", "length", in.Length, "available", j.length)
		} else {
			j.length = in.Length
		}
	}

	out := j.cfg.Output
	if out.SplitSize > 0 {
		if err := split.CheckCapacity(out.SplitFormat, out.SplitSize, j.length); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidParameter, err)
		}
	}

	j.reader, err = recovery.NewReader(src, j.cfg.Recovery, in.SectorSize, j.ledger,
		recovery.WithLogger(j.logger),
		recovery.WithSleep(j.sleep),
		recovery.WithClock(j.now))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	j.hashes, err = hashing.NewEngine(j.sel)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	j.out, j.outStart, err = openSink(out)
	if err != nil {
		return err
	}

	ss := int64(in.SectorSize)
	j.stats.SectorsTotal = uint64((j.length + ss - 1) / ss)
	j.transition(StateOpen)
	return nil
}

// allocBuffer turns an impossible allocation into an error instead of a crash.
func allocBuffer(n int) (buf []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf, err = nil, fmt.Errorf("%w: %d byte buffer: %v", ErrAllocation, n, r)
		}
	}()
	return make([]byte, n), nil
}

func (j *Job) loop() {
	size := j.cfg.Recovery.SoftBlockSize
	if int64(size) > j.length && j.length > 0 {
		size = int(j.length)
	}
	buf, err := allocBuffer(size)
	if err != nil {
		j.fail(err)
		return
	}

	for j.cursor < j.length {
		if j.cancel.Load() {
			j.abort()
			return
		}
		n := min(int64(len(buf)), j.length-j.cursor)
		chunk := buf[:n]
		off := j.start + j.cursor

		got, outcome, rerr := j.reader.ReadRecovering(chunk, off)
		if got > 0 {
			if j.state == StateOpen {
				j.transition(StateActive)
			}
			if err := j.consume(chunk[:got]); err != nil {
				j.fail(err)
				return
			}
		}
		switch outcome {
		case recovery.Fatal:
			j.fail(fmt.Errorf("%w: reading %s at offset %d: %v", ErrNotSeekable, j.sourceName, off+int64(got), rerr))
			return
		case recovery.ReadError:
			j.fail(fmt.Errorf("%w: %v", ErrRead, rerr))
			return
		}

		if j.reporter != nil {
			j.reporter.ReportProgress(j.Stats())
		}
		if j.cancel.Load() {
			j.abort()
			return
		}
	}
	j.complete()
}

// consume hashes p, then writes it or leaves a hole, then updates the counters.
func (j *Job) consume(p []byte) error {
	_, _ = j.hashes.Write(p)

	var err error
	if j.cfg.Output.Sparse && j.scanner.IsZero(p) {
		_, err = j.out.Skip(int64(len(p)))
		if err == nil {
			j.stats.SparseBytes += int64(len(p))
		}
	} else {
		_, err = j.out.Write(p)
	}
	if err != nil {
		return fmt.Errorf("%w: at image offset %d: %v", ErrWrite, j.cursor, err)
	}

	n := int64(len(p))
	ss := int64(j.cfg.Input.SectorSize)
	j.cursor += n
	j.stats.BytesRead += n
	j.stats.BytesWritten += n
	j.stats.SectorsProcessed = uint64((j.cursor + ss - 1) / ss)
	j.stats.BadSectors = uint64(j.ledger.Len())
	j.stats.RecoveredSectors = j.reader.Recovered()
	j.stats.Update(j.now())
	return nil
}

// closeOutput finalizes digests and closes the sink exactly once.
func (j *Job) closeOutput() error {
	if j.hashes != nil && j.results == nil {
		j.results = j.hashes.Finalize()
	}
	if j.out == nil {
		return nil
	}
	j.parts = j.out.Parts()
	err := j.out.Close()
	j.out = nil
	return err
}

func (j *Job) complete() {
	if err := j.closeOutput(); err != nil {
		j.fail(fmt.Errorf("%w: close output: %v", ErrWrite, err))
		return
	}
	j.transition(StateComplete)
}

func (j *Job) fail(err error) {
	j.err = err
	if cerr := j.closeOutput(); cerr != nil {
		j.logger.Warn("closing output after failure", "err", cerr)
	}
	j.transition(StateError)
}

func (j *Job) abort() {
	j.err = fmt.Errorf("%w: stopped at byte %d of %d", ErrCancelled, j.cursor, j.length)
	if err := j.closeOutput(); err != nil {
		j.logger.Warn("closing output after cancel", "err", err)
	}
	j.transition(StateAborted)
}

func (j *Job) finish(ctx context.Context) {
	var verifyCancelled bool
	if j.state == StateComplete && j.verifyMode() != VerifyNone {
		err := j.runVerify(ctx, j.verifyMode())
		verifyCancelled = errors.Is(err, ErrCancelled)
		if err != nil && j.err == nil {
			j.err = err
		}
	}
	for _, c := range j.closers {
		_ = c.Close()
	}
	j.closers = nil

	j.finished = j.now()
	j.stats.BadSectors = uint64(j.ledger.Len())
	if j.reader != nil {
		j.stats.RecoveredSectors = j.reader.Recovered()
	}
	j.stats.Cancelled = j.cancel.Load()
	j.exit = Classify(j.state == StateError, j.state == StateAborted || verifyCancelled, j.stats.BadSectors, j.verified)
	j.logFooter()
	j.writeReports()
}

func (j *Job) writeReports() {
	r := j.cfg.Report
	if r.BadSectorMap != "" {
		if err := j.ledger.Export(r.BadSectorMap, j.sourceName, "Job: "+j.id.String()); err != nil {
			j.logger.Warn("bad sector map not written", "path", r.BadSectorMap, "err", err)
		} else {
			j.logger.Info("bad sector map written", "path", r.BadSectorMap, "records", j.ledger.Len())
		}
	}
	if r.Summary != "" {
		if err := WriteSummary(r.Summary, j.Summary()); err != nil {
			j.logger.Warn("summary not written", "path", r.Summary, "err", err)
		} else {
			j.logger.Info("summary written", "path", r.Summary)
		}
	}
}
