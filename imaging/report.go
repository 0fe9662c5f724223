package imaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mkimg/logging"
	"mkimg/progress"
)

// human renders a byte count with a binary unit.
func human(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit && exp < 5; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

func (j *Job) logHeader() {
	l := j.logger
	l.Info(fmt.Sprintf("Source: %s", j.sourceName))
	l.Info(fmt.Sprintf("Source size: %d bytes (%s)", j.size, human(j.size)),
		"skip", j.start, "length", j.length, "sector_size", j.cfg.Input.SectorSize)

	out := j.cfg.Output
	switch {
	case out.Path == "":
		l.Info("Destination: none (hash only)")
	case out.SplitSize > 0:
		l.Info(fmt.Sprintf("Destination: %s", out.Path), "sparse", out.Sparse)
		l.Info(fmt.Sprintf("Split size: %d bytes (%s), format %s", out.SplitSize, human(out.SplitSize), out.SplitFormat))
	default:
		l.Info(fmt.Sprintf("Destination: %s", out.Path), "offset", j.outStart, "sparse", out.Sparse)
	}

	names := make([]string, 0, 4)
	for _, a := range j.sel.Algorithms.Split() {
		names = append(names, a.String())
	}
	if len(names) == 0 {
		names = append(names, "none")
	}
	if j.sel.WindowSize > 0 {
		l.Info(fmt.Sprintf("Hashing: %s", strings.Join(names, " ")), "window", j.sel.WindowSize)
	} else {
		l.Info(fmt.Sprintf("Hashing: %s", strings.Join(names, " ")))
	}

	rp := j.cfg.Recovery
	if rp.Enabled {
		l.Info(fmt.Sprintf("Recovery: enabled (retries: %d)", rp.MaxRetries),
			"soft_block", rp.SoftBlockSize, "hard_block", rp.HardBlockSize,
			"delay", rp.RetryDelay, "fill", fmt.Sprintf("0x%02x", rp.FillByte), "fill_on_failure", rp.FillOnFailure)
	} else {
		l.Info("Recovery: disabled", "soft_block", rp.SoftBlockSize)
	}
	l.Debug("zero scanner", "path", j.scanner.Width().String())
}

func footerLevel(e ExitCode) slog.Level {
	switch e {
	case ExitSuccess, ExitCompleted:
		return logging.LevelGood
	case ExitPartial, ExitAborted:
		return logging.LevelWarn
	}
	return logging.LevelFatal
}

func (j *Job) logFooter() {
	ctx := context.Background()
	l := j.logger
	s := j.stats
	l.Info(fmt.Sprintf("Bytes read: %d (%s)", s.BytesRead, human(s.BytesRead)))
	l.Info(fmt.Sprintf("Bytes written: %d (%s)", s.BytesWritten, human(s.BytesWritten)), "sparse", s.SparseBytes)
	l.Info(fmt.Sprintf("Bad sectors: %d", s.BadSectors))
	l.Info(fmt.Sprintf("Recovered sectors: %d", s.RecoveredSectors))
	for _, r := range j.results {
		l.Info(fmt.Sprintf("%s: %s", r.Algorithm, r.Hex()), "windows", len(r.Windows))
	}
	if len(j.parts) > 1 {
		l.Info(fmt.Sprintf("Parts: %d", len(j.parts)), "first", j.parts[0], "last", j.parts[len(j.parts)-1])
	}
	elapsed := j.finished.Sub(j.started)
	l.Info(fmt.Sprintf("Elapsed: %s", elapsed.Round(time.Millisecond)), "rate", progress.FormatRate(s.Rate))

	msg := "Status: " + j.exit.Status()
	switch {
	case j.exit == ExitPartial:
		msg = fmt.Sprintf("%s, %d bad sectors filled with 0x%02x", msg, s.BadSectors, j.cfg.Recovery.FillByte)
	case j.exit == ExitAborted && j.state == StateComplete:
		msg += ", image complete but verification cancelled"
	}
	if j.err != nil {
		l.Log(ctx, footerLevel(j.exit), msg, "err", j.err)
		return
	}
	l.Log(ctx, footerLevel(j.exit), msg)
}

// Status is a display-ready view of a job.
type Status struct {
	State      State
	Percent    int
	Rate       string
	ETA        string
	BadSectors uint64
	Message    string
}

// StatusOf builds a Status from a state and a stats snapshot.
func StatusOf(state State, s progress.Stats) Status {
	st := Status{
		State:      state,
		Percent:    int(s.Percent()),
		Rate:       progress.FormatRate(s.Rate),
		ETA:        s.ETAString(),
		BadSectors: s.BadSectors,
	}
	switch state {
	case StatePending:
		st.Message = "Waiting to start..."
	case StateOpen, StateActive:
		st.Message = fmt.Sprintf("Imaging... %d%% complete", st.Percent)
	case StateComplete:
		st.Percent = 100
		st.Message = fmt.Sprintf("Complete! %d bad sectors", s.BadSectors)
	case StateError:
		st.Message = "Error occurred"
	case StateAborted:
		st.Message = "Cancelled by user"
	}
	return st
}

// Status returns the current display status. Call it from the goroutine running
// the job, or after Run returns.
func (j *Job) Status() Status { return StatusOf(j.state, j.Stats()) }
