package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/term"
	"golang.org/x/time/rate"

	"mkimg/imaging"
	"mkimg/progress"
	"mkimg/retrodfrg"
)

// resolveUI turns "auto" into tui on a terminal and plain otherwise.
func resolveUI(mode string) (string, error) {
	switch mode {
	case "tui", "plain", "none":
		return mode, nil
	case "", "auto":
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return "tui", nil
		}
		return "plain", nil
	}
	return "", fmt.Errorf("unknown --ui %q (auto|tui|plain|none)", mode)
}

// plainDisplay logs a progress line at most once per interval.
type plainDisplay struct {
	logger *slog.Logger
	every  rate.Sometimes
}

func newPlainDisplay(l *slog.Logger, interval time.Duration) *plainDisplay {
	return &plainDisplay{logger: l, every: rate.Sometimes{Interval: interval}}
}

func (p *plainDisplay) ReportProgress(s progress.Stats) {
	p.every.Do(func() {
		p.logger.Info(fmt.Sprintf("Progress: %.1f%%", s.Percent()),
			"sectors", s.SectorsProcessed, "of", s.SectorsTotal,
			"rate", progress.FormatRate(s.Rate), "eta", s.ETAString(), "bad", s.BadSectors)
	})
}

// tuiDisplay drives the sector map screen. It runs on the job goroutine.
type tuiDisplay struct {
	ui     *retrodfrg.UI
	job    *imaging.Job
	cfg    imaging.Config
	smap   *retrodfrg.SectorMap
	prev   progress.Stats
	bad    int
	redraw rate.Sometimes
}

func newTUIDisplay(ui *retrodfrg.UI, cfg imaging.Config) *tuiDisplay {
	d := &tuiDisplay{ui: ui, cfg: cfg, redraw: rate.Sometimes{Interval: 100 * time.Millisecond}}
	ui.SetTitle(" mkimg ")
	phases := []string{"Read"}
	if cfg.Verify != "" && cfg.Verify != imaging.VerifyNone {
		phases = append(phases, "Verify")
	}
	ui.SetPhases(append(phases, "Done"))
	ui.SetSummaryLines(d.summary(0))
	ui.SetLegend([]string{""})
	ui.SetStatusLines(make([]string, 5))
	ui.LayoutAndDraw()
	return d
}

func (d *tuiDisplay) summary(size int64) []string {
	dst := d.cfg.Output.Path
	if dst == "" {
		dst = "none (hash only)"
	}
	lines := []string{"Source:      " + d.cfg.Input.Path, "Destination: " + dst}
	if size > 0 {
		lines = append(lines, fmt.Sprintf("Size:        %s (%d bytes)", human(size), size))
	}
	return lines
}

func (d *tuiDisplay) ReportProgress(s progress.Stats) {
	if d.smap == nil {
		w, _ := d.ui.Size()
		d.smap = retrodfrg.NewSectorMap(int64(s.SectorsTotal), max(w, 1)*d.ui.MapRows())
		d.ui.SetLegend(d.smap.Legend())
		if d.job != nil {
			d.ui.SetSummaryLines(d.summary(d.job.SourceSize()))
		}
	}
	d.mark(s)
	d.redraw.Do(func() { d.draw(s) })
}

// mark paints the sectors processed since the previous report.
func (d *tuiDisplay) mark(s progress.Stats) {
	from, to := int64(d.prev.SectorsProcessed), int64(s.SectorsProcessed)
	cell := retrodfrg.CellRead
	switch {
	case s.RecoveredSectors > d.prev.RecoveredSectors:
		cell = retrodfrg.CellRecovered
	case s.SparseBytes > d.prev.SparseBytes && s.SparseBytes-d.prev.SparseBytes == s.BytesRead-d.prev.BytesRead:
		cell = retrodfrg.CellSparse
	}
	d.smap.Mark(from, to-from, cell)

	if d.job != nil && s.SectorSize > 0 {
		if l := d.job.Ledger(); l.Len() > d.bad {
			recs := l.Records()
			for _, r := range recs[d.bad:] {
				d.smap.Mark((r.Offset-d.cfg.Input.Skip)/int64(s.SectorSize), 1, retrodfrg.CellBad)
			}
			d.bad = len(recs)
		}
	}
	d.prev = s
}

func (d *tuiDisplay) draw(s progress.Stats) {
	st := imaging.StatusOf(imaging.StateActive, s)
	if d.job != nil {
		st = imaging.StatusOf(d.job.State(), s)
	}
	d.ui.SetStatusLines([]string{
		fmt.Sprintf("Sector: %d / %d", s.SectorsProcessed, s.SectorsTotal),
		fmt.Sprintf("Read: %s   Written: %s   Zero: %s", human(s.BytesRead), human(s.BytesWritten), human(s.SparseBytes)),
		fmt.Sprintf("Elapsed: %s   Rate: %s   ETA: %s", s.Elapsed().Truncate(time.Second), st.Rate, st.ETA),
		fmt.Sprintf("Bad: %d   Recovered: %d", s.BadSectors, s.RecoveredSectors),
		st.Message,
	})
	if d.smap != nil {
		w, _ := d.ui.Size()
		d.ui.SetProgressMap(d.smap.Render(w, d.ui.MapRows()))
	}
	d.ui.LayoutAndDraw()
}

// finish shows the final state and keeps it on screen briefly.
func (d *tuiDisplay) finish(hold time.Duration) {
	s := d.job.Stats()
	if d.smap != nil {
		d.mark(s)
	}
	switch d.job.ExitCode() {
	case imaging.ExitSuccess, imaging.ExitCompleted, imaging.ExitPartial, imaging.ExitVerifyFailed:
		d.ui.SetPhaseDone("Read")
	}
	if d.job.ExitCode() == imaging.ExitSuccess {
		d.ui.SetPhaseDone("Verify")
	}
	d.ui.SetPhaseDone("Done")
	d.draw(s)
	_ = d.ui.Hold(hold)
}
