package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mkimg/cpucaps"
	"mkimg/imaging"
	"mkimg/logging"
	"mkimg/retrodfrg"
	"mkimg/sparse"
)

func newImageCmd(g *globals) *cobra.Command {
	var uiMode, scan string
	var hold time.Duration
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Image a device or file, retrying and logging bad sectors",
		Example: `  mkimg image --in /dev/sdb --out disk.img --hash md5,sha256 --verify image
  mkimg image --in /dev/fd0 --out floppy.img --bad-map floppy.bad --retries 10
  mkimg image --config job.yaml --split 650m --split-format WIN`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, g.configFile)
			if err != nil {
				return err
			}
			mode, err := resolveUI(uiMode)
			if err != nil {
				return err
			}
			scanner, err := scannerFor(scan)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runImage(ctx, g, cfg, mode, scanner, hold, cmd.ErrOrStderr())
		},
	}
	addConfigFlags(cmd.Flags())
	cmd.Flags().StringVar(&uiMode, "ui", "auto", "auto|tui|plain|none")
	cmd.Flags().StringVar(&scan, "scan", "auto", "zero scan width: auto|portable|narrow|wide")
	cmd.Flags().DurationVar(&hold, "hold", 2*time.Second, "keep the final screen up this long (tui)")
	return cmd
}

func runImage(ctx context.Context, g *globals, cfg imaging.Config, mode string, scanner *sparse.Scanner, hold time.Duration, stderr io.Writer) error {
	logger := g.logger
	opts := []imaging.Option{imaging.WithScanner(scanner)}

	var ui *retrodfrg.UI
	if mode == "tui" {
		var err error
		if ui, err = retrodfrg.NewUI(); err != nil {
			logger.Warn("terminal UI unavailable, using plain progress", "err", err)
			mode = "plain"
		}
	}

	// the screen owns the terminal, so log lines wait until it is closed
	var held bytes.Buffer
	var disp *tuiDisplay
	switch {
	case ui != nil:
		logger = g.loggerTo(&held)
		disp = newTUIDisplay(ui, cfg)
		opts = append(opts, imaging.WithProgress(disp))
	case mode == "plain":
		opts = append(opts, imaging.WithProgress(newPlainDisplay(logger, 2*time.Second)))
	}
	opts = append(opts, imaging.WithLogger(logger))

	j, err := imaging.New(cfg, opts...)
	if err != nil {
		if ui != nil {
			ui.Close()
		}
		return err
	}

	if ui != nil {
		disp.job = j
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-ui.Stopped():
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	code, _ := j.Run(ctx)

	if ui != nil {
		disp.finish(hold)
		ui.Close()
		_, _ = io.Copy(stderr, &held)
	}
	if st := exitStatus(code); st != 0 {
		// the job footer already reported why
		return &exitError{code: st}
	}
	return nil
}

func newVerifyCmd(g *globals) *cobra.Command {
	var summaryPath string
	var images []string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-hash an image and compare it with a job summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := imaging.LoadSummary(summaryPath)
			if err != nil {
				return err
			}
			if len(images) > 0 {
				s.Parts = images
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			l := g.logger.With("job", s.JobID)
			l.Info(fmt.Sprintf("Verifying %d file(s) against %s", len(s.Parts), summaryPath),
				"bytes", s.Stats.BytesWritten, "hashes", len(s.Hashes))
			start := time.Now()
			err = imaging.VerifySummary(ctx, s)
			elapsed := time.Since(start).Round(time.Millisecond)
			switch {
			case err == nil:
				l.Log(ctx, logging.LevelGood, "Status: "+imaging.ExitSuccess.Status(), "elapsed", elapsed)
				return nil
			case errors.Is(err, imaging.ErrHashMismatch), errors.Is(err, imaging.ErrSizeMismatch):
				l.Log(ctx, logging.LevelFatal, "Status: "+imaging.ExitVerifyFailed.Status(), "err", err)
				return &exitError{code: exitStatus(imaging.ExitVerifyFailed)}
			case errors.Is(err, imaging.ErrCancelled), errors.Is(err, context.Canceled):
				l.Warn("Status: " + imaging.ExitAborted.Status())
				return &exitError{code: exitStatus(imaging.ExitAborted)}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&summaryPath, "summary", "", "summary written by image --summary")
	cmd.Flags().StringSliceVar(&images, "image", nil, "image file(s) to check instead of the ones listed in the summary")
	_ = cmd.MarkFlagRequired("summary")
	return cmd
}

var widths = []cpucaps.Width{cpucaps.WidthNone, cpucaps.WidthNarrow, cpucaps.WidthWide}

// scannerFor returns a zero scanner limited to the named width.
func scannerFor(name string) (*sparse.Scanner, error) {
	caps := cpucaps.Detect()
	if name == "" || name == "auto" {
		return sparse.New(caps), nil
	}
	for _, w := range widths {
		if w.String() == name {
			return sparse.New(caps.Cap(w)), nil
		}
	}
	return nil, fmt.Errorf("unknown scan width %q (auto|portable|narrow|wide)", name)
}

func newCapsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "caps",
		Short: "Show the CPU features used by the zero scanner",
		RunE: func(cmd *cobra.Command, _ []string) error {
			caps := cpucaps.Detect()
			out := cmd.OutOrStdout()
			yn := func(b bool) string {
				if b {
					return "yes"
				}
				return "no"
			}
			fmt.Fprintf(out, "Arch:  %s\n", caps.Arch)
			fmt.Fprintf(out, "  SSE2: %-3s  AVX2: %s\n", yn(caps.SSE2), yn(caps.AVX2))
			fmt.Fprintf(out, "  NEON: %-3s  SVE:  %s\n", yn(caps.NEON), yn(caps.SVE))
			w := sparse.New(caps).Width()
			fmt.Fprintf(out, "Zero scan: %s (%d bytes per step)\n", w, w.Bytes())
			return nil
		},
	}
}
