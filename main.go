// mkimg.go
// Resilient block imager for disks, floppies and image files.
// Cobra CLI + tcell fullscreen sector map styled like old DOS disk tools.
// Bad sectors are retried, logged and filled; the output can be split, hashed
// and verified.
//
// Build:
//
//	go build -o mkimg .
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mkimg/imaging"
)

// exitError carries a process exit status out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// exitStatus maps a job classification to the process exit status.
func exitStatus(c imaging.ExitCode) int {
	switch c {
	case imaging.ExitSuccess, imaging.ExitCompleted:
		return 0
	case imaging.ExitPartial:
		return 2
	case imaging.ExitVerifyFailed:
		return 3
	case imaging.ExitAborted:
		return 130
	}
	return 1
}

func must(err error) {
	if err == nil {
		return
	}
	code := 1
	var ee *exitError
	if errors.As(err, &ee) {
		code = ee.code
		err = ee.err
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(code)
}

// parseSize accepts plain bytes or a k/m/g/t suffix (binary units), and s for
// 512 byte sectors.
func parseSize(s string) (int64, error) {
	ss := strings.TrimSpace(strings.ToLower(s))
	if ss == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := int64(1)
	switch {
	case strings.HasSuffix(ss, "k"):
		mult = 1 << 10
	case strings.HasSuffix(ss, "m"):
		mult = 1 << 20
	case strings.HasSuffix(ss, "g"):
		mult = 1 << 30
	case strings.HasSuffix(ss, "t"):
		mult = 1 << 40
	case strings.HasSuffix(ss, "s"):
		mult = imaging.DefaultSectorSize
	case strings.HasSuffix(ss, "b"):
	}
	if mult > 1 || strings.HasSuffix(ss, "b") {
		ss = ss[:len(ss)-1]
	}
	v, err := strconv.ParseFloat(ss, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative size %q", s)
	}
	return int64(v * float64(mult)), nil
}

func human(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit && exp < 4; n /= unit {
		div *= unit
		exp++
	}
	v := float64(b) / float64(div)
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d%c", int64(v), "KMGT"[exp])
	}
	return fmt.Sprintf("%.2f%c", v, "KMGT"[exp])
}

func main() {
	must(newRootCmd().ExecuteContext(context.Background()))
}

func newRootCmd() *cobra.Command {
	var g globals
	root := &cobra.Command{
		Use:           "mkimg",
		Short:         "Resilient disk imaging utility",
		Long:          "Image disks, floppies and files with bad sector recovery, split output, hashing and verification",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.setup(cmd.ErrOrStderr())
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			g.close()
		},
	}
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "debug|info|good|warn|error|fatal")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "text|json")
	root.PersistentFlags().StringVar(&g.logFile, "log-file", "", "also write the log to this file")
	root.PersistentFlags().StringVar(&g.configFile, "config", "", "YAML job file")

	root.AddCommand(newImageCmd(&g))
	root.AddCommand(newVerifyCmd(&g))
	root.AddCommand(newCapsCmd())
	root.AddCommand(newDeviceCmd())
	return root
}
