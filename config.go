package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"mkimg/imaging"
	"mkimg/logging"
)

// globals holds the persistent flags and what they produce.
type globals struct {
	logLevel   string
	logFormat  string
	logFile    string
	configFile string

	level  slog.Level
	format logging.Format
	file   *os.File
	logger *slog.Logger
}

func (g *globals) setup(stderr io.Writer) error {
	var err error
	if g.level, err = logging.ParseLevel(g.logLevel); err != nil {
		return err
	}
	if g.format, err = logging.ParseFormat(g.logFormat); err != nil {
		return err
	}
	if g.logFile != "" {
		g.file, err = os.OpenFile(g.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
	}
	g.logger = g.loggerTo(stderr)
	return nil
}

// loggerTo logs to w, and to the log file when one is open.
func (g *globals) loggerTo(w io.Writer) *slog.Logger {
	h := logging.NewHandler(g.format, w, g.level)
	if g.file != nil {
		h = logging.Fanout(h, logging.NewHandler(g.format, g.file, g.level))
	}
	return slog.New(h)
}

func (g *globals) close() {
	if g.file != nil {
		_ = g.file.Close()
		g.file = nil
	}
}

// sizeValue is an int64 flag that takes k/m/g/t/s suffixes.
type sizeValue int64

func (s *sizeValue) String() string { return fmt.Sprintf("%d", int64(*s)) }

func (s *sizeValue) Set(v string) error {
	n, err := parseSize(v)
	if err != nil {
		return err
	}
	*s = sizeValue(n)
	return nil
}

func (s *sizeValue) Type() string { return "size" }

func sizeFlag(fs *pflag.FlagSet, name string, def int64, usage string) {
	v := sizeValue(def)
	fs.Var(&v, name, usage)
}

// configKeys binds image flags to configuration keys. The same keys are read
// from the YAML job file and from MKIMG_* variables (dots become underscores).
var configKeys = []struct{ flag, key string }{
	{"in", "input.path"},
	{"sector-size", "input.sector_size"},
	{"skip", "input.skip"},
	{"length", "input.length"},
	{"direct", "input.direct"},
	{"out", "output.path"},
	{"append", "output.append"},
	{"seek", "output.skip"},
	{"split", "output.split_size"},
	{"split-format", "output.split_format"},
	{"sparse", "output.sparse"},
	{"recovery", "recovery.enabled"},
	{"soft-block", "recovery.soft_block_size"},
	{"hard-block", "recovery.hard_block_size"},
	{"retries", "recovery.max_retries"},
	{"retry-delay", "recovery.retry_delay"},
	{"fill", "recovery.fill_byte"},
	{"fill-on-failure", "recovery.fill_on_failure"},
	{"hash", "hash.algorithms"},
	{"hash-window", "hash.window_size"},
	{"verify", "verify"},
	{"bad-map", "report.bad_sector_map"},
	{"summary", "report.summary"},
}

func addConfigFlags(fs *pflag.FlagSet) {
	d := imaging.DefaultConfig()
	fs.String("in", "", "source device or image file")
	fs.Int("sector-size", d.Input.SectorSize, "logical sector size used for sector numbers")
	sizeFlag(fs, "skip", 0, "start offset into the source (e.g. 1m, 2048s)")
	sizeFlag(fs, "length", 0, "bytes to image, 0 for the rest of the source")
	fs.Bool("direct", false, "unbuffered reads with a 1 MiB default block")
	fs.String("out", "", "output image, omit to only hash the source")
	fs.Bool("append", false, "continue at the end of an existing output")
	sizeFlag(fs, "seek", 0, "start offset into the output")
	sizeFlag(fs, "split", 0, "split the output into parts of this size")
	fs.String("split-format", d.Output.SplitFormat, "part suffix: WIN, MAC or a template like 000 or aa")
	fs.Bool("sparse", false, "leave all-zero blocks as holes in a new output file")
	fs.Bool("recovery", d.Recovery.Enabled, "retry failed reads sector by sector")
	sizeFlag(fs, "soft-block", 0, "normal read size, 0 for 128k (1m with --direct)")
	sizeFlag(fs, "hard-block", int64(d.Recovery.HardBlockSize), "retry unit")
	fs.Int("retries", d.Recovery.MaxRetries, "retries per failing retry unit")
	fs.Duration("retry-delay", d.Recovery.RetryDelay, "pause between retries")
	fs.Uint8("fill", d.Recovery.FillByte, "byte written in place of unreadable sectors")
	fs.Bool("fill-on-failure", d.Recovery.FillOnFailure, "write fill bytes for unreadable sectors")
	fs.StringSlice("hash", nil, "md5,sha1,sha256,sha384,sha512,blake2b,blake3")
	sizeFlag(fs, "hash-window", 0, "also hash every window of this size")
	fs.String("verify", string(d.Verify), "none|image|device")
	fs.String("bad-map", "", "write the bad sector map here (.zst to compress)")
	fs.String("summary", "", "write a YAML job summary here")
}

// loadConfig merges, lowest first: defaults, the YAML job file, MKIMG_*
// variables and flags given on the command line.
func loadConfig(cmd *cobra.Command, path string) (imaging.Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MKIMG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, k := range configKeys {
		if err := v.BindEnv(k.key); err != nil {
			return imaging.Config{}, err
		}
		if f := cmd.Flags().Lookup(k.flag); f != nil {
			if err := v.BindPFlag(k.key, f); err != nil {
				return imaging.Config{}, err
			}
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return imaging.Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := imaging.DefaultConfig()
	cfg.Recovery.SoftBlockSize = 0 // picked from input.direct later
	if err := v.Unmarshal(&cfg); err != nil {
		return imaging.Config{}, fmt.Errorf("%w: %v", imaging.ErrInvalidParameter, err)
	}
	return cfg, nil
}
