package imaging

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"mkimg/hashing"
	"mkimg/recovery"
	"mkimg/split"
)

// VerifyMode selects the check run after a complete image.
type VerifyMode string

const (
	VerifyNone   VerifyMode = "none"
	VerifyImage  VerifyMode = "image"  // re-hash the produced output
	VerifyDevice VerifyMode = "device" // re-read the source range
)

// InputConfig describes the source range.
type InputConfig struct {
	Path       string `mapstructure:"path" yaml:"path"`
	SectorSize int    `mapstructure:"sector_size" yaml:"sector_size" validate:"gt=0,lte=65536,pow2"`
	Skip       int64  `mapstructure:"skip" yaml:"skip,omitempty" validate:"gte=0"`
	Length     int64  `mapstructure:"length" yaml:"length,omitempty" validate:"gte=0"` // 0 means to the end
	Direct     bool   `mapstructure:"direct" yaml:"direct,omitempty"`
}

// OutputConfig describes the destination. An empty Path discards the data, which
// is useful to hash or survey a device.
type OutputConfig struct {
	Path        string `mapstructure:"path" yaml:"path,omitempty"`
	Append      bool   `mapstructure:"append" yaml:"append,omitempty"`
	Skip        int64  `mapstructure:"skip" yaml:"skip,omitempty" validate:"gte=0"`
	SplitSize   int64  `mapstructure:"split_size" yaml:"split_size,omitempty" validate:"gte=0"`
	SplitFormat string `mapstructure:"split_format" yaml:"split_format,omitempty" validate:"splitfmt"`
	Sparse      bool   `mapstructure:"sparse" yaml:"sparse,omitempty"`
}

// HashConfig selects digests.
type HashConfig struct {
	Algorithms []string `mapstructure:"algorithms" yaml:"algorithms,omitempty" validate:"dive,hashalg"`
	WindowSize int64    `mapstructure:"window_size" yaml:"window_size,omitempty" validate:"gte=0"`
}

// ReportConfig names optional files written when the job ends.
type ReportConfig struct {
	BadSectorMap string `mapstructure:"bad_sector_map" yaml:"bad_sector_map,omitempty"`
	Summary      string `mapstructure:"summary" yaml:"summary,omitempty"`
}

// Config is everything a job needs.
type Config struct {
	Input    InputConfig     `mapstructure:"input" yaml:"input"`
	Output   OutputConfig    `mapstructure:"output" yaml:"output"`
	Recovery recovery.Policy `mapstructure:"recovery" yaml:"recovery"`
	Hash     HashConfig      `mapstructure:"hash" yaml:"hash"`
	Verify   VerifyMode      `mapstructure:"verify" yaml:"verify" validate:"omitempty,oneof=none image device"`
	Report   ReportConfig    `mapstructure:"report" yaml:"report,omitempty"`
}

// DefaultSectorSize is the logical sector size assumed for sector numbers.
const DefaultSectorSize = 512

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Input:    InputConfig{SectorSize: DefaultSectorSize},
		Output:   OutputConfig{SplitFormat: split.DefaultFormat},
		Recovery: recovery.DefaultPolicy(),
		Verify:   VerifyNone,
	}
}

// withDefaults fills zero sizes and formats. Zero retries, zero delay and a zero
// fill byte are meaningful and left alone.
func (c Config) withDefaults() Config {
	if c.Input.SectorSize == 0 {
		c.Input.SectorSize = DefaultSectorSize
	}
	if c.Recovery.SoftBlockSize == 0 {
		c.Recovery.SoftBlockSize = recovery.DefaultSoftBlockSize
		if c.Input.Direct {
			c.Recovery.SoftBlockSize = recovery.DefaultDirectSoftBlockSize
		}
	}
	if c.Recovery.HardBlockSize == 0 {
		c.Recovery.HardBlockSize = recovery.DefaultHardBlockSize
	}
	if c.Output.SplitFormat == "" {
		c.Output.SplitFormat = split.DefaultFormat
	}
	if c.Verify == "" {
		c.Verify = VerifyNone
	}
	return c
}

// Selection returns the parsed hash selection.
func (c Config) Selection() (hashing.Selection, error) {
	algs, err := hashing.ParseList(c.Hash.Algorithms)
	if err != nil {
		return hashing.Selection{}, err
	}
	return hashing.Selection{Algorithms: algs, WindowSize: c.Hash.WindowSize}, nil
}

var validate = sync.OnceValue(func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("pow2", func(fl validator.FieldLevel) bool {
		n := fl.Field().Int()
		return n > 0 && n&(n-1) == 0
	})
	_ = v.RegisterValidation("splitfmt", func(fl validator.FieldLevel) bool {
		return split.ValidateFormat(fl.Field().String()) == nil
	})
	_ = v.RegisterValidation("hashalg", func(fl validator.FieldLevel) bool {
		_, err := hashing.ParseList([]string{fl.Field().String()})
		return err == nil
	})
	return v
})

var fieldMessages = map[string]string{
	"gt":       "must be greater than %s",
	"gte":      "must be greater than or equal to %s",
	"lte":      "must be less than or equal to %s",
	"ltefield": "must not exceed %s",
	"oneof":    "must be one of [%s]",
	"pow2":     "must be a power of two",
	"splitfmt": "must be WIN, MAC or a template of digits and 'a'",
	"hashalg":  "is not a known hash algorithm",
}

func fieldMessage(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	msg, ok := fieldMessages[e.Tag()]
	if !ok {
		return fmt.Sprintf("%s is invalid (%s)", ns, e.Tag())
	}
	if strings.Contains(msg, "%s") {
		msg = fmt.Sprintf(msg, e.Param())
	}
	return ns + " " + msg
}

// Validate checks field ranges and the relations between fields. Every problem is
// reported, wrapped in ErrInvalidParameter.
func (c Config) Validate() error {
	var problems []string
	if err := validate().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
		}
		for _, e := range verrs {
			problems = append(problems, fieldMessage(e))
		}
	}
	if err := c.Recovery.Check(); err != nil {
		problems = append(problems, "recovery: "+err.Error())
	}
	if c.Recovery.Enabled && c.Input.SectorSize > 0 && c.Recovery.HardBlockSize%c.Input.SectorSize != 0 {
		problems = append(problems, fmt.Sprintf("recovery.hard_block_size %d must be a multiple of input.sector_size %d",
			c.Recovery.HardBlockSize, c.Input.SectorSize))
	}
	if c.Output.SplitSize > 0 {
		if c.Output.Path == "" {
			problems = append(problems, "output.split_size needs output.path")
		}
		if c.Output.Append || c.Output.Skip > 0 {
			problems = append(problems, "output.append and output.skip cannot be combined with split output")
		}
	}
	if c.Output.Append && c.Output.Skip > 0 {
		problems = append(problems, "output.append and output.skip are mutually exclusive")
	}
	if c.Verify == VerifyImage && c.Output.Path == "" {
		problems = append(problems, "verify=image needs output.path")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidParameter, strings.Join(problems, "; "))
	}
	return nil
}
