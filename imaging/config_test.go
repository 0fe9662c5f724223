package imaging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mkimg/progress"
	"mkimg/recovery"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 512, cfg.Input.SectorSize)
	assert.Equal(t, 131072, cfg.Recovery.SoftBlockSize)
	assert.Equal(t, 512, cfg.Recovery.HardBlockSize)
	assert.Equal(t, 3, cfg.Recovery.MaxRetries)
	assert.True(t, cfg.Recovery.Enabled)
	assert.True(t, cfg.Recovery.FillOnFailure)
	assert.Equal(t, "000", cfg.Output.SplitFormat)
}

func TestWithDefaults(t *testing.T) {
	c := Config{Input: InputConfig{Direct: true}}.withDefaults()
	assert.Equal(t, recovery.DefaultDirectSoftBlockSize, c.Recovery.SoftBlockSize)
	assert.Equal(t, DefaultSectorSize, c.Input.SectorSize)
	assert.Equal(t, VerifyNone, c.Verify)
	assert.Zero(t, c.Recovery.MaxRetries, "zero retries is a valid choice")
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"sector not power of two", func(c *Config) { c.Input.SectorSize = 500 }, "input.sector_size must be a power of two"},
		{"negative skip", func(c *Config) { c.Input.Skip = -1 }, "input.skip must be greater than or equal to 0"},
		{"hard above soft", func(c *Config) { c.Recovery.HardBlockSize = 4096; c.Recovery.SoftBlockSize = 1024 }, "recovery.hard_block_size must not exceed"},
		{"hard not dividing soft", func(c *Config) { c.Recovery.HardBlockSize = 3000 }, "must evenly divide"},
		{"hard smaller than sector", func(c *Config) {
			c.Input.SectorSize = 4096
			c.Recovery.SoftBlockSize = 8192
			c.Recovery.HardBlockSize = 512
		}, "recovery.hard_block_size 512 must be a multiple of input.sector_size 4096"},
		{"huge soft block", func(c *Config) { c.Recovery.SoftBlockSize = 1 << 30 }, "recovery.soft_block_size must be less than or equal to"},
		{"negative retries", func(c *Config) { c.Recovery.MaxRetries = -2 }, "recovery.max_retries"},
		{"bad split format", func(c *Config) { c.Output.SplitFormat = "x1" }, "output.split_format must be WIN, MAC"},
		{"split without path", func(c *Config) { c.Output.SplitSize = 1024 }, "split_size needs output.path"},
		{"split with append", func(c *Config) {
			c.Output.Path = "x"
			c.Output.SplitSize = 1024
			c.Output.Append = true
		}, "cannot be combined with split output"},
		{"append with skip", func(c *Config) {
			c.Output.Path = "x"
			c.Output.Append = true
			c.Output.Skip = 10
		}, "mutually exclusive"},
		{"unknown hash", func(c *Config) { c.Hash.Algorithms = []string{"crc32"} }, "is not a known hash algorithm"},
		{"unknown verify", func(c *Config) { c.Verify = "maybe" }, "verify must be one of"},
		{"verify image without output", func(c *Config) { c.Verify = VerifyImage }, "verify=image needs output.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidParameter)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewRejects(t *testing.T) {
	_, err := New(DefaultConfig())
	assert.ErrorIs(t, err, ErrInvalidParameter, "no input")

	cfg := DefaultConfig()
	cfg.Verify = VerifyDevice
	_, err = New(cfg, WithSource(bytes.NewReader(nil), "mem"))
	assert.ErrorIs(t, err, ErrInvalidParameter, "verify without hashes")
}

func TestTransitions(t *testing.T) {
	allowed := map[State][]State{
		StatePending: {StateOpen, StateError},
		StateOpen:    {StateActive, StateComplete, StateError, StateAborted},
		StateActive:  {StateComplete, StateError, StateAborted},
	}
	all := []State{StatePending, StateOpen, StateActive, StateComplete, StateError, StateAborted}
	for _, from := range all {
		for _, to := range all {
			ok := false
			for _, a := range allowed[from] {
				ok = ok || a == to
			}
			err := ValidateTransition(from, to)
			if ok {
				assert.NoError(t, err, "%s -> %s", from, to)
			} else {
				assert.ErrorIs(t, err, ErrInvalidParameter, "%s -> %s", from, to)
			}
		}
	}
	for _, s := range []State{StateComplete, StateError, StateAborted} {
		assert.True(t, s.Terminal())
	}
	assert.False(t, StateActive.Terminal())
}

func TestClassify(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name      string
		fatal     bool
		cancelled bool
		bad       uint64
		verified  *bool
		want      ExitCode
	}{
		{"clean", false, false, 0, nil, ExitCompleted},
		{"clean verified", false, false, 0, &yes, ExitSuccess},
		{"bad sectors", false, false, 3, nil, ExitPartial},
		{"bad sectors verified", false, false, 3, &yes, ExitPartial},
		{"verify failed", false, false, 0, &no, ExitVerifyFailed},
		{"cancelled", false, true, 2, nil, ExitAborted},
		{"fatal", true, false, 2, nil, ExitFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.fatal, tt.cancelled, tt.bad, tt.verified))
		})
	}
}

func TestExitCodeText(t *testing.T) {
	for c := ExitSuccess; c <= ExitVerifyFailed; c++ {
		b, err := c.MarshalText()
		require.NoError(t, err)
		var back ExitCode
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, c, back)
	}
	assert.Equal(t, "PARTIAL (with errors)", ExitPartial.Status())
	assert.Equal(t, "VERIFICATION FAILED", ExitVerifyFailed.Status())
}

func TestStatusOf(t *testing.T) {
	s := progress.Stats{SectorsTotal: 200, SectorsProcessed: 50, BadSectors: 2}
	assert.Equal(t, "Waiting to start...", StatusOf(StatePending, progress.Stats{}).Message)
	assert.Equal(t, "Imaging... 25% complete", StatusOf(StateActive, s).Message)
	st := StatusOf(StateComplete, s)
	assert.Equal(t, "Complete! 2 bad sectors", st.Message)
	assert.Equal(t, 100, st.Percent)
	assert.Equal(t, "unknown", st.ETA)
}

func TestCodeFor(t *testing.T) {
	assert.EqualValues(t, 0x82, CodeFor(ErrHashMismatch))
	assert.EqualValues(t, 0x85, CodeFor(ErrCancelled))
	assert.EqualValues(t, 0x81, CodeFor(ErrWrite))
	assert.EqualValues(t, 0, CodeFor(nil))
}
