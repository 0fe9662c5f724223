package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatETA(t *testing.T) {
	tests := []struct {
		d     time.Duration
		known bool
		want  string
	}{
		{0, false, "unknown"},
		{0, true, "0s"},
		{45 * time.Second, true, "45s"},
		{59*time.Second + 900*time.Millisecond, true, "59s"},
		{60 * time.Second, true, "1:00"},
		{12*time.Minute + 5*time.Second, true, "12:05"},
		{59*time.Minute + 59*time.Second, true, "59:59"},
		{time.Hour, true, "1:00"},
		{3*time.Hour + 7*time.Minute + 30*time.Second, true, "3:07"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatETA(tt.d, tt.known))
		})
	}
}

func TestRate(t *testing.T) {
	assert.Equal(t, 0.0, Rate(100, 0))
	assert.Equal(t, 0.0, Rate(100, -time.Second))
	assert.InDelta(t, 512.0, Rate(1024, 2*time.Second), 1e-9)
}

func TestETA(t *testing.T) {
	_, ok := ETA(100, 0, 512, 512)
	assert.False(t, ok, "nothing processed")
	_, ok = ETA(100, 10, 0, 512)
	assert.False(t, ok, "no rate")

	d, ok := ETA(100, 10, 512, 512) // one sector per second, 90 left
	assert.True(t, ok)
	assert.Equal(t, 90*time.Second, d)

	d, ok = ETA(100, 100, 512, 512)
	assert.True(t, ok)
	assert.Zero(t, d)
}

func TestStatsUpdate(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := Stats{SectorSize: 512, SectorsTotal: 2048}
	s.Start(start)
	assert.Equal(t, "unknown", s.ETAString())

	s.BytesRead = 512 * 1024
	s.SectorsProcessed = 1024
	s.Update(start.Add(4 * time.Second))

	assert.InDelta(t, 131072.0, s.Rate, 1e-6)
	assert.True(t, s.ETAKnown)
	assert.Equal(t, 4*time.Second, s.ETA)
	assert.Equal(t, "4s", s.ETAString())
	assert.InDelta(t, 50.0, s.Percent(), 1e-9)
	assert.Equal(t, 4*time.Second, s.Elapsed())
	assert.Equal(t, "0.13 MB/s", FormatRate(s.Rate))
}

func TestPercentBounds(t *testing.T) {
	assert.Zero(t, Stats{}.Percent())
	assert.Equal(t, 100.0, Stats{SectorsTotal: 1, SectorsProcessed: 5}.Percent())
}

func TestReporterFunc(t *testing.T) {
	var got Stats
	var r Reporter = ReporterFunc(func(s Stats) { got = s })
	r.ReportProgress(Stats{BytesRead: 7})
	assert.Equal(t, int64(7), got.BytesRead)
}
