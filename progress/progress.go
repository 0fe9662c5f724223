// Package progress derives throughput, completion and ETA from the imaging counters.
//
// The rate is recomputed from cumulative totals on every update (bytes read over time
// since start). It is deliberately not smoothed.
package progress

import (
	"fmt"
	"time"
)

// Stats is the counter set of one imaging job. Snapshots are plain values.
type Stats struct {
	BytesRead        int64
	BytesWritten     int64
	SparseBytes      int64
	SectorSize       int
	SectorsProcessed uint64
	SectorsTotal     uint64
	BadSectors       uint64
	RecoveredSectors uint64

	StartTime  time.Time
	LastUpdate time.Time

	// Rate is bytes per second.
	Rate float64
	// ETA is only meaningful when ETAKnown is set.
	ETA      time.Duration
	ETAKnown bool

	Cancelled bool
}

// Start resets the clock fields.
func (s *Stats) Start(now time.Time) {
	s.StartTime = now
	s.LastUpdate = now
	s.Rate = 0
	s.ETA = 0
	s.ETAKnown = false
}

// Update recomputes the derived fields at now.
func (s *Stats) Update(now time.Time) {
	s.LastUpdate = now
	s.Rate = Rate(s.BytesRead, now.Sub(s.StartTime))
	s.ETA, s.ETAKnown = ETA(s.SectorsTotal, s.SectorsProcessed, s.Rate, s.SectorSize)
}

// Elapsed is the time between start and the last update.
func (s Stats) Elapsed() time.Duration { return s.LastUpdate.Sub(s.StartTime) }

// Percent is the share of sectors processed, 0 to 100.
func (s Stats) Percent() float64 {
	if s.SectorsTotal == 0 {
		return 0
	}
	p := float64(s.SectorsProcessed) * 100 / float64(s.SectorsTotal)
	if p > 100 {
		p = 100
	}
	return p
}

// ETAString formats the ETA, "unknown" when it cannot be estimated.
func (s Stats) ETAString() string { return FormatETA(s.ETA, s.ETAKnown) }

// Rate is bytes per second over elapsed, 0 when elapsed is not positive.
func Rate(bytes int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) / elapsed.Seconds()
}

// ETA estimates the time left for the remaining sectors at rate bytes per second.
func ETA(total, processed uint64, rate float64, sectorSize int) (time.Duration, bool) {
	if rate <= 0 || processed == 0 || sectorSize <= 0 {
		return 0, false
	}
	if processed >= total {
		return 0, true
	}
	sectorsPerSec := rate / float64(sectorSize)
	secs := float64(total-processed) / sectorsPerSec
	return time.Duration(secs * float64(time.Second)), true
}

// FormatETA renders d as "45s", "12:05" (minutes) or "3:07" (hours).
func FormatETA(d time.Duration, known bool) string {
	if !known {
		return "unknown"
	}
	secs := int64(d / time.Second)
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%d:%02d", secs/60, secs%60)
	default:
		return fmt.Sprintf("%d:%02d", secs/3600, (secs%3600)/60)
	}
}

// FormatRate renders bytes per second as MB/s (10^6 bytes).
func FormatRate(bps float64) string {
	return fmt.Sprintf("%.2f MB/s", bps/1e6)
}

// Reporter receives a snapshot after every chunk. It runs on the imaging
// goroutine and must return promptly.
type Reporter interface {
	ReportProgress(Stats)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Stats)

func (f ReporterFunc) ReportProgress(s Stats) { f(s) }
