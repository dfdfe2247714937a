// Package format provides small CLI-facing formatting helpers built on
// go-humanize.
package format

import (
	"time"

	"github.com/dustin/go-humanize"
)

// Size renders a byte count in human-friendly form (e.g. "4.2 MB").
func Size(bytes int64) string {
	return humanize.Bytes(uint64(bytes))
}

// Duration renders a duration in human-friendly relative form (e.g.
// "3 seconds").
func Duration(d time.Duration) string {
	return humanize.RelTime(time.Now().Add(-d), time.Now(), "", "")
}

// Elapsed renders the time elapsed since start in human-friendly form.
func Elapsed(start time.Time) string {
	return Duration(time.Since(start))
}
