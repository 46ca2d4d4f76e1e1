// Package dmesg selects the kernel log window, fetches the log through the
// dmesg command and filters noisy lines before analysis.
package dmesg

import (
	"time"
)

const (
	// RelativeDay is the window requested once the host has been up a full day.
	RelativeDay = "24 hours ago"

	// BootGrace is skipped after boot: the first minute is driver probing noise.
	BootGrace = 60 * time.Second

	// TimeLayout is the absolute timestamp format accepted by dmesg --since.
	TimeLayout = "2006-01-02 15:04:05"
)

// Window is the "since" bound passed to dmesg. The zero value is not valid;
// use SelectWindow.
type Window struct {
	since string

	// Relative is true for the fixed RelativeDay window.
	Relative bool
	// Exclusion is uptime minus BootGrace. Zero for relative windows, negative
	// when the host has been up less than BootGrace.
	Exclusion time.Duration
	// FilterTime is the absolute lower bound. Zero for relative windows.
	FilterTime time.Time
}

// String returns the value for dmesg --since.
func (w Window) String() string {
	return w.since
}

// SelectWindow picks the log window for the given uptime.
//
// A host up for at least 24 hours gets the full relative day. A younger host
// gets an absolute bound of now - (uptime - BootGrace), which drops the first
// minute after boot. Uptime under BootGrace yields a bound in the future; the
// window is then empty, which is accepted.
func SelectWindow(uptime time.Duration, now time.Time) Window {
	if uptime >= 24*time.Hour {
		return Window{since: RelativeDay, Relative: true}
	}

	exclusion := uptime - BootGrace
	filterTime := now.Add(-exclusion)

	return Window{
		since:      filterTime.Format(TimeLayout),
		Exclusion:  exclusion,
		FilterTime: filterTime,
	}
}

// DefaultWindow is used when uptime cannot be determined.
func DefaultWindow() Window {
	return Window{since: RelativeDay, Relative: true}
}
