package dmesg

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultUptimePath is the Linux uptime pseudo-file.
const DefaultUptimePath = "/proc/uptime"

// ReadUptime reads the first field of a /proc/uptime style file
// ("12345.67 54321.00") as a duration.
func ReadUptime(path string) (time.Duration, error) {
	if path == "" {
		path = DefaultUptimePath
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open uptime file: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return 0, fmt.Errorf("failed to read uptime file: %w", err)
		}
		return 0, fmt.Errorf("uptime file %s is empty", path)
	}

	fields := strings.Fields(scanner.Text())
	if len(fields) == 0 {
		return 0, fmt.Errorf("uptime file %s is empty", path)
	}

	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid uptime value %q: %w", fields[0], err)
	}
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, fmt.Errorf("invalid uptime value %q", fields[0])
	}

	return time.Duration(seconds * float64(time.Second)), nil
}
