package sandbox

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
)

const (
	// fallbackLimit applies when /proc/meminfo is not readable.
	fallbackLimit = 1024 * 1024 * 1024
	// maxAvailable clamps MemAvailable before deriving the cap.
	maxAvailable = 10 * 1024 * 1024 * 1024
	// headroom stays free for the rest of the system.
	headroom = 200 * 1024 * 1024
)

// memoryLimit computes the child address-space cap from the system's
// available memory.
func memoryLimit() uint64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return fallbackLimit
	}
	defer f.Close()
	return limitFromMeminfo(f)
}

func limitFromMeminfo(f io.Reader) uint64 {
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			break
		}
		return deriveLimit(kb * 1024)
	}
	return fallbackLimit
}

// deriveLimit clamps the available bytes, keeps the headroom free, and
// grants 80% of the rest.
func deriveLimit(available uint64) uint64 {
	if available > maxAvailable {
		available = maxAvailable
	}
	if available <= headroom {
		return fallbackLimit
	}
	return (available - headroom) / 5 * 4
}
