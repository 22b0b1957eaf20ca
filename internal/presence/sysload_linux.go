//go:build linux

package presence

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// sampleSystemLoad reads /proc/loadavg and /proc/meminfo. Both are
// memory-backed pseudo-files; the reads cost microseconds.
func sampleSystemLoad() SystemLoad {
	return SystemLoad{
		CPUPercent:    readLoadPercent(),
		MemoryPercent: readMemoryPercent(),
	}
}

// sampleProcesses is deferred platform work; a full /proc walk is too
// expensive for every tick.
func sampleProcesses() []InterestingProcess {
	return nil
}

// readLoadPercent approximates CPU utilization from the 1-minute load
// average normalized by CPU count, capped at 100.
func readLoadPercent() float64 {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	cpus := countCPUs()
	if cpus == 0 {
		return 0
	}
	pct := load / float64(cpus) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

func countCPUs() int {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "cpu") && len(line) > 3 && line[3] != ' ' {
			count++
		}
	}
	return count
}

func readMemoryPercent() float64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	var total, available float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			total = parseMeminfoKB(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			available = parseMeminfoKB(line)
		}
		if total > 0 && available > 0 {
			break
		}
	}
	if total == 0 {
		return 0
	}
	return (total - available) / total * 100
}

func parseMeminfoKB(line string) float64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0
	}
	return v
}
