// Package main fails CI when coverage of the listed files drops below
// their thresholds. Pure files hold logic without I/O and carry the higher
// bar; io files touch sockets or goroutines.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/tools/cover"
)

type coverage struct {
	covered int
	total   int
}

var pureFiles = []string{
	"internal/protocol/codec.go",
	"internal/protocol/parser.go",
	"internal/fakenats/subject.go",
	"internal/config/config.go",
	"internal/logger/logger.go",
	"nats/command_buffer.go",
	"nats/errors.go",
	"nats/flush_queue.go",
	"nats/options.go",
	"nats/reconnect_strategy.go",
	"nats/registry.go",
	"nats/state.go",
}

var ioFiles = []string{
	"internal/fakenats/conn.go",
	"internal/fakenats/server.go",
	"internal/fakenats/writer.go",
	"internal/wsconn/conn.go",
	"nats/client.go",
	"nats/dispatch.go",
	"nats/reconnect.go",
	"nats/request.go",
	"nats/transport.go",
}

// summarize folds profile blocks into per-file statement counts.
func summarize(profiles []*cover.Profile) map[string]coverage {
	result := make(map[string]coverage, len(profiles))
	for _, profile := range profiles {
		entry := result[profile.FileName]
		for _, block := range profile.Blocks {
			entry.total += block.NumStmt
			if block.Count > 0 {
				entry.covered += block.NumStmt
			}
		}
		result[profile.FileName] = entry
	}
	return result
}

func findCoverage(files map[string]coverage, suffix string) (coverage, bool) {
	for fileName, cov := range files {
		if strings.HasSuffix(fileName, "/"+suffix) || fileName == suffix {
			return cov, true
		}
	}
	return coverage{}, false
}

func pct(c coverage) float64 {
	if c.total == 0 {
		return 0
	}
	return (float64(c.covered) * 100.0) / float64(c.total)
}

type thresholds struct {
	overall float64
	pure    float64
	io      float64
}

// evaluate returns the aggregate and every threshold violation, sorted.
func evaluate(files map[string]coverage, limits thresholds) (coverage, []string) {
	total := coverage{}
	for _, fileCov := range files {
		total.covered += fileCov.covered
		total.total += fileCov.total
	}

	failures := make([]string, 0)
	if overall := pct(total); overall+1e-9 < limits.overall {
		failures = append(failures, fmt.Sprintf("aggregate coverage %.1f%% is below %.1f%%", overall, limits.overall))
	}
	check := func(kind string, names []string, minimum float64) {
		for _, fileName := range names {
			fileCov, ok := findCoverage(files, fileName)
			if !ok {
				failures = append(failures, fmt.Sprintf("%s file %s is missing from coverage profile", kind, fileName))
				continue
			}
			if filePct := pct(fileCov); filePct+1e-9 < minimum {
				failures = append(failures, fmt.Sprintf("%s file %s is %.1f%% (required %.1f%%)", kind, fileName, filePct, minimum))
			}
		}
	}
	check("pure", pureFiles, limits.pure)
	check("io", ioFiles, limits.io)

	sort.Strings(failures)
	return total, failures
}

func report(out io.Writer, total coverage, failures []string) bool {
	fmt.Fprintf(out, "aggregate: %.1f%% (%d/%d)\n", pct(total), total.covered, total.total)
	if len(failures) == 0 {
		fmt.Fprintln(out, "coverage gate: PASS")
		return true
	}

	fmt.Fprintln(out, "coverage gate: FAIL")
	for _, failure := range failures {
		fmt.Fprintf(out, "- %s\n", failure)
	}
	return false
}

func main() {
	profilePath := flag.String("profile", "coverage.out", "path to go coverage profile")
	overallThreshold := flag.Float64("overall", 80.0, "minimum aggregate coverage percentage")
	pureThreshold := flag.Float64("pure", 95.0, "minimum pure file coverage percentage")
	ioThreshold := flag.Float64("io", 75.0, "minimum io file coverage percentage")
	flag.Parse()

	profiles, err := cover.ParseProfiles(*profilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coverage gate failed reading profile: %v\n", err)
		os.Exit(1)
	}

	total, failures := evaluate(summarize(profiles), thresholds{
		overall: *overallThreshold,
		pure:    *pureThreshold,
		io:      *ioThreshold,
	})
	if !report(os.Stdout, total, failures) {
		os.Exit(2)
	}
}
