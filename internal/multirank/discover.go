// Package multirank compares the captures of one distributed run.
//
// Each rank's capture is ingested independently and in parallel. Once every
// rank has finished, successfully or not, the per-rank summaries are
// compared: compile ids, collective schedules, estimated runtimes and
// tensor metadata.
package multirank

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

var rankPattern = regexp.MustCompile(`rank_(\d+)`)

// Capture is one rank's trace file.
type Capture struct {
	Rank int
	Path string
}

// RankOf extracts the rank number from a file name such as
// dedicated_log_torch_trace_rank_3_abc.log.
func RankOf(name string) (int, bool) {
	m := rankPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	r, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return r, true
}

// Discover lists the per-rank captures in dir, ordered by rank. When two
// files claim the same rank the lexically first wins.
func Discover(dir string) ([]Capture, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read capture directory: %w", err)
	}

	byRank := make(map[int]Capture)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		r, ok := RankOf(e.Name())
		if !ok {
			continue
		}
		if _, dup := byRank[r]; dup {
			continue
		}
		byRank[r] = Capture{Rank: r, Path: filepath.Join(dir, e.Name())}
	}

	out := make([]Capture, 0, len(byRank))
	for _, c := range byRank {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}
