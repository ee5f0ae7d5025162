package multirank

import (
	"math"
	"sort"
	"strings"
)

// Status of a multi-rank analysis.
const (
	StatusOK                   = "ok"
	StatusDivergent            = "divergent"
	StatusNoComparisonPossible = "no_comparison_possible"
)

// SetDivergence is the outcome of comparing one set-valued property across
// ranks against the baseline rank.
type SetDivergence struct {
	BaselineRank int      `json:"baseline_rank"`
	Baseline     []string `json:"baseline"`
	Divergent    []int    `json:"divergent_ranks"`
}

// ScheduleGroup is a set of ranks sharing one exact collective sequence.
type ScheduleGroup struct {
	Ranks []int    `json:"ranks"`
	Ops   []string `json:"ops"`
}

// GraphRuntime is the spread of estimated runtime for one graph.
type GraphRuntime struct {
	Mean   float64         `json:"mean_ns"`
	StdDev float64         `json:"stddev_ns"`
	ByRank map[int]float64 `json:"by_rank_ns"`
}

// Analysis is the complete cross-rank comparison.
type Analysis struct {
	Status     string                     `json:"status"`
	Ranks      []int                      `json:"ranks"`
	Excluded   []ExcludedRank             `json:"excluded,omitempty"`
	CompileIDs *SetDivergence             `json:"compile_ids,omitempty"`
	Schedules  map[string][]ScheduleGroup `json:"collective_schedule_divergence,omitempty"`
	Runtimes   map[string]GraphRuntime    `json:"runtime_variance,omitempty"`
	TensorMeta *SetDivergence             `json:"tensor_meta,omitempty"`
	Digests    map[int]string             `json:"fingerprint_digests,omitempty"`
}

// ExcludedRank is the serializable form of RankUnreadable.
type ExcludedRank struct {
	Rank   int    `json:"rank"`
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// CompileIDDivergence compares each rank's compile id set with the baseline,
// the lowest-numbered rank. Order within a set does not matter.
func CompileIDDivergence(ranks []RankSummary) *SetDivergence {
	sets := make(map[int][]string, len(ranks))
	for _, r := range ranks {
		sets[r.Rank] = r.CompileIDs
	}
	return setDivergence(sets)
}

// TensorMetaDivergence compares normalized tensor fingerprints the same way.
func TensorMetaDivergence(ranks []RankSummary) *SetDivergence {
	sets := make(map[int][]string, len(ranks))
	for _, r := range ranks {
		sets[r.Rank] = r.TensorFingerprints
	}
	return setDivergence(sets)
}

func setDivergence(sets map[int][]string) *SetDivergence {
	if len(sets) == 0 {
		return nil
	}
	ranks := sortedRanks(sets)
	base := ranks[0]
	want := toSet(sets[base])

	d := &SetDivergence{BaselineRank: base, Baseline: sortedCopy(sets[base]), Divergent: []int{}}
	for _, r := range ranks[1:] {
		if !sameSet(want, toSet(sets[r])) {
			d.Divergent = append(d.Divergent, r)
		}
	}
	return d
}

// GroupCollectiveSchedules groups ranks by exact sequence equality. Groups
// are ordered by their lowest member rank.
func GroupCollectiveSchedules(schedules map[int][]string) []ScheduleGroup {
	byKey := make(map[string]int)
	var groups []ScheduleGroup
	for _, r := range sortedRanks(schedules) {
		ops := schedules[r]
		key := strings.Join(ops, "\x00")
		if len(ops) == 0 {
			key = "\x01"
		}
		i, ok := byKey[key]
		if !ok {
			i = len(groups)
			byKey[key] = i
			groups = append(groups, ScheduleGroup{Ops: append([]string{}, ops...)})
		}
		groups[i].Ranks = append(groups[i].Ranks, r)
	}
	return groups
}

// CollectiveDivergence returns, per graph, every schedule group when the
// ranks disagree. Graphs on which all ranks agree are omitted. A rank
// without a schedule for a graph counts as the empty sequence.
func CollectiveDivergence(ranks []RankSummary) map[string][]ScheduleGroup {
	graphs := make(map[string]struct{})
	for _, r := range ranks {
		for g := range r.CollectiveSchedules {
			graphs[g] = struct{}{}
		}
	}

	out := make(map[string][]ScheduleGroup)
	for g := range graphs {
		per := make(map[int][]string, len(ranks))
		for _, r := range ranks {
			per[r.Rank] = r.CollectiveSchedules[g]
		}
		if groups := GroupCollectiveSchedules(per); len(groups) > 1 {
			out[g] = groups
		}
	}
	return out
}

// RuntimeVariance computes the population mean and standard deviation of
// each graph's total estimated runtime across the ranks that report it.
func RuntimeVariance(ranks []RankSummary) map[string]GraphRuntime {
	per := make(map[string]map[int]float64)
	for _, r := range ranks {
		for g, v := range r.GraphRuntimes {
			if per[g] == nil {
				per[g] = make(map[int]float64)
			}
			per[g][r.Rank] = v
		}
	}

	out := make(map[string]GraphRuntime, len(per))
	for g, byRank := range per {
		n := float64(len(byRank))
		var sum float64
		for _, v := range byRank {
			sum += v
		}
		mean := sum / n
		var sq float64
		for _, v := range byRank {
			sq += (v - mean) * (v - mean)
		}
		out[g] = GraphRuntime{Mean: mean, StdDev: math.Sqrt(sq / n), ByRank: byRank}
	}
	return out
}

// Analyze runs every comparison. Fewer than two parsed ranks yields
// StatusNoComparisonPossible.
func Analyze(c *Collection) *Analysis {
	a := &Analysis{Ranks: []int{}}
	for _, r := range c.Ranks {
		a.Ranks = append(a.Ranks, r.Rank)
	}
	for _, ex := range c.Excluded {
		a.Excluded = append(a.Excluded, ExcludedRank{Rank: ex.Rank, Path: ex.Path, Reason: ex.Err.Error()})
	}
	if len(c.Ranks) < 2 {
		a.Status = StatusNoComparisonPossible
		return a
	}

	sums := make([]RankSummary, len(c.Ranks))
	a.Digests = make(map[int]string, len(c.Ranks))
	for i, r := range c.Ranks {
		sums[i] = r.Summary
		a.Digests[r.Rank] = r.Summary.FingerprintDigest
	}

	a.CompileIDs = CompileIDDivergence(sums)
	a.Schedules = CollectiveDivergence(sums)
	a.Runtimes = RuntimeVariance(sums)
	a.TensorMeta = TensorMetaDivergence(sums)

	a.Status = StatusOK
	if len(a.CompileIDs.Divergent) > 0 || len(a.Schedules) > 0 || len(a.TensorMeta.Divergent) > 0 {
		a.Status = StatusDivergent
	}
	return a
}

func sortedRanks[V any](m map[int]V) []int {
	out := make([]int, 0, len(m))
	for r := range m {
		out = append(out, r)
	}
	sort.Ints(out)
	return out
}

func toSet(items []string) map[string]struct{} {
	s := make(map[string]struct{}, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func sortedCopy(items []string) []string {
	out := append([]string{}, items...)
	sort.Strings(out)
	return out
}
