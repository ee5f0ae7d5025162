package multirank

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/valyala/fastjson"

	"github.com/coffersTech/nanotrace/internal/model"
	"github.com/coffersTech/nanotrace/internal/modules"
	"github.com/coffersTech/nanotrace/internal/pkg/digest"
)

// Artifact names carrying distributed-run data.
const (
	ArtifactCollectiveSchedule = "inductor_collective_schedule"
	ArtifactRuntimeTensorMeta  = "inductor_runtime_and_tensor_meta"
)

// RankSummary is everything the cross-rank comparisons need from one rank.
// Graphs are identified by compile id key.
type RankSummary struct {
	Rank                int                 `json:"rank"`
	CompileIDs          []string            `json:"compile_ids"`
	CollectiveSchedules map[string][]string `json:"collective_schedules,omitempty"`
	GraphRuntimes       map[string]float64  `json:"graph_runtimes_ns,omitempty"`
	TensorFingerprints  []string            `json:"tensor_fingerprints,omitempty"`
	FingerprintDigest   string              `json:"fingerprint_digest"`
}

type runtimeOp struct {
	Name               string  `json:"name"`
	Type               string  `json:"type"`
	EstimatedRuntimeNs float64 `json:"estimated_runtime_ns"`
}

type runtimeMeta struct {
	Ops []runtimeOp `json:"ops"`
}

// Summarize reads one rank's intermediate streams.
func Summarize(mc *modules.Context, rank int) (*RankSummary, error) {
	s := &RankSummary{
		Rank:                rank,
		CollectiveSchedules: make(map[string][]string),
		GraphRuntimes:       make(map[string]float64),
	}

	ids := make(map[string]struct{})
	if mc.Manifest != nil {
		for _, k := range mc.Manifest.CompileIDKeys() {
			ids[k] = struct{}{}
		}
	} else {
		for _, ft := range model.AllFileTypes {
			err := mc.Each(ft, func(e *model.IntermediateEntry) error {
				if e.CompileID != "" {
					ids[e.CompileID] = struct{}{}
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}
	for k := range ids {
		s.CompileIDs = append(s.CompileIDs, k)
	}
	modules.SortKeys(s.CompileIDs)

	err := mc.Each(model.Artifacts, func(e *model.IntermediateEntry) error {
		if e.Type != model.TypeArtifact {
			return nil
		}
		md, err := e.Decode()
		if err != nil {
			return nil
		}
		art, ok := md.(model.Artifact)
		if !ok {
			return nil
		}
		switch art.Name {
		case ArtifactCollectiveSchedule:
			ops, err := parseSchedule(e.PayloadString())
			if err != nil {
				return fmt.Errorf("%s for %s: %w", art.Name, e.Key(), err)
			}
			s.CollectiveSchedules[e.Key()] = ops
		case ArtifactRuntimeTensorMeta:
			var rm runtimeMeta
			if err := json.Unmarshal([]byte(e.PayloadString()), &rm); err != nil {
				return fmt.Errorf("%s for %s: %w", art.Name, e.Key(), err)
			}
			var total float64
			for _, op := range rm.Ops {
				total += op.EstimatedRuntimeNs
			}
			s.GraphRuntimes[e.Key()] += total
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	fps := make(map[string]struct{})
	err = mc.Each(model.TensorMetadata, func(e *model.IntermediateEntry) error {
		if e.Type != model.TypeDescribeTensor {
			return nil
		}
		md, err := e.Decode()
		if err != nil {
			return nil
		}
		if dt, ok := md.(model.DescribeTensor); ok {
			fps[dt.Fingerprint()] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for fp := range fps {
		s.TensorFingerprints = append(s.TensorFingerprints, fp)
	}
	sort.Strings(s.TensorFingerprints)
	s.FingerprintDigest = digest.Set(s.TensorFingerprints)
	return s, nil
}

// parseSchedule decodes a JSON array of collective op names.
func parseSchedule(raw string) ([]string, error) {
	v, err := fastjson.Parse(raw)
	if err != nil {
		return nil, err
	}
	arr, err := v.Array()
	if err != nil {
		return nil, err
	}
	ops := make([]string, 0, len(arr))
	for _, item := range arr {
		b, err := item.StringBytes()
		if err != nil {
			return nil, err
		}
		ops = append(ops, string(b))
	}
	return ops, nil
}
