package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/valyala/fastjson"

	"github.com/coffersTech/nanotrace/internal/model"
)

var routes = map[string]model.IntermediateFileType{
	model.TypeDynamoOutputGraph:     model.Graphs,
	model.TypeOptimizeDDPSplitGraph: model.Graphs,
	model.TypeOptimizeDDPSplitChild: model.Graphs,
	model.TypeCompiledAutogradGraph: model.Graphs,
	model.TypeAOTForwardGraph:       model.Graphs,
	model.TypeAOTBackwardGraph:      model.Graphs,
	model.TypeAOTInferenceGraph:     model.Graphs,
	model.TypeAOTJointGraph:         model.Graphs,
	model.TypeInductorPreGradGraph:  model.Graphs,
	model.TypeInductorPostGradGraph: model.Graphs,
	model.TypeGraphDump:             model.Graphs,

	model.TypeInductorOutputCode: model.Codegen,
	model.TypeDynamoCppGuardsStr: model.Codegen,

	model.TypeDynamoGuards:           model.Guards,
	model.TypeSymbolicSpecialization: model.Guards,
	model.TypeGuardAddedFast:         model.Guards,
	model.TypePropagateRealTensors:   model.Guards,
	model.TypeGuardAdded:             model.Guards,
	model.TypeCreateUnbackedSymbol:   model.Guards,
	model.TypeExpressionCreated:      model.Guards,

	model.TypeCompilationMetrics:    model.CompilationMetrics,
	model.TypeBwdCompilationMetrics: model.CompilationMetrics,
	model.TypeAOTBackwardMetrics:    model.CompilationMetrics,
	model.TypeDynamoStart:           model.CompilationMetrics,
	model.TypeStack:                 model.CompilationMetrics,

	model.TypeChromiumEvent: model.ChromiumEvents,

	model.TypeArtifact: model.Artifacts,
	model.TypeDumpFile: model.Artifacts,
	model.TypeLink:     model.Artifacts,

	model.TypeDescribeTensor:  model.TensorMetadata,
	model.TypeDescribeStorage: model.TensorMetadata,
	model.TypeDescribeSource:  model.TensorMetadata,

	model.TypeMissingFakeKernel:    model.Export,
	model.TypeMismatchedFakeKernel: model.Export,
	model.TypeExportedProgram:      model.Export,
}

var cachePrefixes = []struct {
	prefix string
	status model.CacheStatus
}{
	{"cache_hit_", model.CacheHit},
	{"cache_miss_", model.CacheMiss},
	{"cache_bypass_", model.CacheBypass},
}

// Route maps an envelope to its stream. It depends only on the envelope.
// Artifacts whose name starts with a cache prefix go to the Cache stream
// with a matching status; every other routed envelope has CacheNone.
func Route(env *model.Envelope) (model.IntermediateFileType, model.CacheStatus, error) {
	ft, ok := routes[env.EntryType]
	if !ok {
		return 0, model.CacheNone, fmt.Errorf("%w: %q", ErrUnknownEnvelopeType, env.EntryType)
	}
	if env.EntryType == model.TypeArtifact {
		if status := CacheStatusOf(artifactName(env.Metadata)); status != model.CacheNone {
			return model.Cache, status, nil
		}
	}
	return ft, model.CacheNone, nil
}

// CacheStatusOf classifies an artifact name by its cache prefix.
func CacheStatusOf(name string) model.CacheStatus {
	for _, p := range cachePrefixes {
		if strings.HasPrefix(name, p.prefix) {
			return p.status
		}
	}
	return model.CacheNone
}

func artifactName(meta json.RawMessage) string {
	return fastjson.GetString(meta, "name")
}
