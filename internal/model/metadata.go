package model

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

// Metadata is the typed view of an entry's metadata object.
type Metadata interface {
	EntryType() string
}

// DynamoStart marks the beginning of a frame compilation.
type DynamoStart struct {
	Stack []StackFrame `json:"stack"`
}

func (DynamoStart) EntryType() string { return TypeDynamoStart }

// CompilationMetricsMeta covers compilation_metrics and its backward variants.
// Fields absent from the record stay nil.
type CompilationMetricsMeta struct {
	Kind string `json:"-"`

	CoName                   *string  `json:"co_name"`
	CoFilename               *string  `json:"co_filename"`
	CoFirstlineno            *int     `json:"co_firstlineno"`
	CacheSize                *int     `json:"cache_size"`
	AccumulatedCacheSize     *int     `json:"accumulated_cache_size"`
	GuardCount               *int     `json:"guard_count"`
	ShapeEnvGuardCount       *int     `json:"shape_env_guard_count"`
	GraphOpCount             *int     `json:"graph_op_count"`
	GraphNodeCount           *int     `json:"graph_node_count"`
	GraphInputCount          *int     `json:"graph_input_count"`
	StartTime                *float64 `json:"start_time"`
	EntireFrameCompileTimeS  *float64 `json:"entire_frame_compile_time_s"`
	BackendCompileTimeS      *float64 `json:"backend_compile_time_s"`
	InductorCompileTimeS     *float64 `json:"inductor_compile_time_s"`
	CodeGenTimeS             *float64 `json:"code_gen_time_s"`
	DynamoTimeBeforeRestartS *float64 `json:"dynamo_time_before_restart_s"`
	ElapsedTime              *float64 `json:"elapsed_time"`
	FailType                 *string  `json:"fail_type"`
	FailReason               *string  `json:"fail_reason"`
	FailUserFrameFilename    *string  `json:"fail_user_frame_filename"`
	FailUserFrameLineno      *int     `json:"fail_user_frame_lineno"`
	NonCompliantOps          []string `json:"non_compliant_ops"`
	CompliantCustomOps       []string `json:"compliant_custom_ops"`
	RestartReasons           []string `json:"restart_reasons"`
	HasGuardedCode           *bool    `json:"has_guarded_code"`
}

func (m CompilationMetricsMeta) EntryType() string { return m.Kind }

// Failed reports whether the compilation recorded a failure.
func (m CompilationMetricsMeta) Failed() bool {
	return m.FailType != nil && *m.FailType != ""
}

// Artifact is a named blob attached to a compilation.
type Artifact struct {
	Name     string `json:"name"`
	Encoding string `json:"encoding"`
}

func (Artifact) EntryType() string { return TypeArtifact }

// DumpFile is a source file dumped by the compiler.
type DumpFile struct {
	Name string `json:"name"`
}

func (DumpFile) EntryType() string { return TypeDumpFile }

// Link is an external URL attached to a compilation.
type Link struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (Link) EntryType() string { return TypeLink }

// InductorOutputCode is generated kernel code.
type InductorOutputCode struct {
	Filename string `json:"filename"`
}

func (InductorOutputCode) EntryType() string { return TypeInductorOutputCode }

// Stem returns the base file name without extension, or "" when unknown.
func (m InductorOutputCode) Stem() string {
	if m.Filename == "" {
		return ""
	}
	base := path.Base(m.Filename)
	return strings.TrimSuffix(base, path.Ext(base))
}

// NamedGraph covers graph_dump and optimize_ddp_split_child.
type NamedGraph struct {
	Kind string `json:"-"`
	Name string `json:"name"`
}

func (m NamedGraph) EntryType() string { return m.Kind }

// DescribeTensor describes one tensor seen during tracing.
type DescribeTensor struct {
	ID           *int   `json:"id"`
	DescriberID  *int   `json:"describer_id"`
	Ndim         *int   `json:"ndim"`
	Dtype        string `json:"dtype"`
	Device       string `json:"device"`
	Size         []any  `json:"size"`
	Stride       []any  `json:"stride"`
	RequiresGrad *bool  `json:"requires_grad"`
	IsLeaf       *bool  `json:"is_leaf"`
	Storage      *int   `json:"storage"`
}

func (DescribeTensor) EntryType() string { return TypeDescribeTensor }

// Fingerprint is the normalized (size, dtype, device) triple.
func (m DescribeTensor) Fingerprint() string {
	dims := make([]string, len(m.Size))
	for i, d := range m.Size {
		dims[i] = fmt.Sprint(d)
	}
	return fmt.Sprintf("size=[%s] dtype=%s device=%s", strings.Join(dims, ","), m.Dtype, m.Device)
}

// ExpressionCreated records a symbolic expression built from its arguments.
type ExpressionCreated struct {
	ID          *int            `json:"id"`
	Result      string          `json:"result"`
	Method      string          `json:"method"`
	Arguments   []string        `json:"arguments"`
	ArgumentIDs []int           `json:"argument_ids"`
	UserStack   json.RawMessage `json:"user_stack,omitempty"`
	Stack       json.RawMessage `json:"stack,omitempty"`
}

func (ExpressionCreated) EntryType() string { return TypeExpressionCreated }

// SymbolicGuard covers guard_added, guard_added_fast and
// propagate_real_tensors_provenance.
type SymbolicGuard struct {
	Kind        string          `json:"-"`
	Expr        string          `json:"expr"`
	ExprNodeID  *int            `json:"expr_node_id"`
	UserStack   json.RawMessage `json:"user_stack,omitempty"`
	Stack       json.RawMessage `json:"stack,omitempty"`
	FrameLocals json.RawMessage `json:"frame_locals,omitempty"`
}

func (m SymbolicGuard) EntryType() string { return m.Kind }

// Specialization records a symbol being specialized to a constant.
type Specialization struct {
	Symbol    string          `json:"symbol"`
	Value     any             `json:"value"`
	Reason    string          `json:"reason"`
	Sources   []string        `json:"sources"`
	UserStack json.RawMessage `json:"user_stack,omitempty"`
}

func (Specialization) EntryType() string { return TypeSymbolicSpecialization }

// UnbackedSymbol records a data-dependent symbol allocation.
type UnbackedSymbol struct {
	Symbol    string          `json:"symbol"`
	VR        string          `json:"vr"`
	UserStack json.RawMessage `json:"user_stack,omitempty"`
}

func (UnbackedSymbol) EntryType() string { return TypeCreateUnbackedSymbol }

// KernelFailure covers missing_fake_kernel and mismatched_fake_kernel.
type KernelFailure struct {
	Kind   string `json:"-"`
	Op     string `json:"op"`
	Reason string `json:"reason"`
}

func (m KernelFailure) EntryType() string { return m.Kind }

// Generic is the fallback for entry types without a dedicated variant.
type Generic struct {
	Kind   string
	Fields map[string]json.RawMessage
}

func (m Generic) EntryType() string { return m.Kind }

// StringField returns a string field or "".
func (m Generic) StringField(key string) string {
	raw, ok := m.Fields[key]
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// DecodeMetadata decodes raw into the variant for entryType.
func DecodeMetadata(entryType string, raw json.RawMessage) (Metadata, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	var (
		m   Metadata
		err error
	)
	switch entryType {
	case TypeDynamoStart:
		var v DynamoStart
		err = json.Unmarshal(raw, &v)
		m = v
	case TypeCompilationMetrics, TypeBwdCompilationMetrics, TypeAOTBackwardMetrics:
		v := CompilationMetricsMeta{Kind: entryType}
		err = json.Unmarshal(raw, &v)
		m = v
	case TypeArtifact:
		var v Artifact
		err = json.Unmarshal(raw, &v)
		m = v
	case TypeDumpFile:
		var v DumpFile
		err = json.Unmarshal(raw, &v)
		m = v
	case TypeLink:
		var v Link
		err = json.Unmarshal(raw, &v)
		m = v
	case TypeInductorOutputCode:
		var v InductorOutputCode
		err = json.Unmarshal(raw, &v)
		m = v
	case TypeGraphDump, TypeOptimizeDDPSplitChild:
		v := NamedGraph{Kind: entryType}
		err = json.Unmarshal(raw, &v)
		m = v
	case TypeDescribeTensor:
		var v DescribeTensor
		err = json.Unmarshal(raw, &v)
		m = v
	case TypeExpressionCreated:
		var v ExpressionCreated
		err = json.Unmarshal(raw, &v)
		m = v
	case TypeGuardAdded, TypeGuardAddedFast, TypePropagateRealTensors:
		v := SymbolicGuard{Kind: entryType}
		err = json.Unmarshal(raw, &v)
		m = v
	case TypeSymbolicSpecialization:
		var v Specialization
		err = json.Unmarshal(raw, &v)
		m = v
	case TypeCreateUnbackedSymbol:
		var v UnbackedSymbol
		err = json.Unmarshal(raw, &v)
		m = v
	case TypeMissingFakeKernel, TypeMismatchedFakeKernel:
		v := KernelFailure{Kind: entryType}
		err = json.Unmarshal(raw, &v)
		m = v
	default:
		v := Generic{Kind: entryType}
		err = json.Unmarshal(raw, &v.Fields)
		m = v
	}
	if err != nil {
		return Generic{Kind: entryType}, fmt.Errorf("decode %s metadata: %w", entryType, err)
	}
	return m, nil
}
