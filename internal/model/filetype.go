package model

import "fmt"

// IntermediateFileType names one intermediate stream.
type IntermediateFileType uint8

const (
	Graphs IntermediateFileType = iota
	Codegen
	Guards
	CompilationMetrics
	ChromiumEvents
	Artifacts
	TensorMetadata
	Export
	Cache
)

// AllFileTypes lists every stream in a stable order.
var AllFileTypes = []IntermediateFileType{
	Graphs, Codegen, Guards, CompilationMetrics, ChromiumEvents,
	Artifacts, TensorMetadata, Export, Cache,
}

var fileTypeNames = [...]string{
	Graphs:             "graphs",
	Codegen:            "codegen",
	Guards:             "guards",
	CompilationMetrics: "compilation_metrics",
	ChromiumEvents:     "chromium_events",
	Artifacts:          "artifacts",
	TensorMetadata:     "tensor_metadata",
	Export:             "export",
	Cache:              "cache",
}

func (t IntermediateFileType) String() string {
	if int(t) < len(fileTypeNames) {
		return fileTypeNames[t]
	}
	return fmt.Sprintf("stream(%d)", uint8(t))
}

// Filename is the on-disk name of the stream.
func (t IntermediateFileType) Filename() string {
	return t.String() + ".jsonl"
}

// ParseFileType resolves a stream name such as "guards".
func ParseFileType(name string) (IntermediateFileType, error) {
	for i, n := range fileTypeNames {
		if n == name {
			return IntermediateFileType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stream %q", name)
}

func (t IntermediateFileType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *IntermediateFileType) UnmarshalText(b []byte) error {
	v, err := ParseFileType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// CacheStatus classifies a cache-related artifact.
type CacheStatus uint8

const (
	CacheNone CacheStatus = iota
	CacheHit
	CacheMiss
	CacheBypass
)

func (s CacheStatus) String() string {
	switch s {
	case CacheHit:
		return "hit"
	case CacheMiss:
		return "miss"
	case CacheBypass:
		return "bypass"
	default:
		return ""
	}
}

func (s CacheStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *CacheStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "hit":
		*s = CacheHit
	case "miss":
		*s = CacheMiss
	case "bypass":
		*s = CacheBypass
	case "":
		*s = CacheNone
	default:
		return fmt.Errorf("unknown cache status %q", b)
	}
	return nil
}
