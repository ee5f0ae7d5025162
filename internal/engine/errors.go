package engine

import (
	"errors"
	"fmt"

	"github.com/coffersTech/nanotrace/internal/model"
)

// Non-fatal per-line failures. The pipeline counts and skips them.
var (
	ErrMalformedLine           = errors.New("malformed line")
	ErrUnknownEnvelopeType     = errors.New("unknown envelope type")
	ErrDanglingStringReference = errors.New("dangling string reference")
)

// ErrManifestFrozen is returned when a finalized manifest is mutated.
var ErrManifestFrozen = errors.New("manifest is frozen")

// LineError attaches a capture line number to a per-line failure.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// StreamWriteError reports an I/O failure on one intermediate stream.
// It aborts ingestion.
type StreamWriteError struct {
	Stream model.IntermediateFileType
	Err    error
}

func (e *StreamWriteError) Error() string {
	return fmt.Sprintf("write %s stream: %v", e.Stream, e.Err)
}

func (e *StreamWriteError) Unwrap() error { return e.Err }
