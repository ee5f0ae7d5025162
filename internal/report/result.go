// Package report commits rendered module output to the final report
// directory.
package report

import (
	"fmt"

	"github.com/coffersTech/nanotrace/internal/engine"
)

// Stage names a phase of a run.
type Stage string

const (
	StageIngestion Stage = "ingestion"
	StageRendering Stage = "rendering"
	StageAnalysis  Stage = "analysis"
	StageCommit    Stage = "commit"
)

// Run status.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// StageError reports which stage failed and, when known, the stream or
// module responsible.
type StageError struct {
	Stage     Stage
	Component string
	Err       error
}

func (e *StageError) Error() string {
	if e.Component == "" {
		return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s failed in %s: %v", e.Stage, e.Component, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Result is what a run reports back to its caller.
type Result struct {
	OutDir     string
	Files      []string
	Status     string
	Envelopes  int64
	Dropped    engine.DroppedCounts
	ModulesRun []string
	Skipped    []string
	Warnings   []string
	// Stage and Err are set when Status is StatusFailure.
	Stage Stage
	Err   error
}

// Failed builds the result of a run that stopped at stage.
func Failed(stage Stage, component string, err error) *Result {
	return &Result{
		Status: StatusFailure,
		Stage:  stage,
		Err:    &StageError{Stage: stage, Component: component, Err: err},
	}
}
