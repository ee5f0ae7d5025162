package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/coffersTech/nanotrace/internal/model"
	"github.com/coffersTech/nanotrace/internal/storage"
)

// IntermediateWriter owns one open stream per intermediate file type and
// the manifest describing them.
type IntermediateWriter struct {
	dir      string
	streams  map[model.IntermediateFileType]*storage.StreamWriter
	manifest *Manifest
	closed   bool
}

// NewIntermediateWriter opens every stream inside dir.
func NewIntermediateWriter(dir string, manifest *Manifest, compress bool) (*IntermediateWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	w := &IntermediateWriter{
		dir:      dir,
		streams:  make(map[model.IntermediateFileType]*storage.StreamWriter, len(model.AllFileTypes)),
		manifest: manifest,
	}
	for _, ft := range model.AllFileTypes {
		name := storage.StreamFileName(ft, compress)
		sw, err := storage.CreateStream(filepath.Join(dir, name), compress)
		if err != nil {
			w.closeStreams()
			return nil, &StreamWriteError{Stream: ft, Err: err}
		}
		w.streams[ft] = sw
		if err := manifest.RegisterStream(ft, name); err != nil {
			w.closeStreams()
			return nil, err
		}
	}
	return w, nil
}

// Dir returns the intermediate directory.
func (w *IntermediateWriter) Dir() string { return w.dir }

// Manifest returns the manifest being built.
func (w *IntermediateWriter) Manifest() *Manifest { return w.manifest }

// Write routes env and appends it to its stream. The manifest is only
// updated after the append succeeds.
func (w *IntermediateWriter) Write(env *model.Envelope) error {
	if w.closed {
		return fmt.Errorf("intermediate writer is finalized")
	}
	ft, status, err := Route(env)
	if err != nil {
		return err
	}
	if err := w.streams[ft].Append(model.NewIntermediateEntry(env, status)); err != nil {
		return &StreamWriteError{Stream: ft, Err: err}
	}
	return w.manifest.Record(env, ft, status)
}

// Finalize flushes and closes every stream, then writes the manifest.
func (w *IntermediateWriter) Finalize(stringTableEntries int, dangling int64) error {
	if w.closed {
		return fmt.Errorf("intermediate writer is finalized")
	}
	w.closed = true
	for _, ft := range model.AllFileTypes {
		if err := w.streams[ft].Close(); err != nil {
			w.closeStreams()
			return &StreamWriteError{Stream: ft, Err: err}
		}
		delete(w.streams, ft)
	}
	return w.manifest.Finalize(w.dir, stringTableEntries, dangling)
}

// Abort closes the streams without writing a manifest.
func (w *IntermediateWriter) Abort() {
	w.closed = true
	w.closeStreams()
}

func (w *IntermediateWriter) closeStreams() {
	for ft, sw := range w.streams {
		_ = sw.Close()
		delete(w.streams, ft)
	}
}
