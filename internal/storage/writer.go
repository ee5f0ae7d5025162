package storage

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/coffersTech/nanotrace/internal/model"
)

// CompressedSuffix is appended to stream file names when compression is on.
const CompressedSuffix = ".zst"

// StreamFileName returns the file name for ft.
func StreamFileName(ft model.IntermediateFileType, compressed bool) string {
	if compressed {
		return ft.Filename() + CompressedSuffix
	}
	return ft.Filename()
}

// StreamWriter appends JSON lines to one stream file.
type StreamWriter struct {
	file  *os.File
	zw    *zstd.Encoder
	buf   *bufio.Writer
	path  string
	count int64
	mu    sync.Mutex
}

// CreateStream creates (truncating) the stream file at path.
func CreateStream(path string, compress bool) (*StreamWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := &StreamWriter{file: f, path: path}

	var sink io.Writer = f
	if compress {
		enc, err := zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		w.zw = enc
		sink = enc
	}
	w.buf = bufio.NewWriterSize(sink, 256*1024)
	return w, nil
}

// Append writes v as a single JSON line.
func (w *StreamWriter) Append(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.buf.Write(data); err != nil {
		return err
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return err
	}
	w.count++
	return nil
}

// Count returns the number of lines appended.
func (w *StreamWriter) Count() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Path returns the file path of the stream.
func (w *StreamWriter) Path() string { return w.path }

// Name returns the file name of the stream.
func (w *StreamWriter) Name() string { return filepath.Base(w.path) }

// Close flushes buffered lines to disk and closes the file.
func (w *StreamWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.buf.Flush()
	if w.zw != nil {
		if cerr := w.zw.Close(); err == nil {
			err = cerr
		}
	}
	if serr := w.file.Sync(); err == nil {
		err = serr
	}
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	return err
}
