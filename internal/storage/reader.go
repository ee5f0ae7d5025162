package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/coffersTech/nanotrace/internal/model"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// EntryIterator provides an entry-by-entry view of one stream.
type EntryIterator interface {
	Next() bool
	Entry() model.IntermediateEntry
	Error() error
	Close() error
}

// OpenStream opens the stream ft inside dir, compressed or not.
// A stream that was never written yields an empty iterator.
func OpenStream(dir string, ft model.IntermediateFileType) (EntryIterator, error) {
	for _, compressed := range []bool{false, true} {
		path := filepath.Join(dir, StreamFileName(ft, compressed))
		rc, err := OpenCapture(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return newLineIterator(rc, ft), nil
	}
	return emptyIterator{}, nil
}

// OpenCapture opens a file for reading, transparently decompressing zstd.
func OpenCapture(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReaderSize(f, 64*1024)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, err
	}
	if !bytes.Equal(head, zstdMagic) {
		return &captureReader{Reader: br, file: f}, nil
	}

	dec, err := zstd.NewReader(br)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &captureReader{Reader: dec, file: f, dec: dec}, nil
}

type captureReader struct {
	io.Reader
	file *os.File
	dec  *zstd.Decoder
}

func (c *captureReader) Close() error {
	if c.dec != nil {
		c.dec.Close()
	}
	return c.file.Close()
}

// lineIterator decodes one JSON entry per line.
type lineIterator struct {
	rc   io.ReadCloser
	r    *bufio.Reader
	ft   model.IntermediateFileType
	line int
	curr model.IntermediateEntry
	err  error
}

func newLineIterator(rc io.ReadCloser, ft model.IntermediateFileType) *lineIterator {
	return &lineIterator{rc: rc, r: bufio.NewReaderSize(rc, 256*1024), ft: ft}
}

func (it *lineIterator) Next() bool {
	if it.err != nil {
		return false
	}
	for {
		raw, err := it.r.ReadBytes('\n')
		if len(raw) > 0 {
			it.line++
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 {
			var e model.IntermediateEntry
			if uerr := json.Unmarshal(raw, &e); uerr != nil {
				it.err = fmt.Errorf("%s line %d: %w", it.ft, it.line, uerr)
				return false
			}
			it.curr = e
			return true
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				it.err = err
			}
			return false
		}
	}
}

func (it *lineIterator) Entry() model.IntermediateEntry { return it.curr }

func (it *lineIterator) Error() error { return it.err }

func (it *lineIterator) Close() error { return it.rc.Close() }

type emptyIterator struct{}

func (emptyIterator) Next() bool                     { return false }
func (emptyIterator) Entry() model.IntermediateEntry { return model.IntermediateEntry{} }
func (emptyIterator) Error() error                   { return nil }
func (emptyIterator) Close() error                   { return nil }

// ReadAll drains an iterator and closes it.
func ReadAll(it EntryIterator) ([]model.IntermediateEntry, error) {
	defer it.Close()

	var entries []model.IntermediateEntry
	for it.Next() {
		entries = append(entries, it.Entry())
	}
	return entries, it.Error()
}
