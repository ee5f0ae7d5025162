// Package modules turns intermediate streams into report content.
//
// A module reads the streams it subscribes to through a Context and returns
// an Output: files, per-compile-id directory entries, index sections and,
// for lazy modules, references into the intermediate data that are resolved
// when the report is committed.
package modules

import (
	"context"
	"fmt"
	"html/template"

	"github.com/coffersTech/nanotrace/internal/model"
)

// LoadingStrategy says when a module's content is produced.
type LoadingStrategy uint8

const (
	// Eager modules produce all of their content at render time.
	Eager LoadingStrategy = iota
	// Lazy modules produce placeholders and LazyRefs.
	Lazy
	// Hybrid modules produce an eager summary plus lazy detail.
	Hybrid
)

func (s LoadingStrategy) String() string {
	switch s {
	case Eager:
		return "eager"
	case Lazy:
		return "lazy"
	case Hybrid:
		return "hybrid"
	default:
		return fmt.Sprintf("strategy(%d)", uint8(s))
	}
}

// Module renders one part of the report.
type Module interface {
	// Name is the human-readable name.
	Name() string
	// ID is the short identifier used in flags and logs.
	ID() string
	// Subscriptions lists the streams the module reads.
	Subscriptions() []model.IntermediateFileType
	Strategy() LoadingStrategy
	Render(ctx context.Context, mc *Context) (*Output, error)
}

// File is one report file, relative to the output directory.
type File struct {
	Path    string
	Content []byte
}

// DirectoryEntry is one link in a compile id's directory listing.
type DirectoryEntry struct {
	Name  string            `json:"name"`
	URL   string            `json:"url"`
	Cache model.CacheStatus `json:"cache_status,omitempty"`
}

// Suffix is the marker shown after the link. It is derived from the cache
// status and only used for presentation.
func (d DirectoryEntry) Suffix() string {
	switch d.Cache {
	case model.CacheHit:
		return "✅"
	case model.CacheMiss:
		return "❌"
	case model.CacheBypass:
		return "⚠️"
	default:
		return ""
	}
}

// IndexEntry is a fragment contributed to a section of index.html.
type IndexEntry struct {
	Section string
	HTML    template.HTML
}

// Section is the index entries sharing one heading.
type Section struct {
	Title   string
	Entries []template.HTML
}

// LazyFormat selects how resolved entries are written out.
type LazyFormat uint8

const (
	// FormatText writes the payload of one entry verbatim.
	FormatText LazyFormat = iota
	// FormatJSON pretty-prints the payload of one entry.
	FormatJSON
	// FormatCodeHTML wraps the payload of one entry in a code page.
	FormatCodeHTML
	// FormatMetadataArray writes every match as one element of a JSON array:
	// the payload when it holds JSON, the metadata otherwise.
	FormatMetadataArray
	// FormatFailuresHTML renders the failed compilations among the matches.
	FormatFailuresHTML
	// FormatSourceHTML renders the payload of one entry with line anchors.
	FormatSourceHTML
)

// LazyRef points at intermediate entries that back one report file.
type LazyRef struct {
	Path      string
	Title     string
	Stream    model.IntermediateFileType
	CompileID string // "" matches any compile id
	EntryType string // "" matches any entry type
	Name      string // metadata "name"; "" matches any
	Ordinal   int    // index among matches; -1 selects all
	Format    LazyFormat
}

// Output is what one module contributes to the report.
type Output struct {
	Files            []File
	DirectoryEntries map[string][]DirectoryEntry
	IndexEntries     []IndexEntry
	LazyRefs         []LazyRef
}

// NewOutput returns an empty Output.
func NewOutput() *Output {
	return &Output{DirectoryEntries: make(map[string][]DirectoryEntry)}
}

// AddFile appends a file and, when key is not empty, links it from the
// compile directory under name.
func (o *Output) AddFile(key, name, path string, content []byte) {
	o.Files = append(o.Files, File{Path: path, Content: content})
	if key != "" {
		o.AddLink(key, DirectoryEntry{Name: name, URL: path})
	}
}

// AddLazy appends a lazy reference and its directory link.
func (o *Output) AddLazy(key, name string, ref LazyRef, status model.CacheStatus) {
	o.LazyRefs = append(o.LazyRefs, ref)
	if key != "" {
		o.AddLink(key, DirectoryEntry{Name: name, URL: ref.Path, Cache: status})
	}
}

// AddLink appends a directory entry for key.
func (o *Output) AddLink(key string, e DirectoryEntry) {
	if o.DirectoryEntries == nil {
		o.DirectoryEntries = make(map[string][]DirectoryEntry)
	}
	o.DirectoryEntries[key] = append(o.DirectoryEntries[key], e)
}

// AddIndex contributes an index fragment.
func (o *Output) AddIndex(section string, html template.HTML) {
	o.IndexEntries = append(o.IndexEntries, IndexEntry{Section: section, HTML: html})
}

// validate enforces the contract of a module's loading strategy.
func (o *Output) validate(s LoadingStrategy) error {
	switch s {
	case Eager:
		if len(o.LazyRefs) > 0 {
			return fmt.Errorf("eager module returned %d lazy references", len(o.LazyRefs))
		}
	case Hybrid:
		if len(o.LazyRefs) > 0 && len(o.IndexEntries) == 0 {
			return fmt.Errorf("hybrid module returned lazy detail without a summary")
		}
	}
	for _, r := range o.LazyRefs {
		if r.Path == "" {
			return fmt.Errorf("lazy reference without a path")
		}
	}
	return nil
}
