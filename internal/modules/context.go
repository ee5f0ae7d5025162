package modules

import (
	"sort"

	"go.uber.org/zap"

	"github.com/coffersTech/nanotrace/internal/engine"
	"github.com/coffersTech/nanotrace/internal/model"
	"github.com/coffersTech/nanotrace/internal/pkg/nanoql"
	"github.com/coffersTech/nanotrace/internal/storage"
)

// Settings are the render-time options visible to every module.
type Settings struct {
	PlainText        bool
	CustomHeaderHTML string
	ExportMode       bool
	MaterializeLazy  bool
}

// Context gives modules read access to one intermediate directory.
// Every read opens the stream afresh; nothing is cached between calls.
type Context struct {
	Dir      string
	Manifest *engine.Manifest
	Settings Settings
	Logger   *zap.Logger
}

// NewContext creates a Context over dir.
func NewContext(dir string, manifest *engine.Manifest, settings Settings, logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{Dir: dir, Manifest: manifest, Settings: settings, Logger: logger}
}

// Read opens a new sequential iterator over ft. The caller closes it.
func (c *Context) Read(ft model.IntermediateFileType) (storage.EntryIterator, error) {
	return storage.OpenStream(c.Dir, ft)
}

// Each calls fn for every entry of ft in file order.
func (c *Context) Each(ft model.IntermediateFileType, fn func(e *model.IntermediateEntry) error) error {
	it, err := c.Read(ft)
	if err != nil {
		return err
	}
	defer it.Close()

	for it.Next() {
		e := it.Entry()
		if err := fn(&e); err != nil {
			return err
		}
	}
	return it.Error()
}

// Filter returns the entries of ft accepted by keep.
func (c *Context) Filter(ft model.IntermediateFileType, keep func(e *model.IntermediateEntry) bool) ([]model.IntermediateEntry, error) {
	var out []model.IntermediateEntry
	err := c.Each(ft, func(e *model.IntermediateEntry) error {
		if keep(e) {
			out = append(out, *e)
		}
		return nil
	})
	return out, err
}

// Collect returns every entry of ft.
func (c *Context) Collect(ft model.IntermediateFileType) ([]model.IntermediateEntry, error) {
	return c.Filter(ft, func(*model.IntermediateEntry) bool { return true })
}

// FilterByCompileID returns the entries of ft for one compile id key.
func (c *Context) FilterByCompileID(ft model.IntermediateFileType, key string) ([]model.IntermediateEntry, error) {
	return c.Filter(ft, func(e *model.IntermediateEntry) bool { return e.Key() == key })
}

// FilterByType returns the entries of ft whose type is one of types.
func (c *Context) FilterByType(ft model.IntermediateFileType, types ...string) ([]model.IntermediateEntry, error) {
	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	return c.Filter(ft, func(e *model.IntermediateEntry) bool { return want[e.Type] })
}

// Group is the entries of one compile id key, in file order.
type Group struct {
	Key     string
	Entries []model.IntermediateEntry
}

// GroupByCompileID buckets the entries of ft by compile id key. Groups are
// ordered by compile id, with global entries first.
func (c *Context) GroupByCompileID(ft model.IntermediateFileType) ([]Group, error) {
	idx := make(map[string]int)
	var groups []Group
	err := c.Each(ft, func(e *model.IntermediateEntry) error {
		k := e.Key()
		i, ok := idx[k]
		if !ok {
			i = len(groups)
			idx[k] = i
			groups = append(groups, Group{Key: k})
		}
		groups[i].Entries = append(groups[i].Entries, *e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(groups, func(i, j int) bool { return keyLess(groups[i].Key, groups[j].Key) })
	return groups, nil
}

// Select returns the entries of ft matching a NanoQL query.
func (c *Context) Select(ft model.IntermediateFileType, query string) ([]model.IntermediateEntry, error) {
	node, err := nanoql.Parse(query)
	if err != nil {
		return nil, err
	}
	return c.Filter(ft, func(e *model.IntermediateEntry) bool {
		return nanoql.Match(node, entryRecord{e})
	})
}

// keyLess orders compile id keys numerically with the global key first.
func keyLess(a, b string) bool {
	if a == b {
		return false
	}
	if a == model.GlobalKey {
		return true
	}
	if b == model.GlobalKey {
		return false
	}
	ia, errA := model.ParseCompileID(a)
	ib, errB := model.ParseCompileID(b)
	if errA != nil || errB != nil {
		return a < b
	}
	return ia.Less(ib)
}

// SortKeys sorts compile id keys in report order.
func SortKeys(keys []string) {
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
}

// Count returns the number of entries in ft, from the manifest when one is
// attached and by scanning the stream otherwise.
func (c *Context) Count(ft model.IntermediateFileType) (int64, error) {
	if c.Manifest != nil && c.Manifest.Frozen() {
		return c.Manifest.Files[ft.String()].Count, nil
	}
	var n int64
	err := c.Each(ft, func(*model.IntermediateEntry) error {
		n++
		return nil
	})
	return n, err
}
