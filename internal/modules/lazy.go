package modules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"

	"github.com/valyala/fastjson"

	"github.com/coffersTech/nanotrace/internal/model"
)

// Resolve returns the entries a lazy reference points at.
func (c *Context) Resolve(ref LazyRef) ([]model.IntermediateEntry, error) {
	var matches []model.IntermediateEntry
	n := 0
	err := c.Each(ref.Stream, func(e *model.IntermediateEntry) error {
		if ref.CompileID != "" && e.Key() != ref.CompileID {
			return nil
		}
		if ref.EntryType != "" && e.Type != ref.EntryType {
			return nil
		}
		if ref.Name != "" && fastjson.GetString(e.Metadata, "name") != ref.Name {
			return nil
		}
		if ref.Ordinal < 0 || n == ref.Ordinal {
			matches = append(matches, *e)
		}
		n++
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ref.Ordinal >= 0 && len(matches) == 0 {
		return nil, fmt.Errorf("lazy reference %s: entry %d not found in %s", ref.Path, ref.Ordinal, ref.Stream)
	}
	return matches, nil
}

// Materialize resolves ref and formats the content of its file.
func (c *Context) Materialize(ref LazyRef) ([]byte, error) {
	entries, err := c.Resolve(ref)
	if err != nil {
		return nil, err
	}

	switch ref.Format {
	case FormatText:
		return []byte(entries[0].PayloadString()), nil
	case FormatJSON:
		return PrettyJSON(entries[0].PayloadString()), nil
	case FormatCodeHTML:
		return CodePage(ref.Title, entries[0].PayloadString())
	case FormatMetadataArray:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range entries {
			if i > 0 {
				buf.WriteByte(',')
			}
			if p := e.PayloadString(); p != "" && fastjson.Validate(p) == nil {
				buf.WriteString(p)
			} else {
				buf.Write(e.Metadata)
			}
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case FormatFailuresHTML:
		return renderFailuresPage(entries)
	case FormatSourceHTML:
		return SourcePage(ref.Title, entries[0].PayloadString())
	default:
		return nil, fmt.Errorf("lazy reference %s: unknown format %d", ref.Path, ref.Format)
	}
}

var placeholderTmpl = template.Must(template.New("placeholder").Parse(`
<p class="muted">This content was not materialized. It is read on demand from the intermediate data.</p>
<table>
<tr><th>Stream</th><td>{{.Stream}}</td></tr>
{{if .CompileID}}<tr><th>Compile id</th><td>{{.CompileID}}</td></tr>{{end}}
{{if .EntryType}}<tr><th>Entry type</th><td>{{.EntryType}}</td></tr>{{end}}
{{if .Name}}<tr><th>Name</th><td>{{.Name}}</td></tr>{{end}}
{{if ge .Ordinal 0}}<tr><th>Match</th><td>{{.Ordinal}} (zero-based, in stream order)</td></tr>{{end}}
</table>
<p class="muted">From the report directory:</p>
<pre>nanotrace query {{.Dir}} {{.Stream}} '{{.Query}}'</pre>
`))

// Placeholder renders the stand-in written when lazy content is not
// materialized. dir is where the intermediate streams are kept, relative
// to the report directory.
func Placeholder(ref LazyRef, dir string) ([]byte, error) {
	data := struct {
		LazyRef
		Dir   string
		Query string
	}{LazyRef: ref, Dir: dir, Query: RefQuery(ref)}
	body, err := Fragment(placeholderTmpl, data)
	if err != nil {
		return nil, err
	}
	return RenderPage(ref.Title, "", body)
}

// RefQuery expresses ref as a NanoQL selector.
func RefQuery(ref LazyRef) string {
	var parts []string
	if ref.CompileID != "" {
		parts = append(parts, "compile_id:"+ref.CompileID)
	}
	if ref.EntryType != "" {
		parts = append(parts, "type:"+ref.EntryType)
	}
	if ref.Name != "" {
		b, _ := json.Marshal(ref.Name)
		parts = append(parts, "metadata.name:"+string(b))
	}
	q := ""
	for i, p := range parts {
		if i > 0 {
			q += " AND "
		}
		q += p
	}
	return q
}

type ordinalKey struct {
	cid, typ, name string
}

// ordinals numbers entries the same way Resolve does, so a module can hand
// out LazyRefs while it scans a stream.
type ordinals map[ordinalKey]int

// next returns the ordinal of the current entry among those sharing its
// compile id and type, or among those also sharing name when name is set.
func (o ordinals) next(cid, typ, name string) int {
	all := ordinalKey{cid: cid, typ: typ}
	n := o[all]
	o[all]++
	if name == "" {
		return n
	}
	k := ordinalKey{cid: cid, typ: typ, name: name}
	n = o[k]
	o[k]++
	return n
}
