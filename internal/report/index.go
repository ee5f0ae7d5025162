package report

import (
	"encoding/json"
	"html/template"

	"github.com/coffersTech/nanotrace/internal/engine"
	"github.com/coffersTech/nanotrace/internal/model"
	"github.com/coffersTech/nanotrace/internal/modules"
)

const (
	IndexFile            = "index.html"
	CompileDirectoryFile = "compile_directory.json"
)

// directoryItem is one artifact descriptor in compile_directory.json.
type directoryItem struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Suffix      string `json:"suffix"`
	CacheStatus string `json:"cache_status,omitempty"`
}

// compileDirectory builds the compile_directory.json document.
func compileDirectory(c *modules.CombinedOutput) ([]byte, error) {
	doc := make(map[string][]directoryItem, len(c.DirectoryEntries))
	for key, entries := range c.DirectoryEntries {
		items := make([]directoryItem, len(entries))
		for i, e := range entries {
			items[i] = directoryItem{Name: e.Name, URL: e.URL, Suffix: e.Suffix(), CacheStatus: e.Cache.String()}
		}
		doc[key] = items
	}
	return json.MarshalIndent(doc, "", "  ")
}

type indexKey struct {
	Key     string
	Display string
	Entries []modules.DirectoryEntry
}

type indexView struct {
	Title        string
	Manifest     *engine.Manifest
	Sections     []modules.Section
	Keys         []indexKey
	Skipped      []*modules.RenderError
	Intermediate bool
}

var indexTmpl = template.Must(template.New("index").Parse(`
{{with .Manifest}}<table>
<tr><th>Source</th><td><code>{{.SourceFile}}</code></td></tr>
<tr><th>Envelopes</th><td>{{.TotalEnvelopes}}</td></tr>
<tr><th>Dropped</th><td>{{.Dropped.Malformed}} malformed, {{.Dropped.UnknownType}} unknown type, {{.Dropped.DanglingRefs}} dangling string references</td></tr>
<tr><th>Compile ids</th><td>{{len .CompileIDs}}</td></tr>
</table>{{end}}
{{with .Skipped}}<div class="warning"><h2>Skipped Modules</h2><ul>{{range .}}<li>{{.Module}}: {{.Err}}</li>{{end}}</ul></div>{{end}}
{{range .Sections}}<h2>{{.Title}}</h2>
{{range .Entries}}{{.}}
{{end}}{{end}}
{{with .Keys}}<h2>Artifacts by Compile ID</h2>
{{range .}}<div id="{{.Key}}"><h3>{{.Display}}</h3><ul>
{{range .Entries}}<li><a href="{{.URL}}">{{.Name}}</a>{{with .Suffix}} {{.}}{{end}}</li>
{{end}}</ul></div>
{{end}}{{end}}
{{if .Intermediate}}<p class="muted">Intermediate streams are kept under <a href="intermediate/">intermediate/</a>.</p>{{end}}
`))

// indexPage renders index.html for one report.
func indexPage(title string, header template.HTML, c *modules.CombinedOutput, m *engine.Manifest, intermediate bool) ([]byte, error) {
	view := indexView{
		Title:        title,
		Manifest:     m,
		Sections:     c.Sections(),
		Skipped:      c.Skipped,
		Intermediate: intermediate,
	}
	for _, k := range c.DirectoryKeys() {
		view.Keys = append(view.Keys, indexKey{Key: k, Display: model.DisplayKey(k), Entries: c.DirectoryEntries[k]})
	}
	body, err := modules.Fragment(indexTmpl, view)
	if err != nil {
		return nil, err
	}
	return modules.RenderPage(title, header, body)
}
