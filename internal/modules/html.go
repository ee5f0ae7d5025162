package modules

import (
	"bytes"
	"encoding/json"
	"html/template"
	"path"
	"strconv"
	"strings"
)

const pageCSS = `
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; margin: 20px; }
table { border-collapse: collapse; margin-bottom: 20px; }
th, td { border: 1px solid #ddd; padding: 6px 8px; text-align: left; vertical-align: top; }
th { background-color: #f5f5f5; }
pre { background: #f8f8f8; padding: 10px; overflow-x: auto; }
.error { color: #dc3545; }
.success { color: #28a745; }
.warning { color: #b8860b; }
.muted { color: #777; }
.line { display: block; }
.line:target { background-color: #ffffcc; }
.lineno { color: #999; width: 4em; display: inline-block; text-align: right; margin-right: 1em; }
details { margin: 4px 0; }
summary { cursor: pointer; }
ul.trie { list-style: none; padding-left: 1.2em; }
`

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>{{.CSS}}</style>
</head>
<body>
{{.Header}}
<h1>{{.Title}}</h1>
{{.Body}}
</body>
</html>
`))

type pageData struct {
	Title  string
	CSS    template.CSS
	Header template.HTML
	Body   template.HTML
}

// RenderPage wraps body in the standard report page.
func RenderPage(title string, header, body template.HTML) ([]byte, error) {
	var buf bytes.Buffer
	err := pageTmpl.Execute(&buf, pageData{Title: title, CSS: template.CSS(pageCSS), Header: header, Body: body})
	return buf.Bytes(), err
}

// Fragment executes a named template into HTML.
func Fragment(t *template.Template, data any) (template.HTML, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

var codeTmpl = template.Must(template.New("code").Parse(`<pre><code>{{.}}</code></pre>`))

// CodePage renders source text as an HTML page.
func CodePage(title, code string) ([]byte, error) {
	body, err := Fragment(codeTmpl, code)
	if err != nil {
		return nil, err
	}
	return RenderPage(title, "", body)
}

var sourceTmpl = template.Must(template.New("source").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(`<pre class="source">
{{- range $i, $l := .}}<span class="line" id="L{{inc $i}}"><span class="lineno">{{inc $i}}</span>{{$l}}</span>
{{end}}</pre>`))

// SourcePage renders source text with one anchor per line, so that
// file.html#L12 points at line 12.
func SourcePage(title, src string) ([]byte, error) {
	body, err := Fragment(sourceTmpl, strings.Split(strings.TrimSuffix(src, "\n"), "\n"))
	if err != nil {
		return nil, err
	}
	return RenderPage(title, "", body)
}

// PrettyJSON indents a JSON document, returning the input unchanged when it
// does not parse.
func PrettyJSON(s string) []byte {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(s), "", "  "); err != nil {
		return []byte(s)
	}
	return buf.Bytes()
}

// nameCounter disambiguates repeated file names inside one directory.
type nameCounter map[string]int

// next returns name the first time it is seen and name_N afterwards,
// with N inserted before the extension.
func (c nameCounter) next(dir, name string) string {
	full := path.Join(dir, name)
	n := c[full]
	c[full] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + "_" + strconv.Itoa(n) + ext
}

// sanitizeName keeps a file name component free of path separators.
func sanitizeName(s string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_", " ", "_")
	s = r.Replace(s)
	if s == "" {
		return "unnamed"
	}
	return s
}
