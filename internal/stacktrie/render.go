package stacktrie

import (
	"bytes"
	"html/template"
	"regexp"
	"strconv"
)

var evalWithKey = regexp.MustCompile(`<eval_with_key>\.([0-9]+)`)

type frameView struct {
	File string
	Line int
	Name string
	Loc  string
	// Link points at the dumped source of a generated fx module.
	Link string
}

type nodeView struct {
	Frame     frameView
	Terminals []Terminal
	Children  []nodeView
	OK        int
	Failed    int
}

func viewOf(n *Node) nodeView {
	v := nodeView{
		Frame: frameView{
			File: SimplifyFilename(n.Frame.Filename),
			Line: n.Frame.Line,
			Name: n.Frame.Name,
			Loc:  n.Frame.Loc,
		},
		Terminals: n.Terminals,
	}
	if m := evalWithKey.FindStringSubmatch(n.Frame.Filename); m != nil {
		v.Frame.Link = "dump_file/eval_with_key_" + m[1] + ".html#L" + strconv.Itoa(n.Frame.Line)
	}
	v.OK, v.Failed = n.Counts()
	for _, c := range n.children {
		v.Children = append(v.Children, viewOf(c))
	}
	return v
}

var trieTmpl = template.Must(template.New("trie").Parse(`
{{- define "terminals"}}{{range .}}<a href="#{{.Key}}" class="{{.Status.Class}}" title="{{.Summary}}">{{.Display}}</a> {{end}}{{end}}
{{- define "frame"}}{{if .Link}}<a href="{{.Link}}">{{.File}}:{{.Line}}</a>{{else if .File}}{{.File}}:{{.Line}}{{end}}{{if .File}} in {{end}}{{.Name}}{{with .Loc}}<br><code>{{.}}</code>{{end}}{{end}}
{{- define "node"}}<li>{{if .Children}}<details open><summary>{{template "terminals" .Terminals}}{{template "frame" .Frame}} <span class="muted">({{.OK}} ok, {{.Failed}} failed)</span></summary>
<ul class="trie">{{range .Children}}{{template "node" .}}{{end}}</ul></details>{{else}}{{template "terminals" .Terminals}}{{template "frame" .Frame}}{{end}}</li>
{{end}}
<details open><summary>Stack Trie</summary>
<div class="stack-trie"><ul class="trie">
{{- with .Terminals}}<li>{{template "terminals" .}}<span class="muted">(empty stack)</span></li>{{end}}
{{- range .Children}}{{template "node" .}}{{end}}
</ul></div></details>
`))

// Render writes t as a collapsible HTML tree. Each node shows how many of
// the compilations below it succeeded and failed; each terminal links to
// the compile id's anchor in the index.
func Render(t *Trie) (template.HTML, error) {
	var buf bytes.Buffer
	if err := trieTmpl.Execute(&buf, viewOf(t.Root())); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}
