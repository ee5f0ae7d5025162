package modules

import (
	"context"
	"html/template"

	"github.com/valyala/fastjson"

	"github.com/coffersTech/nanotrace/internal/model"
)

const exportPage = "export.html"

// Export summarizes a torch.export run: fake kernel failures and the
// exported program.
type Export struct{}

func (Export) Name() string              { return "Export" }
func (Export) ID() string                { return "export" }
func (Export) Strategy() LoadingStrategy { return Eager }

func (Export) Subscriptions() []model.IntermediateFileType {
	return []model.IntermediateFileType{model.Export}
}

type exportFailure struct {
	Type   string
	Op     string
	Reason string
}

type exportView struct {
	Failures []exportFailure
	Program  string
	Done     bool
}

var exportTmpl = template.Must(template.New("export").Parse(`
{{if .Failures}}<p class="error">Export failed</p>{{else if .Done}}<p class="success">Export successful</p>{{end}}
{{with .Failures}}<h2>Export Failures</h2>
<table><thead><tr><th>Type</th><th>Operator</th><th>Reason</th></tr></thead><tbody>
{{range .}}<tr><td class="error">{{.Type}}</td><td><code>{{.Op}}</code></td><td>{{.Reason}}</td></tr>
{{end}}</tbody></table>{{end}}
{{if .Done}}<h2>Exported Program</h2><details open><summary>View Program</summary><pre>{{.Program}}</pre></details>{{end}}
`))

var exportSummaryTmpl = template.Must(template.New("export-summary").Parse(
	`<div class="export-summary">{{if .Failures}}<span class="error">{{len .Failures}} export failure(s)</span>{{else}}<span class="success">no export failures</span>{{end}} <a href="` + exportPage + `">View export details</a></div>`))

func (Export) Render(_ context.Context, mc *Context) (*Output, error) {
	var view exportView
	err := mc.Each(model.Export, func(e *model.IntermediateEntry) error {
		switch e.Type {
		case model.TypeMissingFakeKernel, model.TypeMismatchedFakeKernel:
			reason := fastjson.GetString(e.Metadata, "reason")
			if reason == "" {
				reason = "No fake kernel registered"
				if e.Type == model.TypeMismatchedFakeKernel {
					reason = "Output mismatch"
				}
			}
			view.Failures = append(view.Failures, exportFailure{
				Type:   e.Type,
				Op:     orDefault(fastjson.GetString(e.Metadata, "op"), "unknown"),
				Reason: reason,
			})
		case model.TypeExportedProgram:
			view.Program = e.PayloadString()
			view.Done = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := NewOutput()
	if !mc.Settings.ExportMode {
		return out, nil
	}
	body, err := Fragment(exportTmpl, view)
	if err != nil {
		return nil, err
	}
	page, err := RenderPage("Export Analysis", template.HTML(mc.Settings.CustomHeaderHTML), body)
	if err != nil {
		return nil, err
	}
	out.AddFile(model.GlobalKey, exportPage, exportPage, page)

	summary, err := Fragment(exportSummaryTmpl, view)
	if err != nil {
		return nil, err
	}
	out.AddIndex("Export", summary)
	return out, nil
}
