package modules

import (
	"context"
	"encoding/json"
	"html/template"
	"path"

	"github.com/coffersTech/nanotrace/internal/model"
)

// Guards renders the dynamo guard tables and the C++ guard strings of each
// compilation.
type Guards struct{}

func (Guards) Name() string              { return "Dynamo Guards" }
func (Guards) ID() string                { return "guards" }
func (Guards) Strategy() LoadingStrategy { return Eager }

func (Guards) Subscriptions() []model.IntermediateFileType {
	return []model.IntermediateFileType{model.Guards, model.Codegen}
}

type dynamoGuard struct {
	Code       string   `json:"code"`
	Type       string   `json:"type"`
	GuardTypes []string `json:"guard_types"`
}

var guardsTmpl = template.Must(template.New("guards").Parse(`
<input type="text" id="filter" placeholder="Filter guards..." oninput="filterGuards()">
<span id="count" class="muted">{{len .}} guards</span>
<table id="guards">
<thead><tr><th>Code</th><th>Type</th><th>Guard Types</th></tr></thead>
<tbody>
{{range .}}<tr class="guard-row"><td><pre>{{.Code}}</pre></td><td>{{.Type}}</td><td class="muted">{{range $i, $t := .GuardTypes}}{{if $i}}, {{end}}{{$t}}{{end}}</td></tr>
{{end}}</tbody>
</table>
<script>
function filterGuards() {
  const f = document.getElementById('filter').value.toLowerCase();
  const rows = document.getElementsByClassName('guard-row');
  let visible = 0;
  for (const row of rows) {
    const show = row.textContent.toLowerCase().includes(f);
    row.style.display = show ? '' : 'none';
    if (show) visible++;
  }
  document.getElementById('count').textContent = visible + ' / ' + rows.length + ' guards';
}
</script>
`))

func (Guards) Render(ctx context.Context, mc *Context) (*Output, error) {
	out := NewOutput()
	names := make(nameCounter)

	err := mc.Each(model.Guards, func(e *model.IntermediateEntry) error {
		if e.Type != model.TypeDynamoGuards {
			return nil
		}
		var guards []dynamoGuard
		if p := e.PayloadString(); p != "" {
			if err := json.Unmarshal([]byte(p), &guards); err != nil {
				mc.Logger.Sugar().Debugw("unreadable guard payload", "compile_id", e.Key(), "err", err)
			}
		}
		body, err := Fragment(guardsTmpl, guards)
		if err != nil {
			return err
		}
		page, err := RenderPage("Dynamo Guards", template.HTML(mc.Settings.CustomHeaderHTML), body)
		if err != nil {
			return err
		}
		key := e.Key()
		file := names.next(key, "dynamo_guards.html")
		out.AddFile(key, file, path.Join(key, file), page)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	err = mc.Each(model.Codegen, func(e *model.IntermediateEntry) error {
		if e.Type != model.TypeDynamoCppGuardsStr {
			return nil
		}
		key := e.Key()
		file := names.next(key, "dynamo_cpp_guards_str.txt")
		out.AddFile(key, file, path.Join(key, file), []byte(e.PayloadString()))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
