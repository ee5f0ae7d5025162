package modules

import (
	"context"
	"fmt"
	"html/template"
	"path"
	"strconv"

	"github.com/coffersTech/nanotrace/internal/model"
)

// CompilationMetrics renders one metrics page per compilation and a lazily
// resolved page listing every failure and restart.
type CompilationMetrics struct{}

func (CompilationMetrics) Name() string              { return "Compilation Metrics" }
func (CompilationMetrics) ID() string                { return "compilation_metrics" }
func (CompilationMetrics) Strategy() LoadingStrategy { return Hybrid }

func (CompilationMetrics) Subscriptions() []model.IntermediateFileType {
	return []model.IntermediateFileType{model.CompilationMetrics, model.Guards}
}

const failuresPage = "failures_and_restarts.html"

type row struct {
	Label string
	Value string
}

type metricsView struct {
	DisplayName     string
	Kind            string
	Failed          bool
	Info            []row
	Timing          []row
	Graph           []row
	Failure         []row
	Restarts        []string
	Specializations []model.Specialization
	Stack           []model.StackFrame
}

var metricsTmpl = template.Must(template.New("metrics").Funcs(template.FuncMap{
	"str": func(v any) string { return fmt.Sprint(v) },
}).Parse(`
<p class="muted">{{.Kind}} for {{.DisplayName}}</p>
{{if .Failed}}<p class="error">Compilation failed</p>{{else}}<p class="success">Compilation successful</p>{{end}}
{{define "rows"}}<table>{{range .}}<tr><th>{{.Label}}</th><td>{{.Value}}</td></tr>{{end}}</table>{{end}}
{{with .Info}}<h2>Basic Information</h2>{{template "rows" .}}{{end}}
{{with .Timing}}<h2>Timing</h2>{{template "rows" .}}{{end}}
{{with .Graph}}<h2>Graph Statistics</h2>{{template "rows" .}}{{end}}
{{with .Failure}}<h2 class="error">Failure Information</h2>{{template "rows" .}}{{end}}
{{with .Restarts}}<h2 class="warning">Restart Reasons</h2><ul>{{range .}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{with .Specializations}}<h2>Symbolic Shape Specializations</h2>
<table><tr><th>Symbol</th><th>Value</th><th>Reason</th><th>Sources</th></tr>
{{range .}}<tr><td>{{.Symbol}}</td><td>{{str .Value}}</td><td>{{.Reason}}</td><td>{{range $i, $s := .Sources}}{{if $i}}, {{end}}{{$s}}{{end}}</td></tr>{{end}}
</table>{{end}}
{{with .Stack}}<details><summary>Stack Trace</summary><pre>{{range .}}{{.Filename}}:{{.Line}} in {{.Name}}
{{end}}</pre></details>{{end}}
`))

func (m CompilationMetrics) Render(ctx context.Context, mc *Context) (*Output, error) {
	out := NewOutput()
	names := make(nameCounter)

	specs := make(map[string][]model.Specialization)
	err := mc.Each(model.Guards, func(e *model.IntermediateEntry) error {
		if e.Type != model.TypeSymbolicSpecialization {
			return nil
		}
		md, err := e.Decode()
		if err != nil {
			return nil
		}
		specs[e.Key()] = append(specs[e.Key()], md.(model.Specialization))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stacks := make(map[string][]model.StackFrame)
	var failures, restarts int
	err = mc.Each(model.CompilationMetrics, func(e *model.IntermediateEntry) error {
		key := e.Key()
		if e.Type == model.TypeDynamoStart {
			if md, err := e.Decode(); err == nil {
				stacks[key] = md.(model.DynamoStart).Stack
			}
			return nil
		}
		if !isMetricsType(e.Type) {
			return nil
		}
		md, err := e.Decode()
		if err != nil {
			mc.Logger.Sugar().Debugw("undecodable metrics", "compile_id", key, "err", err)
		}
		cm, _ := md.(model.CompilationMetricsMeta)
		cm.Kind = e.Type
		if cm.Failed() {
			failures++
		}
		if len(cm.RestartReasons) > 0 {
			restarts++
		}

		view := buildMetricsView(displayName(key), cm)
		if e.Type == model.TypeCompilationMetrics {
			view.Specializations = specs[key]
			view.Stack = stacks[key]
		}
		body, err := Fragment(metricsTmpl, view)
		if err != nil {
			return err
		}
		page, err := RenderPage(metricsTitle(e.Type), template.HTML(mc.Settings.CustomHeaderHTML), body)
		if err != nil {
			return err
		}
		file := names.next(key, e.Type+".html")
		out.AddFile(key, file, path.Join(key, file), page)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if failures+restarts > 0 {
		out.LazyRefs = append(out.LazyRefs, LazyRef{
			Path:    failuresPage,
			Title:   "Failures and Restarts",
			Stream:  model.CompilationMetrics,
			Ordinal: -1,
			Format:  FormatFailuresHTML,
		})
		out.AddIndex("Failures and Restarts", template.HTML(fmt.Sprintf(
			`<div class="failures-summary"><span class="error">%d failure(s)</span> <span class="warning">%d restart(s)</span> <a href="%s">View details</a></div>`,
			failures, restarts, failuresPage)))
	}
	return out, nil
}

func isMetricsType(t string) bool {
	switch t {
	case model.TypeCompilationMetrics, model.TypeBwdCompilationMetrics, model.TypeAOTBackwardMetrics:
		return true
	}
	return false
}

func metricsTitle(t string) string {
	switch t {
	case model.TypeBwdCompilationMetrics:
		return "Backward Compilation Metrics"
	case model.TypeAOTBackwardMetrics:
		return "AOT Autograd Backward Compilation Metrics"
	default:
		return "Compilation Metrics"
	}
}

// displayName renders a compile id key the way it is shown to users.
func displayName(key string) string {
	if key == model.GlobalKey {
		return "Global"
	}
	id, err := model.ParseCompileID(key)
	if err != nil {
		return key
	}
	return id.DisplayName()
}

func buildMetricsView(name string, m model.CompilationMetricsMeta) metricsView {
	v := metricsView{DisplayName: name, Kind: m.Kind, Failed: m.Failed(), Restarts: m.RestartReasons}

	v.Info = appendStr(v.Info, "Function Name", m.CoName)
	v.Info = appendStr(v.Info, "Filename", m.CoFilename)
	v.Info = appendInt(v.Info, "First Line", m.CoFirstlineno)
	v.Info = appendInt(v.Info, "Cache Size", m.CacheSize)
	v.Info = appendInt(v.Info, "Accumulated Cache Size", m.AccumulatedCacheSize)
	if m.HasGuardedCode != nil {
		v.Info = append(v.Info, row{"Has Guarded Code", strconv.FormatBool(*m.HasGuardedCode)})
	}

	v.Timing = appendSeconds(v.Timing, "Start Time", m.StartTime)
	v.Timing = appendSeconds(v.Timing, "Elapsed Time", m.ElapsedTime)
	v.Timing = appendSeconds(v.Timing, "Total Compile Time", m.EntireFrameCompileTimeS)
	v.Timing = appendSeconds(v.Timing, "Backend Compile Time", m.BackendCompileTimeS)
	v.Timing = appendSeconds(v.Timing, "Inductor Compile Time", m.InductorCompileTimeS)
	v.Timing = appendSeconds(v.Timing, "Code Gen Time", m.CodeGenTimeS)
	v.Timing = appendSeconds(v.Timing, "Dynamo Time Before Restart", m.DynamoTimeBeforeRestartS)

	v.Graph = appendInt(v.Graph, "Graph Op Count", m.GraphOpCount)
	v.Graph = appendInt(v.Graph, "Graph Node Count", m.GraphNodeCount)
	v.Graph = appendInt(v.Graph, "Graph Input Count", m.GraphInputCount)
	v.Graph = appendInt(v.Graph, "Guard Count", m.GuardCount)
	v.Graph = appendInt(v.Graph, "Shape Env Guard Count", m.ShapeEnvGuardCount)

	if v.Failed {
		v.Failure = appendStr(v.Failure, "Failure Type", m.FailType)
		v.Failure = appendStr(v.Failure, "Failure Reason", m.FailReason)
		if m.FailUserFrameFilename != nil {
			line := 0
			if m.FailUserFrameLineno != nil {
				line = *m.FailUserFrameLineno
			}
			v.Failure = append(v.Failure, row{"User Frame", fmt.Sprintf("%s:%d", *m.FailUserFrameFilename, line)})
		}
	}
	for _, op := range m.NonCompliantOps {
		v.Failure = append(v.Failure, row{"Non-compliant Op", op})
	}
	return v
}

func appendStr(rows []row, label string, v *string) []row {
	if v == nil {
		return rows
	}
	return append(rows, row{label, *v})
}

func appendInt(rows []row, label string, v *int) []row {
	if v == nil {
		return rows
	}
	return append(rows, row{label, strconv.Itoa(*v)})
}

func appendSeconds(rows []row, label string, v *float64) []row {
	if v == nil {
		return rows
	}
	return append(rows, row{label, strconv.FormatFloat(*v, 'f', 3, 64) + "s"})
}

type failureRow struct {
	Key      string
	Display  string
	Kind     string
	Function string
	Type     string
	Reason   string
	Restarts []string
}

var failuresTmpl = template.Must(template.New("failures").Parse(`
<p>Found {{len .}} failure or restart record(s)</p>
<table>
<thead><tr><th>Compile ID</th><th>Function</th><th>Failure Type</th><th>Reason</th><th>Restart Reasons</th></tr></thead>
<tbody>
{{range .}}<tr>
<td><a href="{{.Key}}/{{.Kind}}.html">{{.Display}}</a></td>
<td>{{.Function}}</td>
<td class="error">{{.Type}}</td>
<td><pre>{{.Reason}}</pre></td>
<td>{{range .Restarts}}<div class="warning">{{.}}</div>{{end}}</td>
</tr>
{{end}}</tbody>
</table>
`))

// renderFailuresPage lists the failed or restarted compilations among
// entries, which may contain any compilation_metrics stream entry.
func renderFailuresPage(entries []model.IntermediateEntry) ([]byte, error) {
	var rows []failureRow
	for i := range entries {
		e := &entries[i]
		if !isMetricsType(e.Type) {
			continue
		}
		md, err := e.Decode()
		if err != nil {
			continue
		}
		cm := md.(model.CompilationMetricsMeta)
		if !cm.Failed() && len(cm.RestartReasons) == 0 {
			continue
		}
		r := failureRow{
			Key:      e.Key(),
			Display:  displayName(e.Key()),
			Kind:     e.Type,
			Function: "-",
			Type:     "-",
			Reason:   "-",
			Restarts: cm.RestartReasons,
		}
		if cm.CoName != nil {
			r.Function = *cm.CoName
			if cm.CoFilename != nil {
				r.Function += " (" + *cm.CoFilename + ")"
			}
		}
		if cm.Failed() {
			r.Type = *cm.FailType
		}
		if cm.FailReason != nil {
			r.Reason = *cm.FailReason
		}
		rows = append(rows, r)
	}
	body, err := Fragment(failuresTmpl, rows)
	if err != nil {
		return nil, err
	}
	return RenderPage("Failures and Restarts", "", body)
}
