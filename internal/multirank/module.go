package multirank

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/coffersTech/nanotrace/internal/model"
	"github.com/coffersTech/nanotrace/internal/modules"
)

const (
	reportJSON = "multi_rank.json"
	reportHTML = "multi_rank.html"
)

// Module renders a finished Collection. It is Eager: nothing is produced
// until every rank is in.
type Module struct {
	Collection *Collection
	// RankReports links each rank to its own report, keyed by rank.
	RankReports map[int]string
}

func (Module) Name() string                      { return "Multi-Rank Analysis" }
func (Module) ID() string                        { return "multi_rank" }
func (Module) Strategy() modules.LoadingStrategy { return modules.Eager }

func (Module) Subscriptions() []model.IntermediateFileType {
	return []model.IntermediateFileType{model.CompilationMetrics, model.Artifacts, model.TensorMetadata}
}

type runtimeRow struct {
	Graph  string
	Mean   float64
	StdDev float64
}

type scheduleRow struct {
	Graph  string
	Groups []ScheduleGroup
}

type rankLink struct {
	Rank int
	URL  string
}

type multiRankView struct {
	*Analysis
	Runtime   []runtimeRow
	Schedule  []scheduleRow
	RankLinks []rankLink
}

var multiRankTmpl = template.Must(template.New("multirank").Parse(`
<p class="{{if eq .Status "ok"}}success{{else if eq .Status "divergent"}}error{{else}}muted{{end}}">Status: {{.Status}}</p>
<p>Ranks analyzed: {{range $i, $r := .Ranks}}{{if $i}}, {{end}}{{$r}}{{end}}</p>
{{with .Excluded}}<h2>Excluded Ranks</h2><ul>{{range .}}<li class="error">rank {{.Rank}} ({{.Path}}): {{.Reason}}</li>{{end}}</ul>{{end}}
{{with .RankLinks}}<h2>Per-Rank Reports</h2><ul>{{range .}}<li><a href="{{.URL}}">rank {{.Rank}}</a></li>{{end}}</ul>{{end}}
{{with .CompileIDs}}<h2>Compile ID Divergence</h2>
{{if .Divergent}}<p class="error">Divergent ranks: {{range $i, $r := .Divergent}}{{if $i}}, {{end}}{{$r}}{{end}}</p>{{else}}<p class="success">All ranks compiled the same graphs.</p>{{end}}
<p>Baseline (rank {{.BaselineRank}}): {{range $i, $c := .Baseline}}{{if $i}}, {{end}}<code>{{$c}}</code>{{end}}</p>{{end}}
{{with .Schedule}}<h2>Collective Schedule Divergence</h2>
{{range .}}<h3>{{.Graph}}</h3><table><thead><tr><th>Ranks</th><th>Collectives</th></tr></thead><tbody>
{{range .Groups}}<tr><td>{{range $i, $r := .Ranks}}{{if $i}}, {{end}}{{$r}}{{end}}</td><td>{{range $i, $o := .Ops}}{{if $i}} &rarr; {{end}}<code>{{$o}}</code>{{end}}</td></tr>
{{end}}</tbody></table>{{end}}{{end}}
{{with .Runtime}}<h2>Runtime Variance</h2>
<table><thead><tr><th>Graph</th><th>Mean (ns)</th><th>Std Dev (ns)</th></tr></thead><tbody>
{{range .}}<tr><td>{{.Graph}}</td><td>{{printf "%.0f" .Mean}}</td><td>{{printf "%.1f" .StdDev}}</td></tr>
{{end}}</tbody></table>{{end}}
{{with .TensorMeta}}<h2>Tensor Metadata</h2>
{{if .Divergent}}<p class="error">Divergent ranks: {{range $i, $r := .Divergent}}{{if $i}}, {{end}}{{$r}}{{end}}</p>{{else}}<p class="success">Tensor metadata matches across ranks.</p>{{end}}{{end}}
`))

func (m Module) Render(ctx context.Context, _ *modules.Context) (*modules.Output, error) {
	_, span := otel.Tracer("nanotrace/multirank").Start(ctx, "multirank.analyze")
	defer span.End()

	if m.Collection == nil {
		return nil, fmt.Errorf("multi-rank module has no collection")
	}
	a := Analyze(m.Collection)
	span.SetAttributes(attribute.String("status", a.Status))

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, err
	}

	view := multiRankView{Analysis: a}
	for g, rt := range a.Runtimes {
		view.Runtime = append(view.Runtime, runtimeRow{Graph: g, Mean: rt.Mean, StdDev: rt.StdDev})
	}
	// Highest imbalance first.
	sort.Slice(view.Runtime, func(i, j int) bool {
		if view.Runtime[i].StdDev != view.Runtime[j].StdDev {
			return view.Runtime[i].StdDev > view.Runtime[j].StdDev
		}
		return view.Runtime[i].Graph < view.Runtime[j].Graph
	})
	graphs := make([]string, 0, len(a.Schedules))
	for g := range a.Schedules {
		graphs = append(graphs, g)
	}
	modules.SortKeys(graphs)
	for _, g := range graphs {
		view.Schedule = append(view.Schedule, scheduleRow{Graph: g, Groups: a.Schedules[g]})
	}
	for _, r := range sortedRanks(m.RankReports) {
		view.RankLinks = append(view.RankLinks, rankLink{Rank: r, URL: m.RankReports[r]})
	}

	body, err := modules.Fragment(multiRankTmpl, view)
	if err != nil {
		return nil, err
	}
	page, err := modules.RenderPage("Multi-Rank Analysis", "", body)
	if err != nil {
		return nil, err
	}

	out := modules.NewOutput()
	out.AddFile(model.GlobalKey, reportJSON, reportJSON, data)
	out.AddFile(model.GlobalKey, reportHTML, reportHTML, page)
	out.AddIndex("Multi-Rank Analysis", template.HTML(fmt.Sprintf(
		`<div class="multi-rank">%d rank(s), status <strong>%s</strong> <a href="%s">View analysis</a></div>`,
		len(a.Ranks), template.HTMLEscapeString(a.Status), reportHTML)))
	return out, nil
}
