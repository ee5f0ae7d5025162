package modules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"path"

	"github.com/valyala/fastjson"

	"github.com/coffersTech/nanotrace/internal/model"
)

// SymbolicShapes renders one page per symbolic guard, with the expression
// tree that produced it.
type SymbolicShapes struct{}

func (SymbolicShapes) Name() string              { return "Symbolic Shapes" }
func (SymbolicShapes) ID() string                { return "symbolic_shapes" }
func (SymbolicShapes) Strategy() LoadingStrategy { return Eager }

func (SymbolicShapes) Subscriptions() []model.IntermediateFileType {
	return []model.IntermediateFileType{model.Guards}
}

const maxExprDepth = 20

type exprNode struct {
	Result    string
	Method    string
	Arguments []string
	Children  []*exprNode
	Truncated bool
}

type guardView struct {
	Kind        string
	Expr        string
	UserStack   []string
	Stack       []string
	Tree        *exprNode
	FrameLocals string
}

var symbolicTmpl = template.Must(template.New("symbolic").Parse(`
{{define "node"}}<div class="expr-node">{{if .Truncated}}... (max depth){{else}}<strong>{{.Result}}</strong>{{with .Method}} ({{.}}){{end}}
{{with .Arguments}}<br>Args: {{range $i, $a := .}}{{if $i}}, {{end}}{{$a}}{{end}}{{end}}
{{range .Children}}<div style="padding-left: 20px">{{template "node" .}}</div>{{end}}{{end}}</div>{{end}}
<p class="muted">{{.Kind}}</p>
{{with .Expr}}<h2>Expression</h2><pre>{{.}}</pre>{{end}}
{{with .UserStack}}<details open><summary>User Stack</summary><pre>{{range .}}{{.}}
{{end}}</pre></details>{{end}}
{{with .Stack}}<details><summary>Framework Stack</summary><pre>{{range .}}{{.}}
{{end}}</pre></details>{{end}}
{{with .Tree}}<details><summary>Expression Tree</summary>{{template "node" .}}</details>{{end}}
{{with .FrameLocals}}<details><summary>Frame Locals</summary><pre>{{.}}</pre></details>{{end}}
`))

func (SymbolicShapes) Render(ctx context.Context, mc *Context) (*Output, error) {
	exprs := make(map[int]model.ExpressionCreated)
	err := mc.Each(model.Guards, func(e *model.IntermediateEntry) error {
		if e.Type != model.TypeExpressionCreated {
			return nil
		}
		md, err := e.Decode()
		if err != nil {
			return nil
		}
		x := md.(model.ExpressionCreated)
		if x.ID != nil {
			exprs[*x.ID] = x
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := NewOutput()
	n := 0
	err = mc.Each(model.Guards, func(e *model.IntermediateEntry) error {
		if e.Type != model.TypeGuardAdded && e.Type != model.TypePropagateRealTensors {
			return nil
		}
		md, err := e.Decode()
		if err != nil {
			mc.Logger.Sugar().Debugw("undecodable guard", "compile_id", e.Key(), "err", err)
			return nil
		}
		g := md.(model.SymbolicGuard)
		view := guardView{
			Kind:      e.Type,
			Expr:      g.Expr,
			UserStack: stackLines(g.UserStack),
			Stack:     stackLines(g.Stack),
		}
		if g.ExprNodeID != nil {
			view.Tree = buildExprTree(exprs, *g.ExprNodeID, 0, make(map[int]bool))
		}
		if len(g.FrameLocals) > 0 {
			view.FrameLocals = string(PrettyJSON(string(g.FrameLocals)))
		}

		body, err := Fragment(symbolicTmpl, view)
		if err != nil {
			return err
		}
		page, err := RenderPage("Symbolic Guard Information", template.HTML(mc.Settings.CustomHeaderHTML), body)
		if err != nil {
			return err
		}
		key := e.Key()
		file := fmt.Sprintf("symbolic_guard_information_%d.html", n)
		n++
		out.AddFile(key, file, path.Join(key, file), page)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func buildExprTree(exprs map[int]model.ExpressionCreated, id, depth int, seen map[int]bool) *exprNode {
	x, ok := exprs[id]
	if !ok {
		return nil
	}
	if depth > maxExprDepth || seen[id] {
		return &exprNode{Truncated: true}
	}
	seen[id] = true
	defer delete(seen, id)

	node := &exprNode{Result: x.Result, Method: x.Method, Arguments: x.Arguments}
	for _, child := range x.ArgumentIDs {
		if c := buildExprTree(exprs, child, depth+1, seen); c != nil {
			node.Children = append(node.Children, c)
		}
	}
	return node
}

// stackLines flattens a captured stack. Frames may be plain strings or
// objects with filename, line and name.
func stackLines(raw json.RawMessage) []string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	v, err := fastjson.ParseBytes(raw)
	if err != nil {
		return []string{string(raw)}
	}
	arr, err := v.Array()
	if err != nil {
		return []string{v.String()}
	}
	lines := make([]string, 0, len(arr))
	for _, f := range arr {
		switch f.Type() {
		case fastjson.TypeString:
			lines = append(lines, string(f.GetStringBytes()))
		case fastjson.TypeObject:
			lines = append(lines, fmt.Sprintf("%s:%d in %s",
				f.GetStringBytes("filename"), f.GetInt("line"), f.GetStringBytes("name")))
		default:
			lines = append(lines, f.String())
		}
	}
	return lines
}
