// Package stacktrie groups compilations by the call stack that triggered
// them.
//
// Every compilation start carries the user stack at the point dynamo was
// entered. Inserting those stacks into a trie shows which call sites
// compile, and how often they recompile.
package stacktrie

import (
	"strconv"
	"strings"

	"github.com/coffersTech/nanotrace/internal/model"
)

// UnknownStack labels the synthetic node holding compilations that never
// recorded a start.
const UnknownStack = "(unknown stack)"

// Status classifies the outcome of one compilation.
type Status uint8

const (
	StatusMissing Status = iota
	StatusOK
	StatusBreak
	StatusEmpty
	StatusError
)

var statusClasses = [...]string{
	StatusMissing: "status-missing",
	StatusOK:      "status-ok",
	StatusBreak:   "status-break",
	StatusEmpty:   "status-empty",
	StatusError:   "status-error",
}

// Class is the CSS class used when rendering s.
func (s Status) Class() string {
	if int(s) < len(statusClasses) {
		return statusClasses[s]
	}
	return statusClasses[StatusMissing]
}

// Classify derives a status from the metrics recorded for a compilation.
// Without metrics the status is StatusMissing.
func Classify(metrics []model.CompilationMetricsMeta) Status {
	if len(metrics) == 0 {
		return StatusMissing
	}
	for _, m := range metrics {
		if m.Failed() {
			return StatusError
		}
	}
	for _, m := range metrics {
		if m.GraphOpCount == nil || *m.GraphOpCount == 0 {
			return StatusEmpty
		}
	}
	for _, m := range metrics {
		if len(m.RestartReasons) > 0 {
			return StatusBreak
		}
	}
	return StatusOK
}

// Terminal is a compilation that started at a node. Metrics is the
// compilation's own metrics record, nil when none was logged.
type Terminal struct {
	Key     string
	Display string
	Metrics *model.CompilationMetricsMeta
	Status  Status
}

// Summary is a one-line description of the metrics, shown as a tooltip.
func (t Terminal) Summary() string {
	m := t.Metrics
	if m == nil {
		return "no compilation metrics"
	}
	var parts []string
	if m.CoName != nil {
		parts = append(parts, *m.CoName)
	}
	if m.GraphOpCount != nil {
		parts = append(parts, strconv.Itoa(*m.GraphOpCount)+" ops")
	}
	if m.EntireFrameCompileTimeS != nil {
		parts = append(parts, strconv.FormatFloat(*m.EntireFrameCompileTimeS, 'f', 2, 64)+"s")
	}
	if m.Failed() {
		parts = append(parts, "failed")
	}
	return strings.Join(parts, ", ")
}

type frameKey struct {
	filename string
	line     int
	name     string
	loc      string
}

func keyOf(f model.StackFrame) frameKey {
	return frameKey{filename: f.Filename, line: f.Line, name: f.Name, loc: f.Loc}
}

// Node is one frame of the trie. The root has a zero Frame.
type Node struct {
	Frame     model.StackFrame
	Terminals []Terminal

	children []*Node
	index    map[frameKey]*Node
}

// Children returns the child nodes in insertion order.
func (n *Node) Children() []*Node { return n.children }

func (n *Node) child(f model.StackFrame) *Node {
	k := keyOf(f)
	if c, ok := n.index[k]; ok {
		return c
	}
	if n.index == nil {
		n.index = make(map[frameKey]*Node)
	}
	c := &Node{Frame: f}
	n.index[k] = c
	n.children = append(n.children, c)
	return c
}

// Counts returns the succeeded and failed terminals of the subtree rooted
// at n. Terminals without metrics count as neither.
func (n *Node) Counts() (ok, failed int) {
	for _, t := range n.Terminals {
		switch t.Status {
		case StatusError:
			failed++
		case StatusOK, StatusBreak, StatusEmpty:
			ok++
		}
	}
	for _, c := range n.children {
		o, f := c.Counts()
		ok += o
		failed += f
	}
	return ok, failed
}

// Trie is a prefix tree of captured stacks.
type Trie struct {
	root Node
	seen map[string]bool
}

// New returns an empty trie.
func New() *Trie {
	return &Trie{seen: make(map[string]bool)}
}

// Root returns the root node. Terminals on the root had an empty stack.
func (t *Trie) Root() *Node { return &t.root }

// Empty reports whether nothing was inserted.
func (t *Trie) Empty() bool {
	return len(t.root.children) == 0 && len(t.root.Terminals) == 0
}

// Insert walks stack from its first frame and records term at the last
// one. An empty stack records term on the root.
func (t *Trie) Insert(stack []model.StackFrame, term Terminal) {
	n := &t.root
	for _, f := range stack {
		n = n.child(f)
	}
	n.Terminals = append(n.Terminals, term)
	t.seen[term.Key] = true
}

// Has reports whether key was inserted.
func (t *Trie) Has(key string) bool { return t.seen[key] }

// InsertUnknown records term under the synthetic unknown stack node.
func (t *Trie) InsertUnknown(term Terminal) {
	t.Insert([]model.StackFrame{{Name: UnknownStack}}, term)
}

var convertFrameSuffixes = [][]struct{ file, name string }{
	{
		{"torch/_dynamo/convert_frame.py", "catch_errors"},
		{"torch/_dynamo/convert_frame.py", "_convert_frame"},
		{"torch/_dynamo/convert_frame.py", "_convert_frame_assert"},
	},
	{
		{"torch/_dynamo/convert_frame.py", "__call__"},
		{"torch/_dynamo/convert_frame.py", "__call__"},
		{"torch/_dynamo/convert_frame.py", "__call__"},
	},
}

// StripConvertFrame drops the dynamo wrapper frames that end most captured
// stacks, so that identical user call sites share a node.
func StripConvertFrame(stack []model.StackFrame) []model.StackFrame {
	for _, suffix := range convertFrameSuffixes {
		n := len(stack)
		if n < len(suffix) {
			continue
		}
		tail := stack[n-len(suffix):]
		match := true
		for i, want := range suffix {
			if SimplifyFilename(tail[i].Filename) != want.file || tail[i].Name != want.name {
				match = false
				break
			}
		}
		if match {
			stack = stack[:n-len(suffix)]
		}
	}
	return stack
}

// SimplifyFilename strips the build prefix up to "#link-tree/".
func SimplifyFilename(name string) string {
	if _, after, ok := strings.Cut(name, "#link-tree/"); ok {
		return after
	}
	return name
}
