package stacktrie

import (
	"github.com/coffersTech/nanotrace/internal/model"
)

// Start is a compilation start and the stack it captured.
type Start struct {
	Key   string
	Stack []model.StackFrame
}

// Build inserts every start, then attaches compile ids from keys that never
// started under the unknown stack node. Metrics decide terminal status.
func Build(starts []Start, keys []string, metrics map[string][]model.CompilationMetricsMeta) *Trie {
	t := New()
	for _, s := range starts {
		t.Insert(StripConvertFrame(s.Stack), terminal(s.Key, metrics))
	}
	for _, k := range keys {
		if k == model.GlobalKey || t.Has(k) {
			continue
		}
		t.InsertUnknown(terminal(k, metrics))
	}
	return t
}

func terminal(key string, metrics map[string][]model.CompilationMetricsMeta) Terminal {
	display := key
	if id, err := model.ParseCompileID(key); err == nil {
		display = id.DisplayName()
	}
	return Terminal{Key: key, Display: display, Metrics: snapshot(metrics[key]), Status: Classify(metrics[key])}
}

// snapshot picks the forward compilation_metrics record, falling back to
// the first record of any kind.
func snapshot(ms []model.CompilationMetricsMeta) *model.CompilationMetricsMeta {
	for i := range ms {
		if ms[i].Kind == model.TypeCompilationMetrics {
			return &ms[i]
		}
	}
	if len(ms) > 0 {
		return &ms[0]
	}
	return nil
}
