package modules

import (
	"context"

	"github.com/coffersTech/nanotrace/internal/model"
	"github.com/coffersTech/nanotrace/internal/stacktrie"
)

// StackTrieModule contributes the stack trie to the index.
type StackTrieModule struct{}

func (StackTrieModule) Name() string              { return "Stack Trie" }
func (StackTrieModule) ID() string                { return "stack_trie" }
func (StackTrieModule) Strategy() LoadingStrategy { return Eager }

func (StackTrieModule) Subscriptions() []model.IntermediateFileType {
	return []model.IntermediateFileType{model.CompilationMetrics}
}

func (StackTrieModule) Render(_ context.Context, mc *Context) (*Output, error) {
	var (
		starts []stacktrie.Start
		keys   []string
		seen   = make(map[string]bool)
	)
	metrics := make(map[string][]model.CompilationMetricsMeta)

	err := mc.Each(model.CompilationMetrics, func(e *model.IntermediateEntry) error {
		key := e.Key()
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
		switch {
		case e.Type == model.TypeDynamoStart:
			md, err := e.Decode()
			if err != nil {
				return nil
			}
			starts = append(starts, stacktrie.Start{Key: key, Stack: md.(model.DynamoStart).Stack})
		case e.Type == model.TypeCompilationMetrics:
			if md, err := e.Decode(); err == nil {
				metrics[key] = append(metrics[key], md.(model.CompilationMetricsMeta))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if mc.Manifest != nil {
		for _, k := range mc.Manifest.CompileIDKeys() {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	SortKeys(keys)

	out := NewOutput()
	trie := stacktrie.Build(starts, keys, metrics)
	if trie.Empty() {
		return out, nil
	}
	html, err := stacktrie.Render(trie)
	if err != nil {
		return nil, err
	}
	out.AddIndex("Stack Trie", html)
	return out, nil
}
