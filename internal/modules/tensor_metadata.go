package modules

import (
	"context"
	"path"

	"github.com/coffersTech/nanotrace/internal/model"
)

// TensorMetadata links the tensor, storage and source descriptions of each
// compilation as one JSON array per compile id.
type TensorMetadata struct{}

func (TensorMetadata) Name() string              { return "Tensor Metadata" }
func (TensorMetadata) ID() string                { return "tensor_metadata" }
func (TensorMetadata) Strategy() LoadingStrategy { return Lazy }

func (TensorMetadata) Subscriptions() []model.IntermediateFileType {
	return []model.IntermediateFileType{model.TensorMetadata}
}

func (TensorMetadata) Render(_ context.Context, mc *Context) (*Output, error) {
	seen := make(map[string]bool)
	var keys []string
	err := mc.Each(model.TensorMetadata, func(e *model.IntermediateEntry) error {
		if k := e.Key(); !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	SortKeys(keys)

	out := NewOutput()
	for _, k := range keys {
		out.AddLazy(k, "tensor_metadata.json", LazyRef{
			Path:      path.Join(k, "tensor_metadata.json"),
			Title:     "Tensor Metadata",
			Stream:    model.TensorMetadata,
			CompileID: k,
			Ordinal:   -1,
			Format:    FormatMetadataArray,
		}, model.CacheNone)
	}
	return out, nil
}
