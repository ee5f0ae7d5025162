package modules

import (
	"context"
	"html/template"

	"github.com/coffersTech/nanotrace/internal/model"
)

const chromiumEventsFile = "chromium_events.json"

// ChromiumTrace gathers chromium events into one file loadable by
// chrome://tracing and Perfetto.
type ChromiumTrace struct{}

func (ChromiumTrace) Name() string              { return "Chromium Trace" }
func (ChromiumTrace) ID() string                { return "chromium_trace" }
func (ChromiumTrace) Strategy() LoadingStrategy { return Lazy }

func (ChromiumTrace) Subscriptions() []model.IntermediateFileType {
	return []model.IntermediateFileType{model.ChromiumEvents}
}

func (ChromiumTrace) Render(_ context.Context, mc *Context) (*Output, error) {
	n, err := mc.Count(model.ChromiumEvents)
	if err != nil {
		return nil, err
	}
	out := NewOutput()
	if n == 0 {
		return out, nil
	}
	out.AddLazy(model.GlobalKey, chromiumEventsFile, LazyRef{
		Path:      chromiumEventsFile,
		Title:     "Chromium Events",
		Stream:    model.ChromiumEvents,
		EntryType: model.TypeChromiumEvent,
		Ordinal:   -1,
		Format:    FormatMetadataArray,
	}, model.CacheNone)
	out.AddIndex("Chromium Trace", template.HTML(
		`<div class="chromium-trace"><a href="`+chromiumEventsFile+`" target="_blank">View Chromium Trace</a> <span class="muted">(open in chrome://tracing or Perfetto)</span></div>`))
	return out, nil
}
