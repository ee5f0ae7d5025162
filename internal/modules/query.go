package modules

import (
	"strconv"
	"strings"

	"github.com/valyala/fastjson"

	"github.com/coffersTech/nanotrace/internal/model"
)

// entryRecord exposes an intermediate entry to NanoQL.
type entryRecord struct {
	e *model.IntermediateEntry
}

func (r entryRecord) Field(key string) (string, bool) {
	e := r.e
	switch key {
	case "type":
		return e.Type, true
	case "compile_id", "cid":
		return e.Key(), true
	case "rank":
		return e.Rank.String(), e.Rank.Valid
	case "pathname", "path":
		return e.Pathname, true
	case "lineno":
		return strconv.Itoa(e.Lineno), true
	case "thread":
		return strconv.FormatUint(e.Thread, 10), true
	case "payload":
		return e.PayloadString(), e.Payload != nil
	case "cache", "cache_status":
		return e.CacheStatus.String(), e.CacheStatus != model.CacheNone
	}

	if path, ok := strings.CutPrefix(key, "metadata."); ok {
		v, err := fastjson.ParseBytes(e.Metadata)
		if err != nil {
			return "", false
		}
		f := v.Get(strings.Split(path, ".")...)
		if f == nil {
			return "", false
		}
		if f.Type() == fastjson.TypeString {
			return string(f.GetStringBytes()), true
		}
		return f.String(), true
	}
	return "", false
}

func (r entryRecord) Text() []string {
	return []string{r.e.Type, r.e.Pathname, r.e.PayloadString(), string(r.e.Metadata)}
}
