package engine

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"github.com/coffersTech/nanotrace/internal/model"
)

// glogPrefix matches "[rank0]:V1206 15:18:36.447000 1234 torch/_dynamo/x.py:123] ".
var glogPrefix = regexp.MustCompile(`^(?:\[rank(\d+)\]:)?[A-Z](\d{2})(\d{2}) (\d{2}):(\d{2}):(\d{2})\.(\d{1,9}) +(\d+) ([^ \]]+):(\d+)\] ?`)

// envelopeFields are record keys that never name an entry type.
var envelopeFields = map[string]bool{
	"frame_id": true, "frame_compile_id": true, "attempt": true,
	"compiled_autograd_id": true, "rank": true, "timestamp": true,
	"thread": true, "pathname": true, "lineno": true, "has_payload": true,
}

// Normalizer decodes raw capture lines into envelopes.
type Normalizer struct {
	strings *StringTable
	parser  fastjson.ParserPool
	logger  *zap.Logger

	// Year completes glog timestamps, which carry no year.
	Year int
	// DefaultRank is applied when a record names no rank.
	DefaultRank model.OptInt

	dangling atomic.Int64
}

// NewNormalizer creates a Normalizer resolving interned strings through st.
func NewNormalizer(st *StringTable, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		strings: st,
		logger:  logger,
		Year:    time.Now().UTC().Year(),
	}
}

// Dangling returns how many string references could not be resolved so far.
func (n *Normalizer) Dangling() int64 {
	return n.dangling.Load()
}

// Normalize decodes one record line. It returns (nil, nil) for records that
// only feed the string table.
func (n *Normalizer) Normalize(line []byte) (*model.Envelope, error) {
	env := &model.Envelope{Rank: n.DefaultRank}

	body := line
	if m := glogPrefix.FindSubmatchIndex(line); m != nil {
		n.applyPrefix(env, line, m)
		body = line[m[1]:]
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil, fmt.Errorf("%w: no JSON object", ErrMalformedLine)
	}

	p := n.parser.Get()
	defer n.parser.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	obj, err := v.Object()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}

	if st := obj.Get(model.TypeStringTable); st != nil {
		return nil, n.loadStringTable(st)
	}

	entryType := detectEntryType(obj)
	if entryType == "" {
		var keys []string
		obj.Visit(func(k []byte, _ *fastjson.Value) {
			if !envelopeFields[string(k)] {
				keys = append(keys, string(k))
			}
		})
		return nil, fmt.Errorf("%w: keys %v", ErrUnknownEnvelopeType, keys)
	}
	if entryType == model.TypeStr {
		return nil, n.internStr(obj.Get(model.TypeStr))
	}
	env.EntryType = entryType

	if err := n.decodeFields(env, v); err != nil {
		return nil, err
	}

	meta := obj.Get(entryType)
	if entryType == model.TypeStack {
		env.Stack = n.resolveFrames(meta)
		env.Metadata = []byte("{}")
		return env, nil
	}
	if s := v.Get("stack"); s != nil {
		env.Stack = n.resolveFrames(s)
	}

	if entryType == model.TypeDynamoStart && meta != nil && meta.Type() == fastjson.TypeObject {
		if s := meta.Get("stack"); s != nil {
			env.Stack = n.resolveFrames(s)
			var a fastjson.Arena
			meta.Set("stack", framesValue(&a, env.Stack))
		}
	}

	switch {
	case meta == nil || meta.Type() == fastjson.TypeNull:
		env.Metadata = []byte("{}")
	case meta.Type() == fastjson.TypeObject:
		env.Metadata = meta.MarshalTo(nil)
	default:
		// Non-object metadata is kept under a single key.
		env.Metadata = append(append([]byte(`{"value":`), meta.MarshalTo(nil)...), '}')
	}
	return env, nil
}

func detectEntryType(obj *fastjson.Object) string {
	for _, t := range model.EntryTypePriority {
		if obj.Get(t) != nil {
			return t
		}
	}
	return ""
}

func (n *Normalizer) applyPrefix(env *model.Envelope, line []byte, m []int) {
	group := func(i int) string {
		if m[2*i] < 0 {
			return ""
		}
		return string(line[m[2*i]:m[2*i+1]])
	}
	atoi := func(i int) int {
		v, _ := strconv.Atoi(group(i))
		return v
	}

	if r := group(1); r != "" {
		env.Rank = model.Some(atoi(1))
	}
	frac := group(7)
	nanos, _ := strconv.Atoi(frac)
	for i := len(frac); i < 9; i++ {
		nanos *= 10
	}
	env.Timestamp = time.Date(n.Year, time.Month(atoi(2)), atoi(3), atoi(4), atoi(5), atoi(6), nanos, time.UTC)
	thread, _ := strconv.ParseUint(group(8), 10, 64)
	env.Thread = thread
	env.Pathname = group(9)
	env.Lineno = atoi(10)
}

func (n *Normalizer) decodeFields(env *model.Envelope, v *fastjson.Value) error {
	opt := func(key string) (model.OptInt, error) {
		f := v.Get(key)
		if f == nil || f.Type() == fastjson.TypeNull {
			return model.OptInt{}, nil
		}
		i, err := f.Int()
		if err != nil {
			return model.OptInt{}, fmt.Errorf("%w: field %s: %v", ErrMalformedLine, key, err)
		}
		return model.Some(i), nil
	}

	var cid model.CompileID
	var err error
	if cid.FrameID, err = opt("frame_id"); err != nil {
		return err
	}
	if cid.FrameCompileID, err = opt("frame_compile_id"); err != nil {
		return err
	}
	if cid.Attempt, err = opt("attempt"); err != nil {
		return err
	}
	if cid.CompiledAutogradID, err = opt("compiled_autograd_id"); err != nil {
		return err
	}
	if cid.FrameID.Valid || cid.FrameCompileID.Valid || cid.CompiledAutogradID.Valid {
		env.CompileID = &cid
	}

	rank, err := opt("rank")
	if err != nil {
		return err
	}
	if rank.Valid {
		env.Rank = rank
	}

	if ts := v.Get("timestamp"); ts != nil {
		switch ts.Type() {
		case fastjson.TypeNumber:
			sec := ts.GetFloat64()
			whole, frac := math.Modf(sec)
			env.Timestamp = time.Unix(int64(whole), int64(frac*1e9)).UTC()
		case fastjson.TypeString:
			if t, perr := time.Parse(time.RFC3339Nano, string(ts.GetStringBytes())); perr == nil {
				env.Timestamp = t.UTC()
			}
		}
	}
	if th := v.Get("thread"); th != nil {
		env.Thread = th.GetUint64()
	}
	if ln := v.Get("lineno"); ln != nil {
		env.Lineno = ln.GetInt()
	}
	if pn := v.Get("pathname"); pn != nil {
		env.Pathname = n.resolveString(pn, "pathname")
	}
	if v.Exists("has_payload") {
		env.HasPayload = true
	}
	return nil
}

// resolveString accepts a literal string or an interned id.
func (n *Normalizer) resolveString(v *fastjson.Value, field string) string {
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		id := v.GetInt()
		s, err := n.strings.Lookup(id)
		if err != nil {
			n.dangling.Add(1)
			n.logger.Debug("unresolved string reference", zap.String("field", field), zap.Int("id", id))
			return ""
		}
		return s
	default:
		return ""
	}
}

func (n *Normalizer) resolveFrames(v *fastjson.Value) []model.StackFrame {
	if v == nil || v.Type() != fastjson.TypeArray {
		return nil
	}
	items := v.GetArray()
	frames := make([]model.StackFrame, 0, len(items))
	for _, it := range items {
		if it.Type() != fastjson.TypeObject {
			continue
		}
		f := model.StackFrame{
			Line: it.GetInt("line"),
			Name: string(it.GetStringBytes("name")),
			Loc:  string(it.GetStringBytes("loc")),
		}
		if fn := it.Get("filename"); fn != nil {
			f.Filename = n.resolveString(fn, "filename")
		}
		frames = append(frames, f)
	}
	return frames
}

func framesValue(a *fastjson.Arena, frames []model.StackFrame) *fastjson.Value {
	arr := a.NewArray()
	for i, f := range frames {
		o := a.NewObject()
		o.Set("filename", a.NewString(f.Filename))
		o.Set("line", a.NewNumberInt(f.Line))
		o.Set("name", a.NewString(f.Name))
		if f.Loc != "" {
			o.Set("loc", a.NewString(f.Loc))
		}
		arr.SetArrayItem(i, o)
	}
	return arr
}

// loadStringTable accepts {"id": "s", ...} or ["s0", "s1", ...].
func (n *Normalizer) loadStringTable(v *fastjson.Value) error {
	switch v.Type() {
	case fastjson.TypeObject:
		var bad error
		v.GetObject().Visit(func(k []byte, s *fastjson.Value) {
			id, err := strconv.Atoi(string(k))
			if err != nil || s.Type() != fastjson.TypeString {
				bad = fmt.Errorf("%w: string table entry %q", ErrMalformedLine, k)
				return
			}
			n.strings.Intern(id, string(s.GetStringBytes()))
		})
		return bad
	case fastjson.TypeArray:
		for i, s := range v.GetArray() {
			n.strings.Intern(i, string(s.GetStringBytes()))
		}
		return nil
	default:
		return fmt.Errorf("%w: string table is %s", ErrMalformedLine, v.Type())
	}
}

// internStr handles {"str": ["path", id]}.
func (n *Normalizer) internStr(v *fastjson.Value) error {
	arr, err := v.Array()
	if err != nil || len(arr) != 2 {
		return fmt.Errorf("%w: str record must be [string, id]", ErrMalformedLine)
	}
	id, err := arr[1].Int()
	if err != nil {
		return fmt.Errorf("%w: str id: %v", ErrMalformedLine, err)
	}
	n.strings.Intern(id, string(arr[0].GetStringBytes()))
	return nil
}

// EnvelopeReader yields envelopes from a capture, folding tab-indented
// continuation lines into the preceding record's payload.
type EnvelopeReader struct {
	r    *bufio.Reader
	norm *Normalizer
	line int
}

// NewReader wraps r.
func (n *Normalizer) NewReader(r io.Reader) *EnvelopeReader {
	return &EnvelopeReader{r: bufio.NewReaderSize(r, 1<<20), norm: n}
}

// Next returns the next envelope. Per-line failures come back as *LineError
// and the reader stays usable; io.EOF ends the capture; any other error is
// an I/O failure.
func (er *EnvelopeReader) Next() (*model.Envelope, error) {
	for {
		raw, err := er.readLine()
		if err != nil && len(raw) == 0 {
			return nil, err
		}
		lineNo := er.line
		if len(bytes.TrimSpace(raw)) == 0 || raw[0] == '\t' {
			// Continuation without a record to attach to.
			continue
		}

		env, nerr := er.norm.Normalize(raw)
		payload, hasPayload, perr := er.readPayload()
		if perr != nil && !errors.Is(perr, io.EOF) {
			return nil, perr
		}
		if nerr != nil {
			return nil, &LineError{Line: lineNo, Err: nerr}
		}
		if env == nil {
			continue
		}
		if hasPayload {
			env.HasPayload = true
			env.Payload = payload
		}
		return env, nil
	}
}

func (er *EnvelopeReader) readLine() ([]byte, error) {
	raw, err := er.r.ReadBytes('\n')
	if len(raw) > 0 {
		er.line++
	}
	raw = bytes.TrimRight(raw, "\r\n")
	return raw, err
}

func (er *EnvelopeReader) readPayload() (string, bool, error) {
	var buf bytes.Buffer
	found := false
	for {
		next, err := er.r.Peek(1)
		if err != nil {
			return buf.String(), found, err
		}
		if next[0] != '\t' {
			return buf.String(), found, nil
		}
		raw, err := er.readLine()
		if found {
			buf.WriteByte('\n')
		}
		found = true
		buf.Write(raw[1:])
		if err != nil {
			return buf.String(), found, err
		}
	}
}
