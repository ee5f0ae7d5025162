package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// StackFrame is one frame of a captured user stack, with its filename
// already resolved through the string table.
type StackFrame struct {
	Filename string `json:"filename"`
	Line     int    `json:"line"`
	Name     string `json:"name"`
	Loc      string `json:"loc,omitempty"`
}

func (f StackFrame) String() string {
	return fmt.Sprintf("%s:%d in %s", f.Filename, f.Line, f.Name)
}

// Envelope is one decoded trace record. It is not modified after the
// normalizer returns it.
type Envelope struct {
	EntryType  string
	Rank       OptInt
	CompileID  *CompileID
	Timestamp  time.Time
	Thread     uint64
	Pathname   string
	Lineno     int
	Metadata   json.RawMessage
	HasPayload bool
	Payload    string
	Stack      []StackFrame
}

// IntermediateEntry is the persisted JSON line form of an envelope.
type IntermediateEntry struct {
	Type        string          `json:"type"`
	CompileID   string          `json:"compile_id,omitempty"`
	Rank        OptInt          `json:"rank"`
	Timestamp   string          `json:"timestamp"`
	Thread      uint64          `json:"thread"`
	Pathname    string          `json:"pathname"`
	Lineno      int             `json:"lineno"`
	Metadata    json.RawMessage `json:"metadata"`
	Stack       []StackFrame    `json:"stack,omitempty"`
	CacheStatus CacheStatus     `json:"cache_status,omitempty"`
	Payload     *string         `json:"payload,omitempty"`
}

// NewIntermediateEntry builds the persisted form of env.
func NewIntermediateEntry(env *Envelope, status CacheStatus) IntermediateEntry {
	meta := env.Metadata
	if len(meta) == 0 {
		meta = json.RawMessage("{}")
	}
	e := IntermediateEntry{
		Type:        env.EntryType,
		Rank:        env.Rank,
		Thread:      env.Thread,
		Pathname:    env.Pathname,
		Lineno:      env.Lineno,
		Metadata:    meta,
		Stack:       env.Stack,
		CacheStatus: status,
	}
	if env.CompileID != nil {
		e.CompileID = env.CompileID.String()
	}
	if !env.Timestamp.IsZero() {
		e.Timestamp = env.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if env.HasPayload {
		p := env.Payload
		e.Payload = &p
	}
	return e
}

// Key is the compile-id directory key of the entry.
func (e *IntermediateEntry) Key() string {
	if e.CompileID == "" {
		return GlobalKey
	}
	return e.CompileID
}

// ID parses the compile id. ok is false for global entries.
func (e *IntermediateEntry) ID() (id CompileID, ok bool) {
	if e.CompileID == "" {
		return id, false
	}
	id, err := ParseCompileID(e.CompileID)
	return id, err == nil
}

// PayloadString returns the payload or "" when absent.
func (e *IntermediateEntry) PayloadString() string {
	if e.Payload == nil {
		return ""
	}
	return *e.Payload
}

// Decode returns the typed metadata of the entry.
func (e *IntermediateEntry) Decode() (Metadata, error) {
	return DecodeMetadata(e.Type, e.Metadata)
}
