package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// OptInt is an integer that may be absent. The zero value is absent.
type OptInt struct {
	Value int
	Valid bool
}

// Some returns a present OptInt.
func Some(v int) OptInt {
	return OptInt{Value: v, Valid: true}
}

func (o OptInt) String() string {
	if !o.Valid {
		return ""
	}
	return strconv.Itoa(o.Value)
}

func (o OptInt) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(o.Value)), nil
}

func (o *OptInt) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = OptInt{}
		return nil
	}
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

// CompileID identifies one compilation attempt of one frame.
// It is comparable, so two ids are equal exactly when all four parts match.
type CompileID struct {
	CompiledAutogradID OptInt
	FrameID            OptInt
	FrameCompileID     OptInt
	Attempt            OptInt
}

// GlobalKey is the directory key for entries without a compile id.
const GlobalKey = "__global__"

// String renders the id as [!<autograd>_]<frame>_<frame_compile>[_<attempt>].
func (c CompileID) String() string {
	var b strings.Builder
	if c.CompiledAutogradID.Valid {
		fmt.Fprintf(&b, "!%d_", c.CompiledAutogradID.Value)
	}
	b.WriteString(c.FrameID.String())
	b.WriteByte('_')
	b.WriteString(c.FrameCompileID.String())
	if c.Attempt.Valid {
		fmt.Fprintf(&b, "_%d", c.Attempt.Value)
	}
	return b.String()
}

// DisplayName is the human form used in page titles and the index.
func (c CompileID) DisplayName() string {
	var b strings.Builder
	if c.CompiledAutogradID.Valid {
		fmt.Fprintf(&b, "!%d/", c.CompiledAutogradID.Value)
	}
	b.WriteString(c.FrameID.String())
	b.WriteByte('/')
	b.WriteString(c.FrameCompileID.String())
	if c.Attempt.Valid && c.Attempt.Value != 0 {
		fmt.Fprintf(&b, " (attempt %d)", c.Attempt.Value)
	}
	return b.String()
}

// ParseCompileID is the inverse of CompileID.String.
func ParseCompileID(s string) (CompileID, error) {
	var id CompileID
	rest := s
	if strings.HasPrefix(rest, "!") {
		i := strings.IndexByte(rest, '_')
		if i < 0 {
			return id, fmt.Errorf("compile id %q: missing separator after autograd id", s)
		}
		v, err := strconv.Atoi(rest[1:i])
		if err != nil {
			return id, fmt.Errorf("compile id %q: %w", s, err)
		}
		id.CompiledAutogradID = Some(v)
		rest = rest[i+1:]
	}

	parts := strings.Split(rest, "_")
	if len(parts) < 2 || len(parts) > 3 {
		return id, fmt.Errorf("compile id %q: expected 2 or 3 parts, got %d", s, len(parts))
	}
	fields := []*OptInt{&id.FrameID, &id.FrameCompileID, &id.Attempt}
	for i, p := range parts {
		if p == "" {
			if i == 2 {
				return id, fmt.Errorf("compile id %q: empty attempt", s)
			}
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return id, fmt.Errorf("compile id %q: %w", s, err)
		}
		*fields[i] = Some(v)
	}
	return id, nil
}

// DisplayKey renders a directory key ("0_1", "__global__") for humans.
func DisplayKey(key string) string {
	if key == GlobalKey || key == "" {
		return "Global"
	}
	id, err := ParseCompileID(key)
	if err != nil {
		return key
	}
	return id.DisplayName()
}

// Key returns the directory key for an optional compile id.
func Key(id *CompileID) string {
	if id == nil {
		return GlobalKey
	}
	return id.String()
}

// Less orders compile ids numerically: autograd id, frame, frame compile, attempt.
// Absent parts sort first.
func (c CompileID) Less(o CompileID) bool {
	a := [...]OptInt{c.CompiledAutogradID, c.FrameID, c.FrameCompileID, c.Attempt}
	b := [...]OptInt{o.CompiledAutogradID, o.FrameID, o.FrameCompileID, o.Attempt}
	for i := range a {
		if a[i] == b[i] {
			continue
		}
		if a[i].Valid != b[i].Valid {
			return !a[i].Valid
		}
		return a[i].Value < b[i].Value
	}
	return false
}
