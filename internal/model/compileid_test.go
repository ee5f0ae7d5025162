package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileIDString(t *testing.T) {
	tests := []struct {
		name string
		id   CompileID
		want string
	}{
		{"frame only", CompileID{FrameID: Some(0), FrameCompileID: Some(1)}, "0_1"},
		{"with attempt", CompileID{FrameID: Some(0), FrameCompileID: Some(1), Attempt: Some(2)}, "0_1_2"},
		{"autograd", CompileID{CompiledAutogradID: Some(3), FrameID: Some(0), FrameCompileID: Some(1)}, "!3_0_1"},
		{"missing frame compile", CompileID{FrameID: Some(4)}, "4_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.id.String())

			parsed, err := ParseCompileID(tt.want)
			require.NoError(t, err)
			assert.Equal(t, tt.id, parsed)
		})
	}
}

func TestCompileIDEqualityIsStructural(t *testing.T) {
	a := CompileID{FrameID: Some(1), FrameCompileID: Some(0)}
	b := CompileID{FrameID: Some(1), FrameCompileID: Some(0)}
	c := CompileID{FrameID: Some(1), FrameCompileID: Some(0), Attempt: Some(0)}

	assert.True(t, a == b)
	assert.False(t, a == c, "an explicit attempt 0 differs from an absent attempt")

	set := map[CompileID]bool{a: true}
	assert.True(t, set[b])
}

func TestParseCompileIDErrors(t *testing.T) {
	for _, in := range []string{"", "abc", "1_2_3_4", "!x_0_1", "!1", "0_1_"} {
		_, err := ParseCompileID(in)
		assert.Error(t, err, in)
	}
}

func TestDisplayKey(t *testing.T) {
	assert.Equal(t, "Global", DisplayKey(GlobalKey))
	assert.Equal(t, "0/1", DisplayKey("0_1"))
	assert.Equal(t, "0/1 (attempt 2)", DisplayKey("0_1_2"))
	assert.Equal(t, "0/1", DisplayKey("0_1_0"))
	assert.Equal(t, "!2/0/1", DisplayKey("!2_0_1"))
	assert.Equal(t, "weird", DisplayKey("weird"))
}

func TestCompileIDLess(t *testing.T) {
	a, _ := ParseCompileID("0_0")
	b, _ := ParseCompileID("0_1")
	c, _ := ParseCompileID("1_0")
	d, _ := ParseCompileID("!0_0_0")

	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, c.Less(a))
	assert.True(t, c.Less(d), "ids without an autograd id sort first")
	assert.False(t, a.Less(a))
}

func TestOptIntJSON(t *testing.T) {
	var e IntermediateEntry
	require.NoError(t, json.Unmarshal([]byte(`{"type":"artifact","rank":null,"metadata":{}}`), &e))
	assert.False(t, e.Rank.Valid)

	require.NoError(t, json.Unmarshal([]byte(`{"type":"artifact","rank":3,"metadata":{}}`), &e))
	assert.Equal(t, Some(3), e.Rank)

	out, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"rank":3`)
}
