package permission

import (
	"encoding/json"
	"testing"

	"github.com/ohler55/ojg/oj"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The username document is decoded with ojg (integral numbers come back as
// int64) while the JWT payload is decoded with encoding/json (every number
// is a float64). Equality must hold across the two decoders.
func TestStructurallyEqual_AcrossDecoders(t *testing.T) {
	doc := `{"id":"user1","iat":1700000000,"validity":1000,"topics":["a/b"],"nested":{"x":1.5}}`

	var fromOjg any
	require.NoError(t, oj.Unmarshal([]byte(doc), &fromOjg))

	var fromStdlib any
	require.NoError(t, json.Unmarshal([]byte(doc), &fromStdlib))

	assert.True(t, StructurallyEqual(fromOjg, fromStdlib))
	assert.True(t, StructurallyEqual(fromStdlib, fromOjg))
}

func TestStructurallyEqual_Mismatches(t *testing.T) {
	tests := []struct {
		name string
		a, b any
	}{
		{"different values", map[string]any{"a": int64(1)}, map[string]any{"a": float64(2)}},
		{"missing key", map[string]any{"a": int64(1)}, map[string]any{}},
		{"extra key", map[string]any{"a": int64(1)}, map[string]any{"a": int64(1), "b": int64(2)}},
		{"array length", []any{int64(1)}, []any{int64(1), int64(2)}},
		{"array order", []any{"a", "b"}, []any{"b", "a"}},
		{"type mismatch", map[string]any{"a": "1"}, map[string]any{"a": int64(1)}},
		{"object vs array", map[string]any{}, []any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, StructurallyEqual(tt.a, tt.b))
		})
	}
}

func TestStructurallyEqual_Scalars(t *testing.T) {
	assert.True(t, StructurallyEqual("x", "x"))
	assert.True(t, StructurallyEqual(true, true))
	assert.True(t, StructurallyEqual(nil, nil))
	assert.True(t, StructurallyEqual(int64(3), float64(3)))
	assert.False(t, StructurallyEqual(true, false))
	assert.False(t, StructurallyEqual(nil, false))
}
