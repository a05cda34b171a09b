package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromGo_Scalars(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  Value
	}{
		{"string", "hello", String("hello")},
		{"int", 42, Int(42)},
		{"int64", int64(7), Int(7)},
		{"bool", true, Bool(true)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromGo(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromGo_RejectsFloats(t *testing.T) {
	_, err := FromGo(3.14)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")
}

func TestFromGo_RejectsNil(t *testing.T) {
	_, err := FromGo(nil)
	require.Error(t, err)
}

func TestFromGo_Nested(t *testing.T) {
	got, err := FromGo(map[string]any{
		"name": "dog",
		"legs": 4,
		"tags": []any{"pet", "loud"},
	})
	require.NoError(t, err)

	want := Record{
		"name": String("dog"),
		"legs": Int(4),
		"tags": List{String("pet"), String("loud")},
	}
	assert.Equal(t, want, got)
}

func TestFromGo_NestedFloatRejected(t *testing.T) {
	_, err := FromGo(map[string]any{"weight": 3.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `record["weight"]`)
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"equal strings", String("a"), String("a"), true},
		{"different strings", String("a"), String("b"), false},
		{"equal ints", Int(1), Int(1), true},
		{"int vs string", Int(1), String("1"), false},
		{"equal lists", List{Int(1), Int(2)}, List{Int(1), Int(2)}, true},
		{"list order matters", List{Int(1), Int(2)}, List{Int(2), Int(1)}, false},
		{
			"equal records",
			Record{"a": Int(1), "b": String("x")},
			Record{"b": String("x"), "a": Int(1)},
			true,
		},
		{
			"record extra key",
			Record{"a": Int(1)},
			Record{"a": Int(1), "b": Int(2)},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestUnmarshal_StrictValidation(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"float rejected", `{"x": 1.5}`, "floats are forbidden"},
		{"null rejected", `{"x": null}`, "null is forbidden"},
		{"exponent rejected", `1e3`, "floats are forbidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestUnmarshal_RoundTrip(t *testing.T) {
	original := Record{
		"id":     Int(12),
		"name":   String("widget"),
		"active": Bool(true),
		"tags":   List{String("a"), String("b")},
	}

	data, err := Marshal(original)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.True(t, Equal(original, decoded))
}

func TestMarshal_SortedKeys(t *testing.T) {
	rec := Record{"b": Int(2), "a": Int(1), "c": Int(3)}

	data, err := Marshal(rec)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2,"c":3}`, string(data))
}

func TestNewRecord(t *testing.T) {
	rec := NewRecord(F("name", String("cart")), F("count", Int(5)))
	assert.Equal(t, Record{"name": String("cart"), "count": Int(5)}, rec)
}
