package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalSortsKeys(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{"b": 1, "a": []any{"x", true, nil}, "c": map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":["x",true,null],"b":1,"c":{}}`, string(out))
}

func TestMarshalCanonicalNoHTMLEscaping(t *testing.T) {
	out, err := MarshalCanonical("<a&b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(out))
}

func TestMarshalCanonicalNumbers(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{float64(3), "3"},
		{0.25, "0.25"},
		{int64(-7), "-7"},
		{[]string{"p", "q"}, `["p","q"]`},
	}
	for _, tt := range tests {
		out, err := MarshalCanonical(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(out))
	}
}

func TestMarshalCanonicalRejects(t *testing.T) {
	_, err := MarshalCanonical(math.NaN())
	assert.Error(t, err)

	_, err = MarshalCanonical(struct{}{})
	assert.Error(t, err)

	_, err = MarshalCanonical(map[string]any{"k": math.Inf(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `object["k"]`)
}
