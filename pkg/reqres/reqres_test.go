package reqres

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseValuesNamed(t *testing.T) {
	named, positional, err := ParseValues(json.RawMessage(`{"x":1,"y":"a"}`))
	require.NoError(t, err)
	require.Nil(t, positional)
	require.Equal(t, "a", named["y"])
}

func TestParseValuesPositional(t *testing.T) {
	named, positional, err := ParseValues(json.RawMessage(`[1,"a",null]`))
	require.NoError(t, err)
	require.Nil(t, named)
	require.Len(t, positional, 3)
}

func TestBindValueIntegerVsReal(t *testing.T) {
	named, _, err := ParseValues(json.RawMessage(`{"i":5,"r":5.0,"s":"txt"}`))
	require.NoError(t, err)

	bound, err := NamedDriverValues(named)
	require.NoError(t, err)

	require.Equal(t, int64(5), bound["i"])
	require.Equal(t, 5.0, bound["r"])
	require.Equal(t, "txt", bound["s"])
}

func TestRowToJSONBlobAsByteArray(t *testing.T) {
	row := map[string]interface{}{
		"blob": []byte{1, 2, 3},
		"txt":  "hello",
		"num":  int64(42),
	}
	out := RowToJSON(row)
	require.Equal(t, []int{1, 2, 3}, out["blob"])
	require.Equal(t, "hello", out["txt"])
	require.Equal(t, int64(42), out["num"])
}
