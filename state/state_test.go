package state

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) Value {
	t.Helper()
	v, err := Parse([]byte(s))
	require.NoError(t, err)
	return v
}

func TestLookup(t *testing.T) {
	root := mustParse(t, `{"a": {"b": [1, 2, 3]}, "inventory": {"items": ["sword", {"name": "shield"}]}}`)

	tests := []struct {
		name string
		path string
		want Value
	}{
		{"nested array index", "a/b/1", Number(2)},
		{"object key", "a", Object{"b": Array{Number(1), Number(2), Number(3)}}},
		{"array then key", "inventory/items/1/name", String("shield")},
		{"negative index", "a/b/-1", Number(3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Lookup(root, tt.path)
			require.NoError(t, err)
			assert.True(t, Equal(tt.want, got), "got %s", Format(got))
		})
	}
}

func TestLookup_NotFound(t *testing.T) {
	root := mustParse(t, `{"a": {"b": 1}, "list": [1]}`)

	for _, path := range []string{"a/z", "missing", "a/b/c", "list/5", "list/x", ""} {
		t.Run(path, func(t *testing.T) {
			_, err := Lookup(root, path)
			assert.ErrorIs(t, err, ErrPathNotFound)
		})
	}
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(Number(5), Number(5)))
	assert.True(t, Equal(nil, Null{}))
	assert.True(t, Equal(mustParse(t, `{"a":[1,"x",null]}`), mustParse(t, `{"a":[1,"x",null]}`)))
	assert.True(t, Equal(Number(1), Bool(true)))
	assert.True(t, Equal(Bool(false), Number(0)))
	assert.True(t, Equal(Array{Bool(true)}, Array{Number(1)}))
	assert.False(t, Equal(Number(2), Bool(true)))
	assert.False(t, Equal(String("true"), Bool(true)))
	assert.False(t, Equal(String("1"), Number(1)))
	assert.False(t, Equal(Array{Number(1)}, Array{Number(1), Number(2)}))
	assert.False(t, Equal(Object{"a": Number(1)}, Object{"b": Number(1)}))
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want int
	}{
		{"numbers", Number(1), Number(2), -1},
		{"strings", String("b"), String("a"), 1},
		{"bools", Bool(false), Bool(true), -1},
		{"number above true", Number(5), Bool(true), 1},
		{"false below number", Bool(false), Number(0.5), -1},
		{"true equals one", Bool(true), Number(1), 0},
		{"equal arrays", Array{Number(1)}, Array{Number(1)}, 0},
		{"array prefix", Array{Number(1)}, Array{Number(1), Number(0)}, -1},
		{"array element", Array{Number(3)}, Array{Number(2), Number(9)}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compare(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompare_NotComparable(t *testing.T) {
	pairs := [][2]Value{
		{String("hello"), Bool(true)},
		{Number(1), String("1")},
		{Null{}, Null{}},
		{Object{}, Object{}},
		{Array{String("a")}, Array{Number(1)}},
		{Bool(true), String("1")},
		{Null{}, Number(0)},
	}
	for _, p := range pairs {
		_, err := Compare(p[0], p[1])
		assert.ErrorIs(t, err, ErrNotComparable, "%s vs %s", Kind(p[0]), Kind(p[1]))
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "hello", Format(String("hello")))
	assert.Equal(t, "True", Format(Bool(true)))
	assert.Equal(t, "None", Format(Null{}))
	assert.Equal(t, "5", Format(Number(5)))
	assert.Equal(t, "2.5", Format(Number(2.5)))
	assert.Equal(t, "[1, 'a', False]", Format(Array{Number(1), String("a"), Bool(false)}))
	assert.Equal(t, "{'a': 1, 'b': None}", Format(Object{"b": Null{}, "a": Number(1)}))
}

func TestFormatFloat(t *testing.T) {
	for in, want := range map[float64]string{
		1:       "1.0",
		-3:      "-3.0",
		0:       "0.0",
		1.5:     "1.5",
		1e20:    "1e+20",
		1.5e-05: "1.5e-05",
		0.001:   "0.001",
	} {
		assert.Equal(t, want, FormatFloat(in), "%v", in)
	}
	assert.Equal(t, "inf", FormatFloat(math.Inf(1)))
	assert.Equal(t, "nan", FormatFloat(math.NaN()))
}

func TestObjectJSON(t *testing.T) {
	var obj Object
	require.NoError(t, json.Unmarshal([]byte(`{"hp": 10, "tags": ["a"], "boss": null}`), &obj))
	assert.Equal(t, Number(10), obj["hp"])
	assert.Equal(t, Null{}, obj["boss"])

	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hp": 10, "tags": ["a"], "boss": null}`, string(data))

	var empty Object
	require.NoError(t, json.Unmarshal([]byte(`null`), &empty))
	assert.NotNil(t, empty)

	assert.Error(t, json.Unmarshal([]byte(`[1]`), &obj))
}

func TestMerge(t *testing.T) {
	external := Object{"mood": String("calm"), "visible": Bool(true)}
	internal := Object{"mood": String("angry"), "secret": Number(42)}

	merged := Merge(external, internal)

	assert.Equal(t, String("angry"), merged["mood"])
	assert.Equal(t, Bool(true), merged["visible"])
	assert.Equal(t, Number(42), merged["secret"])
	assert.Equal(t, String("calm"), external["mood"])
}

func TestCloneIsDeep(t *testing.T) {
	orig := Object{"list": Array{Number(1)}, "nested": Object{"k": String("v")}}
	cp := orig.Clone()
	cp["list"].(Array)[0] = Number(99)
	cp["nested"].(Object)["k"] = String("changed")

	assert.Equal(t, Number(1), orig["list"].(Array)[0])
	assert.Equal(t, String("v"), orig["nested"].(Object)["k"])
}

func TestFromAny_Unsupported(t *testing.T) {
	_, err := FromAny(struct{}{})
	assert.Error(t, err)
}
