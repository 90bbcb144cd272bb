package optimistic

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Complete(t *testing.T) {
	t.Parallel()

	res := Parse(`{"message": "Line 1\nLine 2\tTabbed", "status": "active", "obj": {"nested": {"deep": 1}}}`)

	require.True(t, res.IsComplete)
	require.NotNil(t, res.Parsed)
	assert.Equal(t, "Line 1\nLine 2\tTabbed", res.Parsed["message"])
	assert.Equal(t, "active", res.Values["status"])
	assert.Equal(t, float64(1), res.Values["obj.nested.deep"])
	assert.Contains(t, res.Values, "obj.nested")
}

func TestParse_CompleteNonObject(t *testing.T) {
	t.Parallel()

	res := Parse(`[1, 2]`)
	assert.True(t, res.IsComplete)
	assert.Nil(t, res.Parsed)
	assert.Empty(t, res.Values)
}

func TestParse_Incomplete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		values map[string]any
		absent []string
	}{
		{
			name:   "open string with escapes",
			input:  `{"message": "Say \"Hello\" to\neveryone who`,
			values: map[string]any{"message": "Say \"Hello\" to\neveryone who"},
		},
		{
			name:  "backslashes complete and open",
			input: `{"path": "C:\\Users\\John", "incomplete": "C:\\Users\\`,
			values: map[string]any{
				"path":       `C:\Users\John`,
				"incomplete": `C:\Users\`,
			},
		},
		{
			name:   "dangling escape dropped",
			input:  `{"message": "Line 1\`,
			values: map[string]any{"message": "Line 1"},
		},
		{
			name:   "partial unicode escape dropped",
			input:  `{"message": "caf\u00`,
			values: map[string]any{"message": "caf"},
		},
		{
			name:   "surrogate pair",
			input:  `{"emoji": "\uD83D\uDE00 ok`,
			values: map[string]any{"emoji": "😀 ok"},
		},
		{
			name:   "high surrogate waiting for low half",
			input:  `{"emoji": "x\uD83D`,
			values: map[string]any{"emoji": "x"},
		},
		{
			name:  "deeply nested open object",
			input: `{"level1": {"level2": {"message": "Deep value", "status": "pen`,
			values: map[string]any{
				"level1.level2.message": "Deep value",
				"level1.level2.status":  "pen",
			},
		},
		{
			name:  "literals and prefixes",
			input: `{"value": null, "yes": true, "no": f`,
			values: map[string]any{
				"value": nil,
				"yes":   true,
				"no":    false,
			},
		},
		{
			name:  "numbers",
			input: `{"neg": -42, "sci": 1.23e-10, "partial": 4.5e+`,
			values: map[string]any{
				"neg": float64(-42),
				"sci": 1.23e-10,
			},
			absent: []string{"partial"},
		},
		{
			name:   "key without colon",
			input:  `{"missing" "colon"}`,
			absent: []string{"missing"},
		},
		{
			name:   "key still streaming",
			input:  `{"first": "value1", "sec`,
			values: map[string]any{"first": "value1"},
			absent: []string{"sec"},
		},
		{
			name:  "partial array",
			input: `{"ok": "value", "broken": [1, 2`,
			values: map[string]any{
				"ok":     "value",
				"broken": []any{float64(1), float64(2)},
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res := Parse(tt.input)
			assert.False(t, res.IsComplete)
			for k, want := range tt.values {
				require.Contains(t, res.Values, k)
				assert.Equal(t, want, res.Values[k], "key %s", k)
			}
			for _, k := range tt.absent {
				assert.NotContains(t, res.Values, k)
			}
		})
	}
}

func TestParse_ArrayOfObjectsAutoCloses(t *testing.T) {
	t.Parallel()

	res := Parse(`{"items": [{"id": 1, "name": "Item 1"}, {"id": 2, "name": "Item `)

	require.False(t, res.IsComplete)
	require.NotNil(t, res.Parsed)
	items, ok := res.Parsed["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 2)
	assert.Equal(t, map[string]any{"id": float64(1), "name": "Item 1"}, items[0])
	assert.Equal(t, map[string]any{"id": float64(2), "name": "Item "}, items[1])
}

func TestParse_ProgressiveKeys(t *testing.T) {
	t.Parallel()

	stages := []string{
		`{"first": "val`,
		`{"first": "value1", "sec`,
		`{"first": "value1", "second": "val`,
		`{"first": "value1", "second": "value2", "thi`,
		`{"first": "value1", "second": "value2", "third": "value3"}`,
	}

	for i, stage := range stages {
		res := Parse(stage)
		assert.Equal(t, i == len(stages)-1, res.IsComplete, "stage %d", i)
		assert.Contains(t, res.Values, "first")
		if i >= 2 {
			assert.Contains(t, res.Values, "second")
		}
		if i >= 4 {
			assert.Contains(t, res.Values, "third")
		}
	}
}

func TestAutoClose(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{`{"a": "b`, `{"a": "b"}`, true},
		{`{"a": "b\`, `{"a": "b"}`, true},
		{`{"a": "b\u00`, `{"a": "b"}`, true},
		{`{"a": 1, "b`, `{"a": 1}`, true},
		{`{"a": 1, "b"`, `{"a": 1}`, true},
		{`{"a":`, `{"a":null}`, true},
		{`{"a": [1, 2,`, `{"a": [1, 2]}`, true},
		{`{"a": {"b": [{"c": "d`, `{"a": {"b": [{"c": "d"}]}}`, true},
		{`{"a": 1}`, `{"a": 1}`, true},
		{`}`, "", false},
		{``, "", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, ok := AutoClose(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
				assert.True(t, json.Valid([]byte(got)), "auto-closed output should be valid JSON: %s", got)
			}
		})
	}
}

func TestValueHelpers(t *testing.T) {
	t.Parallel()

	values := map[string]any{
		"thought": "step one",
		"next":    true,
		"number":  float64(3),
	}

	assert.Equal(t, "step one", Value(values, "thought", ""))
	assert.Equal(t, "fallback", Value(values, "missing", "fallback"))
	assert.Equal(t, "", Value(values, "next", ""))
	assert.True(t, Value(values, "next", false))
	assert.Equal(t, 3, Int(values, "number", 0))
	assert.Equal(t, 7, Int(values, "thought", 7))
}

// streamAlphabet mixes escapes with multi-byte runes.
var streamAlphabet = []string{"a", "b", " ", `"`, `\`, "\n", "\t", "é", "😀", "/"}

func genStreamText() gopter.Gen {
	return gen.SliceOf(gen.IntRange(0, len(streamAlphabet)-1)).Map(func(idx []int) string {
		var b strings.Builder
		for _, i := range idx {
			b.WriteString(streamAlphabet[i])
		}
		return b.String()
	})
}

func TestParse_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("complete documents round-trip string values", prop.ForAll(
		func(s string) bool {
			doc, _ := json.Marshal(map[string]string{"k": s})
			res := Parse(string(doc))
			return res.IsComplete && res.Values["k"] == s
		},
		genStreamText(),
	))

	properties.Property("every prefix inside the value yields a prefix of it", prop.ForAll(
		func(s string) bool {
			encoded, _ := json.Marshal(s)
			head := `{"k": `
			doc := head + string(encoded) + "}"
			for cut := len(head) + 1; cut < len(doc); cut++ {
				res := Parse(doc[:cut])
				got, ok := res.Values["k"].(string)
				if !ok || !strings.HasPrefix(s, got) {
					t.Logf("cut=%d got=%q want prefix of %q", cut, got, s)
					return false
				}
			}
			return true
		},
		genStreamText(),
	))

	properties.TestingRun(t)
}
