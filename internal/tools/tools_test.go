package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phobos.org.uk/toolstream/internal/stream"
	"phobos.org.uk/toolstream/internal/toolerrors"
)

func strPtr(s string) *string { return &s }

func TestParseIdleArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  *IdleArgs
	}{
		{
			name:  "complete document",
			input: `{"final_response": "all done"}`,
			want:  &IdleArgs{FinalResponse: strPtr("all done")},
		},
		{
			name:  "complete document with json escapes",
			input: `{"final_response": "line\nnext \u00e9"}`,
			want:  &IdleArgs{FinalResponse: strPtr("line\nnext é")},
		},
		{
			name:  "complete document without the field",
			input: `{"other": 1}`,
			want:  &IdleArgs{},
		},
		{
			name:  "open string",
			input: `{"final_response": "hello wor`,
			want:  &IdleArgs{FinalResponse: strPtr("hello wor")},
		},
		{
			name:  "closed value in open object",
			input: `{"final_response": "say \"hi\""`,
			want:  &IdleArgs{FinalResponse: strPtr(`say "hi"`)},
		},
		{
			name:  "escaped backslash",
			input: `{"final_response": "C:\\temp\\`,
			want:  &IdleArgs{FinalResponse: strPtr(`C:\temp\`)},
		},
		{
			name:  "dangling backslash",
			input: `{"final_response": "abc\`,
			want:  &IdleArgs{FinalResponse: strPtr("abc")},
		},
		{
			name:  "value just opened",
			input: `{"final_response": "`,
			want:  &IdleArgs{FinalResponse: strPtr("")},
		},
		{name: "inside key", input: `{"final`},
		{name: "before colon", input: `{"final_response"`},
		{name: "before value", input: `{"final_response": `},
		{name: "empty", input: ``},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseIdleArgs(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseIdleArgs_NonStringPropagates(t *testing.T) {
	t.Parallel()

	_, err := ParseIdleArgs(`{"final_response": 42}`)
	require.Error(t, err)
	assert.False(t, toolerrors.IsIncomplete(err))
	assert.Contains(t, err.Error(), "parse idle arguments")
}

func TestParseIdleArgs_CompleteDocumentsRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("decoded value matches encoding/json", prop.ForAll(
		func(s string, extra string) bool {
			doc, err := json.Marshal(map[string]string{"final_response": s, "note": extra})
			if err != nil {
				return false
			}
			var want map[string]string
			if json.Unmarshal(doc, &want) != nil {
				return false
			}
			got, err := ParseIdleArgs(string(doc))
			return err == nil && got != nil && got.FinalResponse != nil && *got.FinalResponse == want["final_response"]
		},
		gen.AnyString(),
		gen.AlphaString(),
	))

	properties.Property("open plain text streams verbatim", prop.ForAll(
		func(s string) bool {
			got, err := ParseIdleArgs(`{"final_response": "` + s)
			return err == nil && got != nil && *got.FinalResponse == s
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestParseThinkingArgs(t *testing.T) {
	t.Parallel()

	got, err := ParseThinkingArgs(`{"thought": "first check the schema", "nextThoughtNeeded": true, "thoughtNumber": 2, "totalThoughts": 5}`)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "first check the schema", *got.Thought)
	assert.True(t, *got.NextThoughtNeeded)
	assert.Equal(t, 2, *got.ThoughtNumber)
	assert.Equal(t, 5, *got.TotalThoughts)

	got, err = ParseThinkingArgs(`{"thoughtNumber": 3, "thought": "look at the ord`)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "look at the ord", *got.Thought)
	assert.Equal(t, 3, *got.ThoughtNumber)
	assert.Nil(t, got.NextThoughtNeeded)

	got, err = ParseThinkingArgs(`{"tho`)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParseThinkingArgs(`{"thought": ["not", "a", "string"]}`)
	assert.Error(t, err)
}

func TestParseSQLArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  *SQLArgs
	}{
		{
			name:  "complete",
			input: `{"statements": ["SELECT 1", "SELECT \"name\" FROM users"]}`,
			want:  &SQLArgs{Statements: []string{"SELECT 1", `SELECT "name" FROM users`}},
		},
		{
			name:  "complete but not an array",
			input: `{"statements": "SELECT 1"}`,
		},
		{
			name:  "legacy single statement",
			input: `{"sql": "SELECT 2"}`,
			want:  &SQLArgs{Statements: []string{"SELECT 2"}},
		},
		{
			name:  "array just opened",
			input: `{"statements": [`,
			want:  &SQLArgs{Statements: []string{}},
		},
		{
			name:  "second statement streaming",
			input: `{"statements": ["SELECT 1", "SELECT * FR`,
			want:  &SQLArgs{Statements: []string{"SELECT 1", "SELECT * FR"}},
		},
		{
			name:  "legacy statement streaming",
			input: `{"sql": "SELECT co`,
			want:  &SQLArgs{Statements: []string{"SELECT co"}},
		},
		{
			name:  "nothing yet",
			input: `{"statem`,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseSQLArgs(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMetricsArgs(t *testing.T) {
	t.Parallel()

	got, err := ParseMetricsArgs(`{"files": [{"name": "revenue", "yml_content": "name: revenue\nsql: select 1"}]}`)
	require.NoError(t, err)
	assert.Equal(t, &MetricsArgs{Files: []MetricFile{{Name: "revenue", YMLContent: "name: revenue\nsql: select 1"}}}, got)

	got, err = ParseMetricsArgs(`{"files": [{"name": "revenue", "yml_content": "a"}, {"name": "churn", "yml_content": "name: ch`)
	require.NoError(t, err)
	assert.Equal(t, &MetricsArgs{Files: []MetricFile{
		{Name: "revenue", YMLContent: "a"},
		{Name: "churn", YMLContent: "name: ch"},
	}}, got)

	got, err = ParseMetricsArgs(`{"files": [{"na`)
	require.NoError(t, err)
	assert.Equal(t, &MetricsArgs{Files: []MetricFile{}}, got)

	got, err = ParseMetricsArgs(`{"other": true}`)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRegisterStreamingParsers(t *testing.T) {
	t.Parallel()

	c := stream.NewCoordinator()
	require.NoError(t, RegisterStreamingParsers(c))
	assert.Equal(t, StreamingParserNames(), c.Tools())
	assert.Len(t, c.Tools(), 6)

	subset := stream.NewCoordinator()
	require.NoError(t, RegisterStreamingParsers(subset, IdleToolName))
	assert.Equal(t, []string{IdleToolName}, subset.Tools())

	err := RegisterStreamingParsers(stream.NewCoordinator(), IdleToolName, "nope")
	assert.ErrorContains(t, err, `"nope"`)
}

// Drives the idle parser through the coordinator the way a model stream does.
func TestIdleThroughCoordinator(t *testing.T) {
	t.Parallel()

	c := stream.NewCoordinator()
	require.NoError(t, RegisterStreamingParsers(c))

	res, err := c.ProcessChunk(stream.StartChunk("A", IdleToolName))
	require.NoError(t, err)
	assert.Nil(t, res)

	deltas := []string{`{"final`, `_response": "hel`, `lo wor`, `ld"`, `}`}
	var previews []string
	var last *stream.StreamingResult
	for _, d := range deltas {
		res, err := c.ProcessChunk(stream.DeltaChunk("A", d))
		require.NoError(t, err)
		if res == nil {
			continue
		}
		args := res.PartialArgs.(*IdleArgs)
		previews = append(previews, *args.FinalResponse)
		last = res
	}

	assert.Equal(t, []string{"hel", "hello wor", "hello world", "hello world"}, previews)
	require.NotNil(t, last)
	assert.True(t, last.IsComplete)

	res, err = c.ProcessChunk(stream.ResultChunk("A"))
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 0, c.Pending())

	// A non-string value is a real error, not incomplete input.
	_, _ = c.ProcessChunk(stream.StartChunk("B", IdleToolName))
	_, err = c.ProcessChunk(stream.DeltaChunk("B", `{"final_response": ["x"]}`))
	var perr *toolerrors.ParserError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "B", perr.ToolCallID)
}

func TestIdleTool_Execute(t *testing.T) {
	t.Parallel()

	tool := NewIdleTool(nil)

	out, err := tool.Execute(context.Background(), IdleInput{FinalResponse: "Here is your answer."})
	require.NoError(t, err)
	assert.Equal(t, IdleOutput{Success: true}, out)

	_, err = tool.Execute(context.Background(), IdleInput{})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "idle: "))
}
