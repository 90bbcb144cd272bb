package testutil

import (
	"encoding/json"
	"hash/fnv"
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

// AllocateTestPort returns a deterministic port based on test name
func AllocateTestPort(t *testing.T) int {
	t.Helper()
	return AllocateTestPortN(t, 0)
}

// AllocateTestPortN returns a deterministic port based on test name and index.
// Use different index values to get multiple unique ports within the same test.
func AllocateTestPortN(t *testing.T, n int) int {
	t.Helper()
	h := fnv.New32a()
	h.Write([]byte(t.Name()))
	h.Write([]byte{byte(n)})
	return 10000 + int(h.Sum32()%10000)
}

// WaitForHealthy waits for a URL to return 200 OK
func WaitForHealthy(t *testing.T, url string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 500 * time.Millisecond}

	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(50 * time.Millisecond)
	}

	t.Fatalf("Service at %s did not become healthy within %v", url, timeout)
}

// Eventually retries a condition until it returns true or timeout expires
func Eventually(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("Condition did not become true within timeout")
}

func chunkJSON(fields map[string]string) string {
	data, err := json.Marshal(fields)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// StartLine returns a tool-call-streaming-start chunk as JSON.
func StartLine(toolCallID, toolName string) string {
	return chunkJSON(map[string]string{
		"type":       "tool-call-streaming-start",
		"toolCallId": toolCallID,
		"toolName":   toolName,
	})
}

// DeltaLine returns a tool-call-delta chunk as JSON.
func DeltaLine(toolCallID, delta string) string {
	return chunkJSON(map[string]string{
		"type":          "tool-call-delta",
		"toolCallId":    toolCallID,
		"argsTextDelta": delta,
	})
}

// ResultLine returns a tool-result chunk as JSON.
func ResultLine(toolCallID string) string {
	return chunkJSON(map[string]string{
		"type":       "tool-result",
		"toolCallId": toolCallID,
	})
}

// SplitDeltas cuts s into pieces of at most size bytes without splitting a
// rune. A size below one yields a single piece.
func SplitDeltas(s string, size int) []string {
	if size < 1 || len(s) <= size {
		return []string{s}
	}
	var out []string
	for len(s) > 0 {
		n := min(size, len(s))
		for n < len(s) && !utf8.RuneStart(s[n]) {
			n++
		}
		out = append(out, s[:n])
		s = s[n:]
	}
	return out
}

// ToolCall returns the chunk lines of one complete tool call whose arguments
// arrive in deltas of at most size bytes.
func ToolCall(toolCallID, toolName, args string, size int) []string {
	lines := []string{StartLine(toolCallID, toolName)}
	for _, d := range SplitDeltas(args, size) {
		lines = append(lines, DeltaLine(toolCallID, d))
	}
	return append(lines, ResultLine(toolCallID))
}

// NDJSON joins chunk lines into a newline-delimited stream.
func NDJSON(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

// JSONArray joins chunk lines into a JSON array body.
func JSONArray(lines ...string) string {
	return "[" + strings.Join(lines, ",") + "]"
}
