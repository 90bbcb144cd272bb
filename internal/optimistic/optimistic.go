// Package optimistic extracts best-effort values from JSON text that may be
// truncated anywhere, as happens while a model streams tool-call arguments.
//
// Parse never fails. Complete documents are decoded normally. Incomplete
// documents are auto-closed where possible (Parsed) and scanned tolerantly
// for every key/value pair seen so far (Values), including an open trailing
// string so callers can render text as it is typed.
package optimistic

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Result is the outcome of an optimistic parse.
type Result struct {
	// Parsed is the decoded object, or the decoded auto-closed object for
	// incomplete input. Nil when neither decodes to a JSON object.
	Parsed map[string]any
	// IsComplete is true when the input is valid, complete JSON.
	IsComplete bool
	// Values maps top-level keys and dotted paths of nested object members
	// ("a.b.c") to the values extracted so far. Numbers are float64.
	Values map[string]any
}

// Parse extracts whatever can be known from text.
func Parse(text string) Result {
	var whole any
	if err := json.Unmarshal([]byte(text), &whole); err == nil {
		res := Result{IsComplete: true, Values: make(map[string]any)}
		if obj, ok := whole.(map[string]any); ok {
			res.Parsed = obj
			flatten("", obj, res.Values)
		}
		return res
	}

	res := Result{Values: make(map[string]any)}
	if closed, ok := AutoClose(text); ok {
		var obj map[string]any
		if err := json.Unmarshal([]byte(closed), &obj); err == nil {
			res.Parsed = obj
		}
	}

	sc := &scanner{s: text}
	sc.ws()
	if !sc.eof() && sc.peek() == '{' {
		sc.object("", res.Values)
	}
	return res
}

// Value returns values[key] as T, or def when missing or of another type.
func Value[T any](values map[string]any, key string, def T) T {
	v, ok := values[key]
	if !ok {
		return def
	}
	if t, ok := v.(T); ok {
		return t
	}
	return def
}

// Int returns a numeric value truncated to int, or def.
func Int(values map[string]any, key string, def int) int {
	if f, ok := values[key].(float64); ok {
		return int(f)
	}
	return def
}

func flatten(prefix string, obj map[string]any, out map[string]any) {
	for k, v := range obj {
		path := joinPath(prefix, k)
		out[path] = v
		if nested, ok := v.(map[string]any); ok {
			flatten(path, nested, out)
		}
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// AutoClose turns a truncated JSON object into a syntactically closed one:
// it terminates an open string (dropping a dangling escape), drops a
// dangling key, fills a dangling colon with null, trims a trailing comma,
// and closes every open object and array. It reports false when the text is
// not a truncated object at all (for example unbalanced closers).
func AutoClose(text string) (string, bool) {
	var stack []byte
	inString := false
	escStart := -1 // index of the backslash of an unfinished escape
	hexLeft := 0   // \u digits still expected
	strStart := -1
	strIsKey := false
	var lastSig byte

	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case hexLeft > 0:
				hexLeft--
				if hexLeft == 0 {
					escStart = -1
				}
			case escStart >= 0:
				if c == 'u' {
					hexLeft = 4
				} else {
					escStart = -1
				}
			case c == '\\':
				escStart = i
			case c == '"':
				inString = false
				lastSig = '"'
			}
			continue
		}
		switch c {
		case '"':
			inString = true
			strStart = i
			strIsKey = len(stack) > 0 && stack[len(stack)-1] == '{' && (lastSig == '{' || lastSig == ',')
		case '{', '[':
			stack = append(stack, c)
			lastSig = c
		case '}', ']':
			if len(stack) == 0 {
				return "", false
			}
			stack = stack[:len(stack)-1]
			lastSig = c
		case ' ', '\t', '\n', '\r':
		default:
			lastSig = c
		}
	}

	if len(stack) == 0 && !inString {
		return text, strings.TrimSpace(text) != ""
	}

	out := text
	switch {
	case inString && strIsKey:
		out = text[:strStart]
	case inString:
		if escStart >= 0 {
			out = text[:escStart]
		}
		out += `"`
	case lastSig == '"' && strIsKey:
		out = text[:strStart]
	case lastSig == ':':
		out = strings.TrimRight(text, " \t\r\n") + "null"
	}

	out = strings.TrimRight(out, " \t\r\n")
	out = strings.TrimSuffix(out, ",")

	var b strings.Builder
	b.WriteString(out)
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String(), true
}

// scanner walks possibly-truncated JSON, collecting values as it goes.
type scanner struct {
	s string
	i int
}

func (sc *scanner) eof() bool  { return sc.i >= len(sc.s) }
func (sc *scanner) peek() byte { return sc.s[sc.i] }

func (sc *scanner) ws() {
	for !sc.eof() {
		switch sc.peek() {
		case ' ', '\t', '\n', '\r':
			sc.i++
		default:
			return
		}
	}
}

// object scans an object starting at '{'. Members are recorded in out under
// their dotted path when out is non-nil. It reports whether the object closed.
func (sc *scanner) object(prefix string, out map[string]any) (map[string]any, bool) {
	obj := make(map[string]any)
	sc.i++
	for {
		sc.ws()
		if sc.eof() {
			return obj, false
		}
		switch sc.peek() {
		case '}':
			sc.i++
			return obj, true
		case ',':
			sc.i++
			continue
		case '"':
		default:
			return obj, false
		}

		key, closed := sc.str()
		if !closed {
			return obj, false
		}
		sc.ws()
		if sc.eof() || sc.peek() != ':' {
			return obj, false
		}
		sc.i++
		sc.ws()
		if sc.eof() {
			return obj, false
		}

		path := joinPath(prefix, key)
		v, ok, complete := sc.value(path, out)
		if ok {
			obj[key] = v
			if out != nil {
				out[path] = v
			}
		}
		if !complete {
			return obj, false
		}
	}
}

func (sc *scanner) array(prefix string, out map[string]any) ([]any, bool) {
	arr := make([]any, 0)
	sc.i++
	for {
		sc.ws()
		if sc.eof() {
			return arr, false
		}
		switch sc.peek() {
		case ']':
			sc.i++
			return arr, true
		case ',':
			sc.i++
			continue
		}
		// Element members are not addressable by dotted path.
		v, ok, complete := sc.value(prefix, nil)
		if ok {
			arr = append(arr, v)
		}
		if !complete {
			return arr, false
		}
	}
}

// value scans one value. ok reports whether anything usable was read;
// complete reports whether the value ended before the input did.
func (sc *scanner) value(path string, out map[string]any) (v any, ok, complete bool) {
	switch c := sc.peek(); {
	case c == '"':
		s, closed := sc.str()
		return s, true, closed
	case c == '{':
		obj, closed := sc.object(path, out)
		return obj, true, closed
	case c == '[':
		arr, closed := sc.array(path, out)
		return arr, true, closed
	case c == '-' || (c >= '0' && c <= '9'):
		return sc.number()
	case c >= 'a' && c <= 'z':
		return sc.literal()
	}
	return nil, false, false
}

func (sc *scanner) number() (any, bool, bool) {
	start := sc.i
	for !sc.eof() && strings.IndexByte("+-0123456789.eE", sc.peek()) >= 0 {
		sc.i++
	}
	f, err := strconv.ParseFloat(sc.s[start:sc.i], 64)
	if err != nil {
		return nil, false, false
	}
	return f, true, !sc.eof()
}

func (sc *scanner) literal() (any, bool, bool) {
	start := sc.i
	for !sc.eof() && sc.peek() >= 'a' && sc.peek() <= 'z' {
		sc.i++
	}
	word := sc.s[start:sc.i]
	complete := !sc.eof()
	switch {
	case strings.HasPrefix("true", word):
		return true, true, complete && word == "true"
	case strings.HasPrefix("false", word):
		return false, true, complete && word == "false"
	case strings.HasPrefix("null", word):
		return nil, true, complete && word == "null"
	}
	return nil, false, false
}

// str decodes a string starting at the opening quote. For an unterminated
// string it returns everything decoded so far, dropping a trailing partial
// escape sequence.
func (sc *scanner) str() (string, bool) {
	sc.i++
	var b strings.Builder
	for !sc.eof() {
		c := sc.peek()
		switch {
		case c == '"':
			sc.i++
			return b.String(), true
		case c == '\\':
			r, n, ok := decodeEscape(sc.s[sc.i:])
			if !ok {
				sc.i = len(sc.s)
				return b.String(), false
			}
			b.WriteRune(r)
			sc.i += n
		default:
			if !utf8.FullRuneInString(sc.s[sc.i:]) {
				sc.i = len(sc.s)
				return b.String(), false
			}
			r, n := utf8.DecodeRuneInString(sc.s[sc.i:])
			b.WriteRune(r)
			sc.i += n
		}
	}
	return b.String(), false
}

// decodeEscape decodes the escape sequence at the start of s. ok is false
// when s ends before the sequence does.
func decodeEscape(s string) (r rune, n int, ok bool) {
	if len(s) < 2 {
		return 0, 0, false
	}
	switch s[1] {
	case '"', '\\', '/':
		return rune(s[1]), 2, true
	case 'b':
		return '\b', 2, true
	case 'f':
		return '\f', 2, true
	case 'n':
		return '\n', 2, true
	case 'r':
		return '\r', 2, true
	case 't':
		return '\t', 2, true
	case 'u':
		if len(s) < 6 {
			return 0, 0, false
		}
		v, err := strconv.ParseUint(s[2:6], 16, 16)
		if err != nil {
			return utf8.RuneError, 6, true
		}
		r = rune(v)
		if !utf16.IsSurrogate(r) {
			return r, 6, true
		}
		// A high surrogate needs its low half; wait for it if the input stops short.
		rest := s[6:]
		if len(rest) < 6 && (rest == "" || rest == `\` || strings.HasPrefix(rest, `\u`)) {
			return 0, 0, false
		}
		if strings.HasPrefix(rest, `\u`) {
			if lo, err := strconv.ParseUint(rest[2:6], 16, 16); err == nil {
				if pair := utf16.DecodeRune(r, rune(lo)); pair != utf8.RuneError {
					return pair, 12, true
				}
			}
		}
		return utf8.RuneError, 6, true
	}
	// Unknown escapes keep the escaped character.
	return rune(s[1]), 2, true
}
