package tools

import (
	"fmt"
	"sort"

	"phobos.org.uk/toolstream/internal/stream"
)

var builtinParsers = map[string]stream.ParserFunc{
	IdleToolName:               stream.Typed(ParseIdleArgs),
	DoneToolName:               stream.Typed(ParseDoneArgs),
	RespondWithoutAnalysisName: stream.Typed(ParseRespondArgs),
	SequentialThinkingName:     stream.Typed(ParseThinkingArgs),
	ExecuteSQLName:             stream.Typed(ParseSQLArgs),
	CreateMetricsName:          stream.Typed(ParseMetricsArgs),
}

// StreamingParserNames lists the tools with built-in streaming parsers.
func StreamingParserNames() []string {
	names := make([]string, 0, len(builtinParsers))
	for name := range builtinParsers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterStreamingParsers registers the named built-in parsers on c, or all
// of them when names is empty.
func RegisterStreamingParsers(c *stream.Coordinator, names ...string) error {
	if len(names) == 0 {
		names = StreamingParserNames()
	}
	for _, name := range names {
		if _, ok := builtinParsers[name]; !ok {
			return fmt.Errorf("no streaming parser for tool %q", name)
		}
	}
	for _, name := range names {
		c.RegisterParser(name, builtinParsers[name])
	}
	return nil
}
