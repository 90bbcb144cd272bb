package stream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
)

// maxLineSize bounds a single NDJSON line. Deltas are small but a recorded
// argsTextDelta can carry a whole document.
const maxLineSize = 4 * 1024 * 1024

// Replay feeds a recorded NDJSON chunk stream through c, one chunk per line,
// calling emit for every result. Blank lines and non-object lines are
// skipped. The first error from decoding, parsing or emit ends the replay, as
// does cancelling ctx.
func Replay(ctx context.Context, r io.Reader, c *Coordinator, emit func(*StreamingResult) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return err
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		chunk, err := DecodeChunk(line)
		if err != nil {
			return fmt.Errorf("line %d: decode chunk: %w", lineNo, err)
		}

		result, err := c.ProcessChunk(chunk)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if result == nil || emit == nil {
			continue
		}
		if err := emit(result); err != nil {
			return fmt.Errorf("line %d: emit: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read chunk stream: %w", err)
	}
	return nil
}
