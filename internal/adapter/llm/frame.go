package llm

import (
	"bytes"
	"strings"
)

// frameBuffer splits a raw byte stream into logical wire-format lines. It
// carries at most one partial trailing line between feeds, so lines split at
// arbitrary byte boundaries (including mid-UTF-8-rune) reassemble correctly:
// splitting happens on the LF byte and the carry is raw bytes, never a
// partially decoded string.
type frameBuffer struct {
	carry  []byte
	bytes  int64 // total bytes fed
	frames int64 // total complete lines produced
}

// Feed appends p and returns every complete line now available, in order.
// Trailing CR is trimmed. The final unterminated fragment, if any, stays in
// the carry until the next Feed or Flush.
func (fb *frameBuffer) Feed(p []byte) []string {
	fb.bytes += int64(len(p))
	fb.carry = append(fb.carry, p...)

	var lines []string
	for {
		i := bytes.IndexByte(fb.carry, '\n')
		if i < 0 {
			return lines
		}
		line := strings.TrimSuffix(string(fb.carry[:i]), "\r")
		fb.carry = fb.carry[i+1:]
		fb.frames++
		lines = append(lines, line)
	}
}

// Flush hands out the remaining carry as a final (possibly incomplete) line.
// The second return is false when the carry is empty. The buffer is cleared
// either way, so Flush yields a given fragment at most once.
func (fb *frameBuffer) Flush() (string, bool) {
	if len(fb.carry) == 0 {
		return "", false
	}
	line := strings.TrimSuffix(string(fb.carry), "\r")
	fb.carry = nil
	fb.frames++
	return line, true
}
