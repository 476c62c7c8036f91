package llm

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// openaiStreamChunk is one SSE data payload of a streaming completion.
type openaiStreamChunk struct {
	ID      string               `json:"id"`
	Choices []openaiStreamChoice `json:"choices"`
}

type openaiStreamChoice struct {
	Delta        openaiStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openaiStreamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

const doneSentinel = "[DONE]"

// eventDecoder interprets wire-format lines. One decoder exists per stream;
// the logged* flags keep a flood of identical malformed frames down to a
// single log line per stream.
type eventDecoder struct {
	logger          *slog.Logger
	loggedParseErr  bool
	loggedNoContent bool
}

// decodeResult is the outcome of decoding one line.
type decodeResult struct {
	content  string
	hasChunk bool
	done     bool
}

// Decode applies the wire rules to one logical line:
// blank and comment lines are ignored; "[DONE]" (with or without the data
// field prefix) terminates the stream; "data:"-prefixed JSON payloads yield
// their delta content when present. A single malformed frame never aborts
// the stream.
func (d *eventDecoder) Decode(line string) decodeResult {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, ":") {
		return decodeResult{}
	}

	if line == doneSentinel {
		return decodeResult{done: true}
	}

	data, ok := strings.CutPrefix(line, "data:")
	if !ok {
		// Other SSE fields (event:, id:, retry:) carry nothing for us.
		return decodeResult{}
	}
	data = strings.TrimSpace(data)

	if data == doneSentinel {
		return decodeResult{done: true}
	}

	var chunk openaiStreamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		if !d.loggedParseErr {
			d.loggedParseErr = true
			d.logger.Warn("skipping malformed stream frame", "error", err)
		}
		return decodeResult{}
	}

	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
		// Role-only / metadata-only deltas are legitimate.
		if !d.loggedNoContent {
			d.loggedNoContent = true
			d.logger.Debug("stream frame carried no content", "id", chunk.ID)
		}
		return decodeResult{}
	}

	return decodeResult{content: chunk.Choices[0].Delta.Content, hasChunk: true}
}
