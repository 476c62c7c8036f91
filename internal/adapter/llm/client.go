package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"gloss/internal/domain"
	"gloss/internal/infra/config"
	"gloss/internal/infra/tracer"
)

const completionsPath = "/chat/completions"

// Request is one streaming completion call.
type Request = domain.CompletionRequest

// Client issues streaming requests against an OpenAI-compatible completion
// endpoint and turns the SSE wire into a lazy sequence of StreamEvents.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates a streaming client with pooled transport.
func NewClient(cfg config.ProviderConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  NewHTTPClient(cfg),
		logger:  logger,
	}
}

// --- wire types ---

type openaiRequest struct {
	Model       string           `json:"model"`
	Messages    []domain.Message `json:"messages"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	Stream      bool             `json:"stream"`
}

// openaiCompletion is the non-streaming completion shape used by the
// fallback parse when a server ignores the stream flag.
type openaiCompletion struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Stream issues one streaming request. The returned channel is single-pass
// and non-restartable: zero or more Chunk events in arrival order, then
// exactly one Done or Error, then the channel closes. Cancelling ctx (or the
// composed timeout firing) interrupts an in-flight body read.
func (c *Client) Stream(ctx context.Context, req Request) <-chan domain.StreamEvent {
	ch := make(chan domain.StreamEvent, 16)
	go func() {
		defer close(ch)
		c.stream(ctx, req, ch)
	}()
	return ch
}

func (c *Client) stream(ctx context.Context, req Request, ch chan<- domain.StreamEvent) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	ctx, span := tracer.StartSpan(ctx, "llm.stream",
		trace.WithAttributes(tracer.StringAttr("llm.model", model)),
	)
	defer span.End()

	// The caller's cancellation and the request timeout are two independent
	// abort sources; deriving the timeout context from ctx merges them, and
	// whichever fires first aborts the body read.
	cancel := context.CancelFunc(func() {})
	if req.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()

	payload := openaiRequest{
		Model:    model,
		Messages: req.Messages,
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		payload.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		payload.Temperature = &req.Temperature
	}

	body, err := json.Marshal(payload)
	if err != nil {
		c.fail(ctx, ch, span, domain.ErrorEvent(fmt.Sprintf("marshal request: %v", err), false))
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		c.fail(ctx, ch, span, domain.ErrorEvent(fmt.Sprintf("create request: %v", err), false))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.fail(ctx, ch, span, streamFault(ctx, err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.fail(ctx, ch, span, domain.ErrorEvent(serviceError(resp.StatusCode, respBody).Error(), false))
		return
	}

	c.consume(ctx, resp.Body, ch, span)
}

// consume drives the frame buffer and event decoder over the response body.
func (c *Client) consume(ctx context.Context, body io.Reader, ch chan<- domain.StreamEvent, span trace.Span) {
	fb := &frameBuffer{}
	dec := &eventDecoder{logger: c.logger}

	// Until the first chunk is decoded the raw body is kept verbatim: a
	// server that ignored the stream flag returns one JSON object instead
	// of an event stream, and that object is recovered at stream end.
	var raw bytes.Buffer
	chunks := 0

	handle := func(line string) (stop bool) {
		res := dec.Decode(line)
		if res.done {
			c.finish(ctx, ch, span, fb, chunks, raw.Bytes())
			return true
		}
		if res.hasChunk {
			chunks++
			if !c.emit(ctx, ch, domain.Chunk(res.content)) {
				return true
			}
		}
		return false
	}

	buf := make([]byte, 4096)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if chunks == 0 && raw.Len() < maxResponseBody {
				raw.Write(buf[:n])
			}
			for _, line := range fb.Feed(buf[:n]) {
				if handle(line) {
					return
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				if line, ok := fb.Flush(); ok {
					if handle(line) {
						return
					}
				}
				c.finish(ctx, ch, span, fb, chunks, raw.Bytes())
				return
			}
			c.fail(ctx, ch, span, streamFault(ctx, readErr))
			return
		}
	}
}

// finish emits the terminal event for a naturally ended stream, applying the
// fallback parse when no chunk was ever decoded.
func (c *Client) finish(ctx context.Context, ch chan<- domain.StreamEvent, span trace.Span, fb *frameBuffer, chunks int, raw []byte) {
	if chunks == 0 {
		if ev, content := c.fallback(raw); ev != nil {
			c.fail(ctx, ch, span, *ev)
			return
		} else if content != "" {
			chunks++
			if !c.emit(ctx, ch, domain.Chunk(content)) {
				return
			}
		}
	}

	c.logger.Debug("stream completed",
		"bytes", fb.bytes,
		"frames", fb.frames,
		"chunks", chunks,
	)
	span.SetAttributes(tracer.IntAttr("llm.chunks", chunks))
	tracer.SetOK(span)
	c.emit(ctx, ch, domain.Done())
}

// fallback inspects the accumulated raw body of a zero-chunk stream. It
// returns a terminal error event, or the recovered content of a well-formed
// non-streaming completion object.
func (c *Client) fallback(raw []byte) (*domain.StreamEvent, string) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		ev := domain.ErrorEvent(domain.ErrEmptyResponse.Error(), false)
		return &ev, ""
	}

	var completion openaiCompletion
	if err := json.Unmarshal(trimmed, &completion); err == nil &&
		len(completion.Choices) > 0 && completion.Choices[0].Message.Content != "" {
		c.logger.Debug("recovered non-streaming completion body", "size", len(trimmed))
		return nil, completion.Choices[0].Message.Content
	}

	var structured openaiErrorBody
	if err := json.Unmarshal(trimmed, &structured); err == nil && structured.Error.Message != "" {
		ev := domain.ErrorEvent(fmt.Sprintf("%s: %s", domain.ErrService, structured.Error.Message), false)
		return &ev, ""
	}

	ev := domain.ErrorEvent(domain.ErrNoContent.Error(), false)
	return &ev, ""
}

// fail records the error on the span and emits one terminal error event.
// Cancellation is an expected outcome; it is logged but not traced as fault.
func (c *Client) fail(ctx context.Context, ch chan<- domain.StreamEvent, span trace.Span, ev domain.StreamEvent) {
	if ev.Kind == domain.EventError && !ev.Cancelled {
		tracer.RecordError(span, errors.New(ev.Err))
		c.logger.Warn("stream failed", "error", ev.Err)
	} else if ev.Cancelled {
		c.logger.Debug("stream cancelled", "reason", ev.Err)
	}
	c.emit(ctx, ch, ev)
}

// emit delivers one event, bailing out when ctx is already cancelled. A
// terminal cancelled-error event is still delivered best-effort so the
// consumer observes exactly one terminal event.
func (c *Client) emit(ctx context.Context, ch chan<- domain.StreamEvent, ev domain.StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		if ev.Kind == domain.EventError && ev.Cancelled {
			select {
			case ch <- ev:
			default:
			}
		}
		return false
	}
}

// streamFault classifies a transport-level failure. Timeout and explicit
// cancellation both count as cancelled: they are expected outcomes of
// superseding or bounding a request, not service faults.
func streamFault(ctx context.Context, err error) domain.StreamEvent {
	switch {
	case errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled:
		return domain.ErrorEvent(domain.ErrCancelled.Error(), true)
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded:
		return domain.ErrorEvent("request timed out", true)
	default:
		return domain.ErrorEvent(fmt.Sprintf("%s: %v", domain.ErrNetwork, err), false)
	}
}
