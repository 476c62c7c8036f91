package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gloss/internal/domain"
	"gloss/internal/infra/config"
	"gloss/internal/infra/logger"
)

func testClient(baseURL string) *Client {
	return NewClient(config.ProviderConfig{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Model:   "test-model",
	}, logger.Nop())
}

func collect(ch <-chan domain.StreamEvent) []domain.StreamEvent {
	var events []domain.StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func contents(events []domain.StreamEvent) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Kind == domain.EventChunk {
			b.WriteString(ev.Content)
		}
	}
	return b.String()
}

func terminal(t *testing.T, events []domain.StreamEvent) domain.StreamEvent {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events")
	}
	last := events[len(events)-1]
	if last.Kind == domain.EventChunk {
		t.Fatalf("stream did not terminate: %+v", last)
	}
	for _, ev := range events[:len(events)-1] {
		if ev.Kind != domain.EventChunk {
			t.Fatalf("terminal event %+v followed by more events", ev)
		}
	}
	return last
}

func sseHandler(frames ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, f := range frames {
			fmt.Fprint(w, f)
			flusher.Flush()
		}
	}
}

func chunkFrame(content string) string {
	return fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", content)
}

func TestStreamBasic(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		chunkFrame("Hello, "),
		chunkFrame("world"),
		"data: [DONE]\n\n",
	))
	defer srv.Close()

	events := collect(testClient(srv.URL).Stream(context.Background(), Request{
		Messages: []domain.Message{domain.UserMessage("explain")},
	}))

	if got := contents(events); got != "Hello, world" {
		t.Errorf("content = %q", got)
	}
	if last := terminal(t, events); last.Kind != domain.EventDone {
		t.Errorf("terminal = %+v, want Done", last)
	}
}

func TestStreamSendsAuthAndModel(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		buf := make([]byte, 4096)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		sseHandler("data: [DONE]\n\n")(w, r)
	}))
	defer srv.Close()

	collect(testClient(srv.URL).Stream(context.Background(), Request{
		Messages:  []domain.Message{domain.UserMessage("hi")},
		MaxTokens: 256,
	}))

	if gotAuth != "Bearer test-key" {
		t.Errorf("auth = %q", gotAuth)
	}
	for _, want := range []string{`"model":"test-model"`, `"stream":true`, `"max_tokens":256`} {
		if !strings.Contains(gotBody, want) {
			t.Errorf("request body missing %s: %s", want, gotBody)
		}
	}
}

func TestStreamMalformedFrameRecovery(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		chunkFrame("a"),
		"data: {broken\n\n",
		chunkFrame("b"),
		"data: [DONE]\n\n",
	))
	defer srv.Close()

	events := collect(testClient(srv.URL).Stream(context.Background(), Request{}))

	if got := contents(events); got != "ab" {
		t.Errorf("content = %q, want both well-formed frames", got)
	}
	if last := terminal(t, events); last.Kind != domain.EventDone {
		t.Errorf("terminal = %+v", last)
	}
}

func TestStreamNon200StructuredError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"model not found","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	events := collect(testClient(srv.URL).Stream(context.Background(), Request{}))

	last := terminal(t, events)
	if last.Kind != domain.EventError || last.Cancelled {
		t.Fatalf("terminal = %+v", last)
	}
	if !strings.Contains(last.Err, "model not found") {
		t.Errorf("error message %q should carry the structured body message", last.Err)
	}
}

func TestStreamNon200RawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream exploded")
	}))
	defer srv.Close()

	events := collect(testClient(srv.URL).Stream(context.Background(), Request{}))

	last := terminal(t, events)
	if !strings.Contains(last.Err, "upstream exploded") {
		t.Errorf("error = %q, want raw body text", last.Err)
	}
}

func TestStreamNon200EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	events := collect(testClient(srv.URL).Stream(context.Background(), Request{}))

	last := terminal(t, events)
	if !strings.Contains(last.Err, http.StatusText(http.StatusServiceUnavailable)) {
		t.Errorf("error = %q, want status phrase fallback", last.Err)
	}
}

func TestStreamFallbackNonStreamingBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"full answer"}}]}`)
	}))
	defer srv.Close()

	events := collect(testClient(srv.URL).Stream(context.Background(), Request{}))

	if got := contents(events); got != "full answer" {
		t.Errorf("content = %q, want recovered completion", got)
	}
	if n := len(events); n != 2 {
		t.Errorf("events = %d, want exactly one Chunk then Done", n)
	}
	if last := terminal(t, events); last.Kind != domain.EventDone {
		t.Errorf("terminal = %+v", last)
	}
}

func TestStreamAcceptsNon200Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, chunkFrame("ok")+"data: [DONE]\n\n")
	}))
	defer srv.Close()

	events := collect(testClient(srv.URL).Stream(context.Background(), Request{}))

	if got := contents(events); got != "ok" {
		t.Errorf("content = %q, want the streamed chunk", got)
	}
	if last := terminal(t, events); last.Kind != domain.EventDone {
		t.Errorf("terminal = %+v; any 2xx status is success", last)
	}
}

func TestStreamFallbackErrorObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"message":"quota exhausted"}}`)
	}))
	defer srv.Close()

	events := collect(testClient(srv.URL).Stream(context.Background(), Request{}))

	last := terminal(t, events)
	if last.Kind != domain.EventError || !strings.Contains(last.Err, "quota exhausted") {
		t.Errorf("terminal = %+v", last)
	}
}

func TestStreamEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	events := collect(testClient(srv.URL).Stream(context.Background(), Request{}))

	last := terminal(t, events)
	if last.Kind != domain.EventError || !strings.Contains(last.Err, "empty response") {
		t.Errorf("terminal = %+v", last)
	}
}

func TestStreamNoContent(t *testing.T) {
	// Stream ends cleanly with zero chunks and a body that is neither a
	// completion object nor an error object.
	srv := httptest.NewServer(sseHandler("data: [DONE]\n\n"))
	defer srv.Close()

	events := collect(testClient(srv.URL).Stream(context.Background(), Request{}))

	last := terminal(t, events)
	if last.Kind != domain.EventError || !strings.Contains(last.Err, "no content") {
		t.Errorf("terminal = %+v", last)
	}
}

func TestStreamCancelMidStream(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, chunkFrame("first"))
		flusher.Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	ch := testClient(srv.URL).Stream(ctx, Request{})

	first := <-ch
	if first.Kind != domain.EventChunk || first.Content != "first" {
		t.Fatalf("first event = %+v", first)
	}

	cancel()

	var after []domain.StreamEvent
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				// No chunk may follow the cancellation; at most one
				// terminal cancelled error precedes the close.
				for _, ev := range after {
					if ev.Kind == domain.EventChunk {
						t.Errorf("chunk emitted after cancel: %+v", ev)
					}
					if ev.Kind == domain.EventError && !ev.Cancelled {
						t.Errorf("cancellation surfaced as fault: %+v", ev)
					}
				}
				if len(after) > 1 {
					t.Errorf("%d events after cancel, want at most one terminal", len(after))
				}
				return
			}
			after = append(after, ev)
		case <-deadline:
			t.Fatal("stream did not terminate after cancellation")
		}
	}
}

func TestStreamTimeoutInterruptsBlockedRead(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, chunkFrame("partial"))
		flusher.Flush()
		// Stop sending without closing the connection.
		<-release
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	events := collect(testClient(srv.URL).Stream(context.Background(), Request{
		Timeout: 150 * time.Millisecond,
	}))

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout did not interrupt blocked read (took %v)", elapsed)
	}
	last := terminal(t, events)
	if last.Kind != domain.EventError || !last.Cancelled {
		t.Errorf("terminal = %+v, want cancelled timeout error", last)
	}
}

func TestStreamConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening

	events := collect(testClient(srv.URL).Stream(context.Background(), Request{}))

	last := terminal(t, events)
	if last.Kind != domain.EventError || last.Cancelled {
		t.Fatalf("terminal = %+v", last)
	}
	if !strings.Contains(last.Err, "network failure") {
		t.Errorf("error = %q, want network failure", last.Err)
	}
}

func TestStreamFrameSplitAcrossReads(t *testing.T) {
	// One SSE frame deliberately flushed in two halves, split inside a
	// multibyte rune of the JSON payload.
	frame := chunkFrame("héllo wörld")
	cut := strings.Index(frame, "é") + 1 // inside the 2-byte rune

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, frame[:cut])
		flusher.Flush()
		time.Sleep(20 * time.Millisecond)
		fmt.Fprint(w, frame[cut:])
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	events := collect(testClient(srv.URL).Stream(context.Background(), Request{}))

	if got := contents(events); got != "héllo wörld" {
		t.Errorf("content = %q", got)
	}
}
