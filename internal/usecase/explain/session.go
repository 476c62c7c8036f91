package explain

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"gloss/internal/domain"
	"gloss/internal/infra/config"
	"gloss/internal/infra/tracer"
	"gloss/internal/render"
)

// Display is the output port for one explanation panel. Implementations
// must tolerate being called from the session's worker goroutine.
type Display interface {
	// ShowMarkup replaces the panel content with sanitized markup.
	ShowMarkup(markup string)
	// ShowState reports a lifecycle change.
	ShowState(state domain.PanelState)
	// ShowError reports a terminal failure. Cancellations never reach it.
	ShowError(message string)
}

// Request is one explanation to stream into the panel.
type Request struct {
	Messages     []domain.Message
	AllowedLinks domain.AllowedLinkSet
}

// Session owns a single explanation panel: at most one in-flight completion
// request, debounced intake, rate-limited dispatch, and coalesced
// progressive rendering. All exported methods are safe for concurrent use.
type Session struct {
	completer domain.Completer
	renderer  *render.Renderer
	display   Display
	logger    *slog.Logger

	provider    config.ProviderConfig
	debounce    time.Duration
	renderDelay time.Duration
	limiter     *rate.Limiter

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	state      domain.PanelState
	pending    *time.Timer
}

func NewSession(completer domain.Completer, renderer *render.Renderer, display Display, provider config.ProviderConfig, cfg config.SessionConfig, logger *slog.Logger) *Session {
	return &Session{
		completer:   completer,
		renderer:    renderer,
		display:     display,
		logger:      logger,
		provider:    provider,
		debounce:    cfg.Debounce,
		renderDelay: cfg.RenderDelay,
		limiter:     rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		state:       domain.StateIdle,
	}
}

// Explain supersedes any in-flight or pending request and schedules req
// after the debounce window. It returns immediately; results arrive through
// the Display port.
func (s *Session) Explain(ctx context.Context, req Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	gen := s.generation
	s.cancelLocked()
	if s.pending != nil {
		s.pending.Stop()
	}
	s.pending = time.AfterFunc(s.debounce, func() {
		s.dispatch(ctx, gen, req)
	})
}

// Cancel aborts the in-flight or pending request, if any, and settles the
// panel back to idle. No-op when nothing is active.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.cancelLocked()
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	if s.state != domain.StateIdle {
		s.transitionLocked(domain.StateIdle)
	}
}

// State returns the panel's current lifecycle state.
func (s *Session) State() domain.PanelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) cancelLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Session) dispatch(ctx context.Context, gen uint64, req Request) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	rctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.transitionLocked(domain.StateLoading)
	s.mu.Unlock()

	go s.run(rctx, gen, req)
}

// run drives one completion stream to its terminal event. It is the only
// goroutine touching the accumulation buffer, so chunk appends and render
// snapshots need no locking.
func (s *Session) run(ctx context.Context, gen uint64, req Request) {
	logger := s.logger.With("request_id", uuid.NewString())

	if err := s.limiter.Wait(ctx); err != nil {
		logger.Debug("request superseded before dispatch", "error", err)
		return
	}

	logger.Debug("dispatching completion request", "messages", len(req.Messages))
	events := s.completer.Stream(ctx, domain.CompletionRequest{
		Messages:    req.Messages,
		Timeout:     s.provider.Timeout,
		MaxTokens:   s.provider.MaxTokens,
		Temperature: s.provider.Temperature,
	})

	var buf strings.Builder
	var renderC <-chan time.Time
	streaming := false

	for {
		select {
		case <-renderC:
			renderC = nil
			s.present(ctx, gen, buf.String(), req.AllowedLinks)

		case ev, ok := <-events:
			if !ok {
				// Producer closed without a terminal event. Treat as done.
				s.finish(ctx, gen, logger, &buf, req, domain.Done())
				return
			}
			switch ev.Kind {
			case domain.EventChunk:
				buf.WriteString(ev.Content)
				if !streaming {
					streaming = true
					s.transition(gen, domain.StateStreaming)
				}
				if renderC == nil {
					renderC = time.After(s.renderDelay)
				}
			default:
				s.finish(ctx, gen, logger, &buf, req, ev)
				return
			}
		}
	}
}

// finish applies the terminal event: one forced final render of the full
// buffer, then the settled state.
func (s *Session) finish(ctx context.Context, gen uint64, logger *slog.Logger, buf *strings.Builder, req Request, ev domain.StreamEvent) {
	switch {
	case ev.Kind == domain.EventDone:
		s.present(ctx, gen, buf.String(), req.AllowedLinks)
		s.transition(gen, domain.StateReady)
		logger.Debug("completion finished", "chars", buf.Len())

	case ev.Cancelled:
		// Superseded or aborted by the user. Never surfaces as an error.
		s.transition(gen, domain.StateIdle)
		logger.Debug("completion cancelled")

	default:
		// Keep whatever streamed before the failure visible.
		if buf.Len() > 0 {
			s.present(ctx, gen, buf.String(), req.AllowedLinks)
		}
		// Message before the state change: displays may treat the Error
		// state as terminal.
		s.showError(gen, ev.Err)
		s.transition(gen, domain.StateError)
		logger.Warn("completion failed", "error", ev.Err)
	}
}

// present renders the accumulated text and publishes it, unless the request
// has been superseded. Rendering happens outside the session lock.
func (s *Session) present(ctx context.Context, gen uint64, text string, allowed domain.AllowedLinkSet) {
	s.mu.Lock()
	stale := gen != s.generation
	s.mu.Unlock()
	if stale {
		return
	}

	_, span := tracer.StartSpan(ctx, "session.render",
		trace.WithAttributes(
			tracer.IntAttr("chars", len(text)),
			tracer.IntAttr("allowed_links", len(allowed)),
		))
	markup := s.renderer.RenderMarkdown(text, render.Options{AllowedLinks: allowed})
	tracer.SetOK(span)
	span.End()

	s.mu.Lock()
	if gen == s.generation {
		s.display.ShowMarkup(markup)
	}
	s.mu.Unlock()
}

func (s *Session) transition(gen uint64, next domain.PanelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	s.transitionLocked(next)
}

func (s *Session) transitionLocked(next domain.PanelState) {
	if !s.state.CanTransition(next) {
		s.logger.Warn("rejected panel state transition",
			"from", s.state.String(), "to", next.String())
		return
	}
	s.state = next
	s.display.ShowState(next)
}

func (s *Session) showError(gen uint64, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	s.display.ShowError(message)
}
