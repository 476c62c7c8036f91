package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"gloss/internal/domain"
	"gloss/internal/infra/config"
)

// Streamer is the streaming completion contract consumed by the session
// layer. *Client and *BreakerClient both satisfy it.
type Streamer interface {
	Stream(ctx context.Context, req Request) <-chan domain.StreamEvent
}

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// NewStreamer builds the streaming client for cfg, wrapped with circuit
// breaker protection unless the breaker is disabled.
func NewStreamer(cfg config.ProviderConfig, logger *slog.Logger) Streamer {
	client := NewClient(cfg, logger)
	if !cfg.Breaker.Enabled {
		return client
	}
	return NewBreakerClient(client, cfg.Breaker, logger)
}

// BreakerClient wraps a Streamer with circuit breaker protection. When
// stream initiation fails repeatedly, the circuit opens and subsequent calls
// fail fast without reaching the service. Failures after the first chunk do
// not trip the breaker; they pass through on the event channel. Cancelled
// streams never count as failures.
type BreakerClient struct {
	inner   Streamer
	breaker *gobreaker.CircuitBreaker[domain.StreamEvent]
	logger  *slog.Logger
}

// NewBreakerClient wraps inner with a circuit breaker.
// Zero-valued cfg fields fall back to defaults.
func NewBreakerClient(inner Streamer, cfg config.BreakerConfig, logger *slog.Logger) *BreakerClient {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[domain.StreamEvent](gobreaker.Settings{
		Name:        "llm:completions",
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &BreakerClient{inner: inner, breaker: cb, logger: logger}
}

// Stream implements Streamer. Initiation, meaning everything up to the
// first event, runs through the breaker; the rest of the stream is
// forwarded untouched.
func (b *BreakerClient) Stream(ctx context.Context, req Request) <-chan domain.StreamEvent {
	ch := make(chan domain.StreamEvent, 16)
	go func() {
		defer close(ch)

		var inner <-chan domain.StreamEvent
		first, err := b.breaker.Execute(func() (domain.StreamEvent, error) {
			inner = b.inner.Stream(ctx, req)
			ev, ok := <-inner
			if !ok {
				return domain.Done(), nil
			}
			if ev.Kind == domain.EventError && !ev.Cancelled {
				return ev, errors.New(ev.Err)
			}
			return ev, nil
		})

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			ch <- domain.ErrorEvent("completion service circuit open: "+err.Error(), false)
			return
		}

		ch <- first
		if first.Kind != domain.EventChunk {
			return
		}
		for ev := range inner {
			ch <- ev
		}
	}()
	return ch
}

// State returns the current circuit breaker state for monitoring.
func (b *BreakerClient) State() gobreaker.State {
	return b.breaker.State()
}

// Compile-time interface checks.
var (
	_ Streamer         = (*Client)(nil)
	_ Streamer         = (*BreakerClient)(nil)
	_ domain.Completer = (*BreakerClient)(nil)
)
